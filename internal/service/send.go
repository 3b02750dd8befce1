package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/mailer"
	"lnemail/backend/internal/monitoring"
	"lnemail/backend/internal/storage"
)

// SendService 处理按次付费的外发邮件: 发票签发、结算对账、
// 恰好一次的 SMTP 提交与失败重试。
type SendService struct {
	store     storage.Store
	gateway   InvoiceGateway
	transport MailTransport
	queue     TaskQueue
	notifier  SettlementNotifier
	pricing   config.PricingConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewSendService 创建外发服务，notifier 可为 nil
func NewSendService(
	store storage.Store,
	gateway InvoiceGateway,
	transport MailTransport,
	queue TaskQueue,
	notifier SettlementNotifier,
	pricing config.PricingConfig,
	log *zap.Logger,
) *SendService {
	return &SendService{
		store:     store,
		gateway:   gateway,
		transport: transport,
		queue:     queue,
		notifier:  notifier,
		pricing:   pricing,
		log:       log,
		now:       time.Now,
	}
}

// SendRequest 是外发邮件请求体
type SendRequest struct {
	Recipient   string                   `json:"recipient" binding:"required"`
	Subject     string                   `json:"subject"`
	Body        string                   `json:"body" binding:"required"`
	InReplyTo   string                   `json:"in_reply_to"`
	References  string                   `json:"references"`
	Attachments []domain.EmailAttachment `json:"attachments"`
}

// SendInvoice 是外发请求的响应: 支付后邮件才会被投递
type SendInvoice struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	PriceSats      int64     `json:"price_sats"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SendStatusInfo 是外发状态查询的响应。
// Detail 只携带概括性描述，内部投递错误不对外暴露。
type SendStatusInfo struct {
	PaymentHash    string                `json:"payment_hash"`
	PaymentStatus  domain.PaymentStatus  `json:"payment_status"`
	DeliveryStatus domain.DeliveryStatus `json:"delivery_status"`
	Recipient      string                `json:"recipient"`
	Subject        string                `json:"subject"`
	CreatedAt      time.Time             `json:"created_at"`
	SentAt         *time.Time            `json:"sent_at,omitempty"`
	RetryCount     int                   `json:"retry_count"`
	Detail         string                `json:"detail,omitempty"`
}

// RecentSend 是最近外发列表中的一项
type RecentSend struct {
	Recipient      string                `json:"recipient"`
	Subject        string                `json:"subject"`
	PaymentStatus  domain.PaymentStatus  `json:"payment_status"`
	DeliveryStatus domain.DeliveryStatus `json:"delivery_status"`
	CreatedAt      time.Time             `json:"created_at"`
	SentAt         *time.Time            `json:"sent_at,omitempty"`
}

// RequestSend 校验请求并签发一张外发发票。
//
// 附件在签发前完整解码校验，超限或编码损坏直接拒绝，不产生发票。
func (s *SendService) RequestSend(ctx context.Context, account *domain.EmailAccount, req SendRequest) (*SendInvoice, error) {
	now := s.now()
	if !account.IsActive(now) {
		return nil, ErrAccountNotActive
	}

	if err := domain.ValidateSendRequest(req.Recipient, req.Subject, req.Body); err != nil {
		return nil, err
	}
	if _, err := domain.DecodeAttachments(req.Attachments); err != nil {
		return nil, err
	}
	attachmentsJSON, err := domain.MarshalAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}

	memo := fmt.Sprintf("Send email from %s to %s", account.EmailAddress, req.Recipient)
	invoice, err := s.gateway.CreateInvoice(ctx, s.pricing.SendPriceSats, memo)
	if err != nil {
		return nil, fmt.Errorf("create send invoice: %w", err)
	}

	record := &domain.PendingOutgoingEmail{
		SenderEmail:     account.EmailAddress,
		Recipient:       req.Recipient,
		Subject:         req.Subject,
		Body:            req.Body,
		InReplyTo:       req.InReplyTo,
		References:      req.References,
		AttachmentsJSON: attachmentsJSON,
		PaymentHash:     invoice.PaymentHash,
		PaymentRequest:  invoice.PaymentRequest,
		PriceSats:       s.pricing.SendPriceSats,
		Status:          domain.PaymentPending,
		DeliveryStatus:  domain.DeliveryPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(domain.SendInvoiceTTL),
	}
	if err := s.store.CreateOutgoingEmail(record); err != nil {
		return nil, err
	}

	s.scheduleReconcile(settlementPollDelay, invoice.PaymentHash)

	s.log.Info("外发发票已签发",
		zap.String("sender", account.EmailAddress),
		zap.String("payment_hash", invoice.PaymentHash))

	return &SendInvoice{
		PaymentHash:    invoice.PaymentHash,
		PaymentRequest: invoice.PaymentRequest,
		PriceSats:      s.pricing.SendPriceSats,
		ExpiresAt:      record.ExpiresAt,
	}, nil
}

// scheduleReconcile 延迟入队一次对账
func (s *SendService) scheduleReconcile(delay time.Duration, hash string) {
	s.queue.EnqueueAfter(delay, func(ctx context.Context) {
		if err := s.ReconcileSend(ctx, hash); err != nil {
			s.log.Warn("外发对账失败", zap.String("payment_hash", hash), zap.Error(err))
		}
	})
}

// ReconcileSend 对账一笔外发支付并在需要时尝试投递。
//
// 幂等: 终态记录（已投递、发票过期、永久失败）直接返回。
// 支付确认立即落库，与投递结果解耦; 发票 TTL 内未结算的记录
// 继续轮询，TTL 已过则标记 expired，之后即使付款也不再投递。
func (s *SendService) ReconcileSend(ctx context.Context, hash string) error {
	record, err := s.store.GetOutgoingByPaymentHash(hash)
	if err != nil {
		return err
	}

	if record.IsDelivered() ||
		record.Status == domain.PaymentExpired ||
		record.Status == domain.PaymentFailed {
		return nil
	}

	if record.Status == domain.PaymentPending {
		// TTL 先于结算判定: TTL 已过的记录无条件作废，
		// 即使网关在同一时刻报告已结算也不再投递
		if record.InvoiceExpired(s.now()) {
			record.Status = domain.PaymentExpired
			if err := s.store.UpdateOutgoingEmail(record); err != nil {
				return err
			}
			s.log.Info("外发发票已过期", zap.String("payment_hash", hash))
			return nil
		}

		settled, err := s.gateway.IsSettled(ctx, hash)
		if err != nil {
			// 节点瞬时不可用不改变记录状态，稍后重试
			s.scheduleReconcile(settlementPollDelay, hash)
			return fmt.Errorf("lookup invoice %s: %w", hash, err)
		}

		if !settled {
			s.scheduleReconcile(settlementPollDelay, hash)
			return nil
		}

		// 只翻转支付状态: 整记录更新会覆盖并发对账写入的投递字段
		if err := s.store.MarkOutgoingPaid(hash); err != nil {
			return err
		}
		record.Status = domain.PaymentPaid
		monitoring.PaymentsSettled.WithLabelValues("send").Inc()
		s.notify(hash, "paid")
	}

	return s.deliver(ctx, record)
}

// deliver 尝试一次 SMTP 投递。
//
// 先通过条件更新抢占 sent 标记再提交 SMTP: 并发对账中至多一方
// 能抢到标记，因而至多提交一次。提交失败时撤回标记、记录失败
// 并按退避表排期重试。
func (s *SendService) deliver(ctx context.Context, record *domain.PendingOutgoingEmail) error {
	if record.DeliveryStatus == domain.DeliverySent {
		return nil
	}

	account, err := s.store.GetAccountByAddress(record.SenderEmail)
	if err != nil || account.EmailPassword == "" {
		return s.failPermanently(record, "sender mailbox unavailable")
	}

	meta, err := domain.UnmarshalAttachments(record.AttachmentsJSON)
	if err != nil {
		return s.failPermanently(record, "corrupt attachment payload")
	}
	attachments, err := domain.DecodeAttachments(meta)
	if err != nil {
		return s.failPermanently(record, "corrupt attachment payload")
	}

	now := s.now()
	claimed, err := s.store.MarkOutgoingSent(record.PaymentHash, now)
	if err != nil {
		return err
	}
	if !claimed {
		// 另一次并发对账已经在投递
		return nil
	}

	msg := mailer.OutgoingMessage{
		From:        record.SenderEmail,
		Recipient:   record.Recipient,
		Subject:     record.Subject,
		Body:        record.Body,
		InReplyTo:   record.InReplyTo,
		References:  record.References,
		Attachments: attachments,
	}

	if err := s.transport.Send(ctx, account.EmailPassword, msg); err != nil {
		failedAt := s.now()
		if markErr := s.store.MarkOutgoingDeliveryFailed(record.PaymentHash, err.Error(), failedAt); markErr != nil {
			return markErr
		}
		if statsErr := s.store.RecordSendOutcome(domain.MonthKey(failedAt), false, 0); statsErr != nil {
			s.log.Warn("发送统计更新失败", zap.Error(statsErr))
		}

		monitoring.DeliveryFailures.Inc()
		delay := domain.RetryDelay(record.RetryCount + 1)
		s.scheduleReconcile(delay, record.PaymentHash)
		s.log.Warn("投递失败，已排期重试",
			zap.String("payment_hash", record.PaymentHash),
			zap.Int("retry_count", record.RetryCount+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		return nil
	}

	if statsErr := s.store.RecordSendOutcome(domain.MonthKey(now), true, record.PriceSats); statsErr != nil {
		s.log.Warn("发送统计更新失败", zap.Error(statsErr))
	}
	monitoring.EmailsDelivered.Inc()
	monitoring.RevenueSats.WithLabelValues("send").Add(float64(record.PriceSats))
	s.notify(record.PaymentHash, "sent")
	s.log.Info("邮件已投递",
		zap.String("sender", record.SenderEmail),
		zap.String("payment_hash", record.PaymentHash))
	return nil
}

// failPermanently 记录一次不可重试的投递失败，不进入退避排期
func (s *SendService) failPermanently(record *domain.PendingOutgoingEmail, reason string) error {
	s.log.Error("投递遇到不可重试错误",
		zap.String("payment_hash", record.PaymentHash),
		zap.String("reason", reason))
	return s.store.MarkOutgoingDeliveryFailed(record.PaymentHash, reason, s.now())
}

// SendStatus 查询一笔外发的支付与投递状态
func (s *SendService) SendStatus(ctx context.Context, hash string) (*SendStatusInfo, error) {
	record, err := s.store.GetOutgoingByPaymentHash(hash)
	if err != nil {
		return nil, err
	}

	info := &SendStatusInfo{
		PaymentHash:    record.PaymentHash,
		PaymentStatus:  record.Status,
		DeliveryStatus: record.DeliveryStatus,
		Recipient:      record.Recipient,
		Subject:        record.Subject,
		CreatedAt:      record.CreatedAt,
		SentAt:         record.SentAt,
		RetryCount:     record.RetryCount,
	}
	if record.DeliveryStatus == domain.DeliveryFailed {
		info.Detail = "delivery failed, retry scheduled"
	}
	return info, nil
}

// ListRecentSends 列出账户最近的外发记录，最多 10 条
func (s *SendService) ListRecentSends(account *domain.EmailAccount) ([]RecentSend, error) {
	records, err := s.store.ListRecentSends(account.EmailAddress, 10)
	if err != nil {
		return nil, err
	}

	sends := make([]RecentSend, 0, len(records))
	for _, record := range records {
		sends = append(sends, RecentSend{
			Recipient:      record.Recipient,
			Subject:        record.Subject,
			PaymentStatus:  record.Status,
			DeliveryStatus: record.DeliveryStatus,
			CreatedAt:      record.CreatedAt,
			SentAt:         record.SentAt,
		})
	}
	return sends, nil
}

// RecoverUnfinished 在进程启动时重新入队回溯窗口内的未完结记录:
// 投递失败的按退避延迟排期，已支付但从未尝试投递的立即对账。
func (s *SendService) RecoverUnfinished(ctx context.Context) {
	since := s.now().Add(-domain.RecoveryWindow)

	failed, err := s.store.ListFailedDeliveries(since)
	if err != nil {
		s.log.Error("列举投递失败记录失败", zap.Error(err))
	} else {
		for _, record := range failed {
			s.scheduleReconcile(record.NextRetryDelay(), record.PaymentHash)
		}
	}

	undelivered, err := s.store.ListPaidUndelivered(since)
	if err != nil {
		s.log.Error("列举未投递记录失败", zap.Error(err))
	} else {
		for _, record := range undelivered {
			s.scheduleReconcile(0, record.PaymentHash)
		}
	}

	if len(failed) > 0 || len(undelivered) > 0 {
		s.log.Info("启动恢复已重新入队外发记录",
			zap.Int("failed", len(failed)),
			zap.Int("undelivered", len(undelivered)))
	}
}

// ExpireStaleSends 将发票 TTL 已过且仍未支付的记录标记为 expired。
// 由调度器每小时执行。
func (s *SendService) ExpireStaleSends(ctx context.Context) {
	count, err := s.store.ExpireStaleOutgoing(s.now())
	if err != nil {
		s.log.Error("清扫过期外发发票失败", zap.Error(err))
		return
	}
	if count > 0 {
		s.log.Info("已标记过期外发发票", zap.Int("count", count))
	}
}

// PurgeOldSends 删除超过保留期的外发记录。由调度器每日执行。
func (s *SendService) PurgeOldSends(ctx context.Context) {
	count, err := s.store.DeleteOutgoingOlderThan(s.now().Add(-domain.SendRetention))
	if err != nil {
		s.log.Error("清理外发历史失败", zap.Error(err))
		return
	}
	if count > 0 {
		s.log.Info("已清理外发历史", zap.Int("count", count))
	}
}

// MonthlyStats 返回指定月份的发送统计
func (s *SendService) MonthlyStats(yearMonth string) (*domain.SendStats, error) {
	return s.store.GetSendStats(yearMonth)
}

func (s *SendService) notify(hash, status string) {
	if s.notifier != nil {
		s.notifier.NotifySettled(hash, status)
	}
}
