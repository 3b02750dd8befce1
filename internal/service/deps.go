// Package service 实现核心业务流程: 账户开通、续期、收件箱访问与付费外发。
//
// 所有支付确认后的副作用（开通邮箱、延长有效期、提交 SMTP）都由后台
// 对账任务执行，HTTP 处理器只负责签发发票、入队与查询。对账任务按
// 支付哈希幂等: 任意次数的重复执行与一次执行效果相同。
package service

import (
	"context"
	"errors"
	"time"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/lightning"
	"lnemail/backend/internal/mailer"
	"lnemail/backend/internal/scheduler"
)

var (
	// ErrAccountNotActive 账户未支付或已过有效期
	ErrAccountNotActive = errors.New("account is not active")
	// ErrAccountNotRenewable 账户已超出续期宽限期或尚未支付
	ErrAccountNotRenewable = errors.New("account is not renewable")
	// ErrRenewalNotFound 续期发票不存在且未结算
	ErrRenewalNotFound = errors.New("renewal invoice not found")
	// ErrInvalidRenewalYears 续期年数必须为正整数
	ErrInvalidRenewalYears = errors.New("renewal years must be at least 1")
)

// settlementPollDelay 未结算发票的轮询间隔
const settlementPollDelay = 5 * time.Second

// InvoiceGateway 定义 Lightning 发票的签发与结算查询。
// *lightning.Client 直接实现该接口。
type InvoiceGateway interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*lightning.Invoice, error)
	IsSettled(ctx context.Context, paymentHash string) (bool, error)
}

// MailboxProvisioner 定义邮箱账户的开通与注销。
// *provisioner.Agent 直接实现该接口。
type MailboxProvisioner interface {
	CreateMailbox(ctx context.Context, address, password string) error
	DeleteMailbox(ctx context.Context, address string) error
}

// MailTransport 定义收件箱读取与外发提交。
// *mailer.Mailer 直接实现该接口。
type MailTransport interface {
	ListEmails(ctx context.Context, address, password string) ([]domain.EmailSummary, error)
	GetEmail(ctx context.Context, address, password, id string, markRead bool) (*domain.EmailContent, error)
	DeleteEmails(ctx context.Context, address, password string, ids []string) error
	Send(ctx context.Context, password string, msg mailer.OutgoingMessage) error
}

// TaskQueue 定义对账任务的入队能力。
// *scheduler.Scheduler 直接实现该接口。
type TaskQueue interface {
	Enqueue(job scheduler.Job)
	EnqueueAfter(delay time.Duration, job scheduler.Job)
}

// SettlementNotifier 将结算与投递事件推送给在线订阅者，可为 nil。
type SettlementNotifier interface {
	NotifySettled(paymentHash string, status string)
}
