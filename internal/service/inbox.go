package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/cache"
	"lnemail/backend/internal/domain"
)

// dismissalTTL 到期提醒被忽略后的静默时长，之后提醒重新出现
const dismissalTTL = 30 * 24 * time.Hour

// InboxService 处理收件箱访问，并在账户临近到期时注入合成的
// 到期提醒伪邮件。提醒不存在于邮件服务器上，忽略状态只记录在
// 进程内缓存中。
type InboxService struct {
	transport  MailTransport
	dismissals *cache.LocalCache
	mailDomain string
	log        *zap.Logger
	now        func() time.Time
}

// NewInboxService 创建收件箱服务
func NewInboxService(transport MailTransport, mailDomain string, log *zap.Logger) *InboxService {
	return &InboxService{
		transport:  transport,
		dismissals: cache.NewLocalCache(dismissalTTL),
		mailDomain: mailDomain,
		log:        log,
		now:        time.Now,
	}
}

// ListInbox 按时间倒序列出收件箱。账户处于到期提醒窗口且提醒未被
// 忽略时，列表头部插入一条合成提醒。
func (s *InboxService) ListInbox(ctx context.Context, account *domain.EmailAccount) ([]domain.EmailSummary, error) {
	summaries, err := s.transport.ListEmails(ctx, account.EmailAddress, account.EmailPassword)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if account.NeedsExpiryWarning(now) && !s.dismissed(account.EmailAddress) {
		warning := domain.EmailSummary{
			ID:        domain.ExpiryWarningID,
			From:      "system@" + s.mailDomain,
			Subject:   fmt.Sprintf("Your account expires in %d days", account.DaysUntilExpiry(now)),
			Date:      now,
			IsWarning: true,
		}
		summaries = append([]domain.EmailSummary{warning}, summaries...)
	}

	return summaries, nil
}

// GetEmail 读取一封邮件的完整内容。到期提醒按需合成，不触达服务器。
func (s *InboxService) GetEmail(ctx context.Context, account *domain.EmailAccount, id string, markRead bool) (*domain.EmailContent, error) {
	if id == domain.ExpiryWarningID {
		return s.warningContent(account), nil
	}
	return s.transport.GetEmail(ctx, account.EmailAddress, account.EmailPassword, id, markRead)
}

// DeleteEmail 删除一封邮件。删除到期提醒只是将其静默一段时间。
func (s *InboxService) DeleteEmail(ctx context.Context, account *domain.EmailAccount, id string) error {
	if id == domain.ExpiryWarningID {
		s.dismissals.Set(s.dismissKey(account.EmailAddress), true, 0)
		s.log.Debug("到期提醒已忽略", zap.String("email", account.EmailAddress))
		return nil
	}
	return s.transport.DeleteEmails(ctx, account.EmailAddress, account.EmailPassword, []string{id})
}

func (s *InboxService) warningContent(account *domain.EmailAccount) *domain.EmailContent {
	now := s.now()
	days := account.DaysUntilExpiry(now)
	return &domain.EmailContent{
		ID:      domain.ExpiryWarningID,
		From:    "system@" + s.mailDomain,
		To:      account.EmailAddress,
		Subject: fmt.Sprintf("Your account expires in %d days", days),
		Date:    now,
		Body: fmt.Sprintf(
			"Your email account %s expires on %s (%d days from now).\n\n"+
				"To keep the address, renew it before the end of the grace period.\n"+
				"Renewal extends the current expiry date, so renewing early never costs you time.\n\n"+
				"Deleting this message hides the reminder for a while; it is not a real email.",
			account.EmailAddress, account.ExpiresAt.Format("2006-01-02"), days),
	}
}

func (s *InboxService) dismissed(address string) bool {
	_, ok := s.dismissals.Get(s.dismissKey(address))
	return ok
}

func (s *InboxService) dismissKey(address string) string {
	return "expiry-warning:" + address
}
