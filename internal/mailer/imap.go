// Package mailer 封装邮箱的读写访问: IMAP 收件箱操作与 SMTP 外发提交。
//
// 所有操作使用账户各自的邮箱凭证，本包不持有任何账户状态。
package mailer

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/domain"
)

// Mailer 邮件传输客户端
type Mailer struct {
	imapAddr     string
	smtpAddr     string
	smtpStartTLS bool
	domain       string
	log          *zap.Logger
}

// NewMailer 创建邮件传输客户端
func NewMailer(cfg config.MailConfig, log *zap.Logger) *Mailer {
	return &Mailer{
		imapAddr:     fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort),
		smtpAddr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		smtpStartTLS: cfg.SMTPStartTLS,
		domain:       cfg.Domain,
		log:          log,
	}
}

// connect 建立 IMAP 连接并登录，调用方负责 Logout
func (m *Mailer) connect(address, password string) (*imapclient.Client, error) {
	client, err := imapclient.DialStartTLS(m.imapAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", m.imapAddr, err)
	}

	if err := client.Login(address, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap login %s: %w", address, err)
	}

	return client, nil
}

// ListEmails 按时间倒序列出收件箱邮件摘要，不改变任何已读标记
func (m *Mailer) ListEmails(_ context.Context, address, password string) ([]domain.EmailSummary, error) {
	client, err := m.connect(address, password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search inbox: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var summaries []domain.EmailSummary
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		summaries = append(summaries, summaryFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Date.After(summaries[j].Date)
	})
	return summaries, nil
}

// GetEmail 读取一封邮件的完整内容，markRead 为 true 时置已读标记
func (m *Mailer) GetEmail(_ context.Context, address, password, id string, markRead bool) (*domain.EmailContent, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	client, err := m.connect(address, password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	uidSet := imap.UIDSetNum(uid)

	// BODY.PEEK 读取全文，避免隐式置已读
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect message: %w", err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	content := &domain.EmailContent{ID: id}
	if buf.Envelope != nil {
		content.Subject = buf.Envelope.Subject
		content.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			content.From = buf.Envelope.From[0].Addr()
		}
		if len(buf.Envelope.To) > 0 {
			content.To = buf.Envelope.To[0].Addr()
		}
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		text, html, attachments := parseMIMEBody(raw)
		content.Body = text
		content.HTMLBody = html
		content.Attachments = attachments
	}

	if markRead {
		storeCmd := client.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			m.log.Warn("置已读标记失败", zap.String("id", id), zap.Error(err))
		}
	}

	return content, nil
}

// DeleteEmails 删除一封或多封邮件（置 \Deleted 后 EXPUNGE）
func (m *Mailer) DeleteEmails(_ context.Context, address, password string, ids []string) error {
	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			return err
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return nil
	}

	client, err := m.connect(address, password)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	storeCmd := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}

	if err := client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) domain.EmailSummary {
	summary := domain.EmailSummary{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}

	if buf.Envelope != nil {
		summary.Subject = buf.Envelope.Subject
		summary.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			summary.From = buf.Envelope.From[0].Addr()
		}
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			summary.Read = true
		}
	}

	return summary
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", id)
	}
	return imap.UID(n), nil
}
