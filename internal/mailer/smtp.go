package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// Send 通过 SMTP 提交一封外发邮件，使用发件账户自身的凭证认证
func (m *Mailer) Send(_ context.Context, password string, msg OutgoingMessage) error {
	raw, err := buildMessage(msg, m.domain)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	auth := sasl.NewPlainClient("", msg.From, password)
	recipients := []string{msg.Recipient}

	if m.smtpStartTLS {
		if err := smtp.SendMail(m.smtpAddr, auth, msg.From, recipients, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("smtp submit: %w", err)
		}
	} else {
		client, err := smtp.Dial(m.smtpAddr)
		if err != nil {
			return fmt.Errorf("dial smtp %s: %w", m.smtpAddr, err)
		}
		defer client.Close()

		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth %s: %w", msg.From, err)
		}
		if err := client.SendMail(msg.From, recipients, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("smtp submit: %w", err)
		}
	}

	m.log.Info("邮件已提交投递",
		zap.String("from", msg.From),
		zap.String("to", msg.Recipient))
	return nil
}
