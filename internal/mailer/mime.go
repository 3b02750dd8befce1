package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"lnemail/backend/internal/domain"
)

// OutgoingMessage 待投递的外发邮件
type OutgoingMessage struct {
	From        string
	Recipient   string
	Subject     string
	Body        string
	InReplyTo   string
	References  string
	Attachments []domain.DecodedAttachment
}

// buildMessage 将外发邮件组装为 RFC 5322 MIME 报文
func buildMessage(msg OutgoingMessage, domainName string) ([]byte, error) {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	header.SetAddressList("To", []*mail.Address{{Address: msg.Recipient}})
	header.SetSubject(msg.Subject)
	header.SetMessageID(fmt.Sprintf("%s@%s", uuid.NewString(), domainName))

	if msg.InReplyTo != "" {
		header.SetMsgIDList("In-Reply-To", []string{trimMsgID(msg.InReplyTo)})
	}
	if msg.References != "" {
		var refs []string
		for _, ref := range strings.Fields(msg.References) {
			refs = append(refs, trimMsgID(ref))
		}
		header.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}

	// 正文
	var inlineHeader mail.InlineHeader
	inlineHeader.Set("Content-Type", "text/plain; charset=utf-8")
	inline, err := writer.CreateSingleInline(inlineHeader)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(inline, msg.Body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := inline.Close(); err != nil {
		return nil, fmt.Errorf("close body part: %w", err)
	}

	// 附件，go-message 按内容类型自动选择传输编码
	for _, att := range msg.Attachments {
		var attHeader mail.AttachmentHeader
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.SetFilename(att.Filename)

		part, err := writer.CreateAttachment(attHeader)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", att.Filename, err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		if err := part.Close(); err != nil {
			return nil, fmt.Errorf("close attachment %s: %w", att.Filename, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

// trimMsgID 去除消息 ID 外层的尖括号
func trimMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// parseMIMEBody 解析收到的 MIME 报文，提取正文与附件
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachments []domain.InboxAttachment) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// 无法按 MIME 解析时整体当作纯文本
		return string(raw), "", nil
	}
	defer reader.Close()

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, domain.InboxAttachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        len(body),
				Content:     base64.StdEncoding.EncodeToString(body),
			})
		}
	}

	return textBody, htmlBody, attachments
}
