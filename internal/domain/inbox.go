package domain

import "time"

// ExpiryWarningID 收件箱中合成的到期提醒伪邮件的固定标识。
// 它不是真实邮件，删除操作只做本地忽略，不触达邮件服务器。
const ExpiryWarningID = "expiry-warning"

// EmailSummary 表示收件箱列表中的一封邮件摘要
type EmailSummary struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Read      bool      `json:"read"`
	IsWarning bool      `json:"is_warning,omitempty"`
}

// InboxAttachment 表示已收邮件中的一个附件
type InboxAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     string `json:"content,omitempty"` // base64
}

// EmailContent 表示一封已收邮件的完整内容
type EmailContent struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Date        time.Time         `json:"date"`
	Body        string            `json:"body"`
	HTMLBody    string            `json:"html_body,omitempty"`
	Attachments []InboxAttachment `json:"attachments,omitempty"`
}
