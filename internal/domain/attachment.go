package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxAttachmentBytes 单次发送全部附件解码后的总字节上限 (8 MiB)
const MaxAttachmentBytes = 8 << 20

// 附件校验错误，二者必须可区分: 编码坏 vs 体积超限
var (
	ErrAttachmentEncoding = errors.New("attachment content is not valid base64")
	ErrAttachmentTooLarge = fmt.Errorf("total attachment size exceeds %d bytes", MaxAttachmentBytes)
)

// EmailAttachment 表示请求与持久化中的附件，内容为 base64 编码
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// DecodedAttachment 表示解码后交给邮件传输层的附件
type DecodedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DecodeAttachments 解码并校验附件列表
//
// 任一附件 base64 非法返回 ErrAttachmentEncoding，
// 解码后总字节数超过 MaxAttachmentBytes 返回 ErrAttachmentTooLarge。
// 恰好等于上限视为合法。
func DecodeAttachments(attachments []EmailAttachment) ([]DecodedAttachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	decoded := make([]DecodedAttachment, 0, len(attachments))
	total := 0
	for _, att := range attachments {
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentEncoding, att.Filename)
		}

		total += len(data)
		if total > MaxAttachmentBytes {
			return nil, ErrAttachmentTooLarge
		}

		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		decoded = append(decoded, DecodedAttachment{
			Filename:    att.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}

	return decoded, nil
}

// MarshalAttachments 将附件列表序列化为存储用的 JSON 字符串
func MarshalAttachments(attachments []EmailAttachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}

	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}

	return string(raw), nil
}

// UnmarshalAttachments 从存储的 JSON 字符串恢复附件列表
func UnmarshalAttachments(raw string) ([]EmailAttachment, error) {
	if raw == "" {
		return nil, nil
	}

	var attachments []EmailAttachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}

	return attachments, nil
}
