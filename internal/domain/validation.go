package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrMissingRecipient = errors.New("recipient is required")
	ErrMissingBody      = errors.New("message body is required")
	ErrSubjectTooLong   = errors.New("subject too long")
)

// RFC 5322 长度限制
const (
	MaxEmailLength   = 254
	MaxSubjectLength = 500
)

// ValidateEmailAddress 验证一个邮箱地址的基本格式
func ValidateEmailAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrInvalidEmail
	}
	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateSendRequest 验证发送请求的必填字段
func ValidateSendRequest(recipient, subject, body string) error {
	if strings.TrimSpace(recipient) == "" {
		return ErrMissingRecipient
	}
	if err := ValidateEmailAddress(recipient); err != nil {
		return err
	}
	if len(subject) > MaxSubjectLength {
		return ErrSubjectTooLong
	}
	if strings.TrimSpace(body) == "" {
		return ErrMissingBody
	}
	return nil
}
