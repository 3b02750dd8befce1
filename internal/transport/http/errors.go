package http

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/service"
	"lnemail/backend/internal/storage"
)

// 常用提示信息
const (
	MsgInvalidRequest  = "请求参数无效"
	MsgPaymentNotFound = "支付记录不存在"
)

// errorMessages 将业务错误映射为对外提示信息
var errorMessages = map[error]string{
	domain.ErrInvalidEmail:         "收件人邮箱格式无效",
	domain.ErrEmailTooLong:         "收件人邮箱地址过长",
	domain.ErrMissingRecipient:     "收件人不能为空",
	domain.ErrMissingBody:          "邮件正文不能为空",
	domain.ErrSubjectTooLong:       "邮件主题过长",
	domain.ErrAttachmentEncoding:   "附件内容不是合法的 base64 编码",
	domain.ErrAttachmentTooLarge:   "附件总大小超出限制",
	service.ErrInvalidRenewalYears: "续期年数必须为正整数",
}

// handleError 将业务错误转换为对应的 HTTP 响应。
// 未识别的错误记录日志后统一返回 500，不泄露内部细节。
func handleError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		NotFound(c, MsgPaymentNotFound)
	case errors.Is(err, storage.ErrOutgoingNotFound):
		NotFound(c, MsgPaymentNotFound)
	case errors.Is(err, service.ErrRenewalNotFound):
		NotFound(c, "续期支付记录不存在")
	case errors.Is(err, service.ErrAccountNotActive):
		Forbidden(c, "账户未激活或已过期")
	case errors.Is(err, service.ErrAccountNotRenewable):
		Forbidden(c, "账户已超出续期宽限期")
	default:
		for target, msg := range errorMessages {
			if errors.Is(err, target) {
				UnprocessableEntity(c, msg)
				return
			}
		}
		log.Error("请求处理失败",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		InternalError(c)
	}
}
