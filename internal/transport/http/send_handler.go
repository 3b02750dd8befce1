package http

import (
	"github.com/gin-gonic/gin"

	"lnemail/backend/internal/middleware"
	"lnemail/backend/internal/service"
)

// SendEmail 受理一次付费外发并签发发票
//
// @Summary 发送邮件
// @Description 校验请求后签发发票。支付确认后邮件由后台投递，投递失败自动重试。
// @Tags 外发
// @Accept json
// @Produce json
// @Security AccessToken
// @Param request body service.SendRequest true "邮件内容"
// @Success 202 {object} Response{data=service.SendInvoice}
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Router /v1/emails/send [post]
func (h *Handler) SendEmail(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	invoice, err := h.sends.RequestSend(c.Request.Context(), account, req)
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Accepted(c, invoice)
}

// SendStatus 查询一笔外发的支付与投递状态
//
// @Summary 查询外发状态
// @Description 按支付哈希查询支付状态与投递状态，两者各自独立推进。
// @Tags 外发
// @Produce json
// @Param hash path string true "支付哈希"
// @Success 200 {object} Response{data=service.SendStatusInfo}
// @Failure 404 {object} Response
// @Router /v1/emails/send/status/{hash} [get]
func (h *Handler) SendStatus(c *gin.Context) {
	status, err := h.sends.SendStatus(c.Request.Context(), c.Param("hash"))
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, status)
}

// RecentSends 列出账户最近的外发记录
//
// @Summary 最近外发
// @Description 按创建时间倒序返回最近的外发记录，最多 10 条。
// @Tags 外发
// @Produce json
// @Security AccessToken
// @Success 200 {object} Response{data=[]service.RecentSend}
// @Failure 401 {object} Response
// @Router /v1/emails/send/recent [get]
func (h *Handler) RecentSends(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	sends, err := h.sends.ListRecentSends(account)
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, sends)
}
