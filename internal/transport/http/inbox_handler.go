package http

import (
	"github.com/gin-gonic/gin"

	"lnemail/backend/internal/middleware"
)

// ListEmails 列出收件箱
//
// @Summary 收件箱列表
// @Description 按时间倒序返回收件箱摘要。账户临近到期时列表头部包含一条系统提醒。
// @Tags 收件箱
// @Produce json
// @Security AccessToken
// @Success 200 {object} Response{data=[]domain.EmailSummary}
// @Failure 401 {object} Response
// @Router /v1/emails [get]
func (h *Handler) ListEmails(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	summaries, err := h.inbox.ListInbox(c.Request.Context(), account)
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, summaries)
}

// GetEmail 读取一封邮件的完整内容
//
// @Summary 读取邮件
// @Description 返回邮件正文与附件元信息。mark_read=false 时不改变已读状态。
// @Tags 收件箱
// @Produce json
// @Security AccessToken
// @Param id path string true "邮件 ID"
// @Param mark_read query bool false "是否标记已读，默认 true"
// @Success 200 {object} Response{data=domain.EmailContent}
// @Failure 404 {object} Response
// @Router /v1/emails/{id} [get]
func (h *Handler) GetEmail(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	markRead := c.DefaultQuery("mark_read", "true") != "false"
	content, err := h.inbox.GetEmail(c.Request.Context(), account, c.Param("id"), markRead)
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, content)
}

// DeleteEmail 删除一封邮件
//
// @Summary 删除邮件
// @Description 从邮箱中删除指定邮件。删除系统到期提醒只是将其静默一段时间。
// @Tags 收件箱
// @Security AccessToken
// @Param id path string true "邮件 ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/emails/{id} [delete]
func (h *Handler) DeleteEmail(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	if err := h.inbox.DeleteEmail(c.Request.Context(), account, c.Param("id")); err != nil {
		handleError(c, h.log, err)
		return
	}
	NoContent(c)
}
