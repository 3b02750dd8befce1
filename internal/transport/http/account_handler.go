package http

import (
	"github.com/gin-gonic/gin"

	"lnemail/backend/internal/middleware"
)

// renewRequest 续期请求体
type renewRequest struct {
	Years int `json:"years" binding:"required,min=1"`
}

// CreateAccount 签发一张创建账户的发票
//
// @Summary 购买邮箱账户
// @Description 生成随机邮箱地址与访问令牌，返回 Lightning 发票。支付确认后账户自动开通。
// @Tags 账户
// @Produce json
// @Success 201 {object} Response{data=service.AccountInvoice}
// @Failure 500 {object} Response
// @Router /v1/accounts [post]
func (h *Handler) CreateAccount(c *gin.Context) {
	invoice, err := h.accounts.RequestAccount(c.Request.Context())
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Created(c, invoice)
}

// PaymentStatus 查询创建账户支付的状态
//
// @Summary 查询账户支付状态
// @Description 按支付哈希查询创建支付是否已结算，已结算时返回账户凭证。
// @Tags 账户
// @Produce json
// @Param hash path string true "支付哈希"
// @Success 200 {object} Response{data=service.AccountStatus}
// @Failure 404 {object} Response
// @Router /v1/payments/{hash} [get]
func (h *Handler) PaymentStatus(c *gin.Context) {
	status, err := h.accounts.CreationStatus(c.Request.Context(), c.Param("hash"))
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, status)
}

// AccountDetails 返回已认证账户的概要信息
//
// @Summary 账户概要
// @Description 返回账户邮箱、有效期与续期资格。宽限期内的过期账户仍可访问。
// @Tags 账户
// @Produce json
// @Security AccessToken
// @Success 200 {object} Response{data=service.AccountDetails}
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /v1/account [get]
func (h *Handler) AccountDetails(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}
	Success(c, h.accounts.Details(account))
}

// RenewAccount 签发一张续期发票
//
// @Summary 续期账户
// @Description 按年数签发续期发票。支付确认后有效期从当前过期时间起延长。
// @Tags 账户
// @Accept json
// @Produce json
// @Security AccessToken
// @Param request body renewRequest true "续期年数"
// @Success 201 {object} Response{data=service.RenewalInvoice}
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Router /v1/account/renew [post]
func (h *Handler) RenewAccount(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		InternalError(c)
		return
	}

	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	invoice, err := h.accounts.RequestRenewal(c.Request.Context(), account, req.Years)
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Created(c, invoice)
}

// RenewalStatus 查询一笔续期支付的状态
//
// @Summary 查询续期状态
// @Description 按支付哈希查询续期进度: pending、processing 或 paid。
// @Tags 账户
// @Produce json
// @Param hash path string true "支付哈希"
// @Success 200 {object} Response{data=service.RenewalStatus}
// @Failure 404 {object} Response
// @Router /v1/account/renew/status/{hash} [get]
func (h *Handler) RenewalStatus(c *gin.Context) {
	status, err := h.accounts.RenewalStatusByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		handleError(c, h.log, err)
		return
	}
	Success(c, status)
}
