package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Catalyze-Software/multisig-index/internal/models"
	"github.com/Catalyze-Software/multisig-index/internal/services"
)

// ProvisionHandler 开通计算单元接口
func (h *Handler) ProvisionHandler(c *gin.Context) {
	var req models.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	unitID, err := h.Provision.Provision(c.Request.Context(), req.Account, req.SourceBlockIndex, req.GroupIdentifier)
	if err != nil {
		h.provisionError(c, err)
		return
	}

	// 授予的 cycles 数量从刚落库的记录里取
	var granted uint64
	if rec, recErr := h.Store.GetTransaction(req.SourceBlockIndex); recErr == nil && rec.GrantedCycles != nil {
		granted = *rec.GrantedCycles
	}

	c.JSON(http.StatusOK, models.ProvisionResponse{
		UnitID:        unitID,
		GrantedCycles: granted,
	})
}

// TopUpHandler 给本服务自身充值 cycles 接口
func (h *Handler) TopUpHandler(c *gin.Context) {
	var req models.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	cycles, err := h.Provision.TopUpSelf(c.Request.Context(), req.Account, req.SourceBlockIndex)
	if err != nil {
		h.provisionError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.TopUpResponse{GrantedCycles: cycles})
}

// provisionError 把 saga 错误映射为 HTTP 响应；
// 每种失败都能通过 /transactions 单独查到状态记录
func (h *Handler) provisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "该区块索引已处理过"})
	case errors.Is(err, services.ErrInsufficientAmount):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "累计金额不足，余额已保留: " + err.Error()})
	case errors.Is(err, services.ErrNoBlock),
		errors.Is(err, services.ErrNoOperation),
		errors.Is(err, services.ErrWrongOperation),
		errors.Is(err, services.ErrWrongSender),
		errors.Is(err, services.ErrWrongRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"error": "入账校验失败: " + err.Error()})
	case errors.Is(err, services.ErrTransferToMintFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "转账到铸造服务失败，可重试: " + err.Error()})
	case errors.Is(err, services.ErrMintGrantFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "铸造失败，已记录待人工处理: " + err.Error()})
	case errors.Is(err, services.ErrProvisionFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "创建计算单元失败: " + err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
