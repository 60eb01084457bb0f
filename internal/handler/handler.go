package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Catalyze-Software/multisig-index/internal/db"
	"github.com/Catalyze-Software/multisig-index/internal/middleware"
	"github.com/Catalyze-Software/multisig-index/internal/models"
	"github.com/Catalyze-Software/multisig-index/internal/services"
)

// Handler 路由依赖集合（在 main 中组装后注入）
type Handler struct {
	Store     db.Store
	Provision *services.ProvisionService
	Ledger    services.LedgerGateway
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	// 只读查询
	r.GET("/cycles", h.GetCycleBalanceHandler)
	r.GET("/ledger/balance", h.GetLedgerBalanceHandler)
	r.GET("/balance/:account", h.GetLocalBalanceHandler)
	r.GET("/transactions", h.ListTransactionsHandler)
	r.GET("/units", h.ListUnitsHandler)
	r.GET("/units/group/:group_id", h.GetUnitByGroupHandler)
	r.GET("/stats", h.StatsHandler)

	// 探针
	r.GET("/healthz", HealthzHandler)
	r.GET("/readyz", h.ReadinessHandler)

	// 写操作仅允许本地访问（由上游请求层代理进来）
	local := r.Group("/", middleware.LocalOnly())
	local.POST("/provision", h.ProvisionHandler)
	local.POST("/topup", h.TopUpHandler)
}

// GetCycleBalanceHandler 查询本服务自身的 cycles 余额
func (h *Handler) GetCycleBalanceHandler(c *gin.Context) {
	cycles, err := h.Provision.CycleBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "查询 cycles 余额失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

// GetLedgerBalanceHandler 查询账本上的权威余额（account 为空时查本服务账户）
func (h *Handler) GetLedgerBalanceHandler(c *gin.Context) {
	account := c.Query("account")
	balance, err := h.Ledger.AccountBalance(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "账本查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "e8s": balance})
}

// GetLocalBalanceHandler 查询账户在本服务的暂存余额
func (h *Handler) GetLocalBalanceHandler(c *gin.Context) {
	account := c.Param("account")
	balance, err := h.Store.GetBalance(account, models.CurrencyICP)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "e8s": balance})
}

// StatsHandler 记录数与已见最大入账区块索引
func (h *Handler) StatsHandler(c *gin.Context) {
	count, err := h.Store.CountTransactions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	maxIndex, err := h.Store.MaxSourceBlockIndex()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions":           count,
		"max_source_block_index": maxIndex,
	})
}
