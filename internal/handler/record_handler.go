package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Catalyze-Software/multisig-index/internal/db"
	"github.com/Catalyze-Software/multisig-index/internal/models"
)

// ListTransactionsHandler 列出交易记录，可按状态过滤（?status=）
func (h *Handler) ListTransactionsHandler(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.IsValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知状态: " + status})
		return
	}

	recs, err := h.Store.ListTransactions(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, transactionJSON(&rec))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// ListUnitsHandler 列出已开通的计算单元
func (h *Handler) ListUnitsHandler(c *gin.Context) {
	units, err := h.Store.ListUnits()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	out := make([]gin.H, 0, len(units))
	for _, unit := range units {
		out = append(out, unitJSON(&unit))
	}
	c.JSON(http.StatusOK, gin.H{"units": out})
}

// GetUnitByGroupHandler 按组标识查询（同组多个单元时返回第一个）
func (h *Handler) GetUnitByGroupHandler(c *gin.Context) {
	groupID := c.Param("group_id")
	unit, err := h.Store.GetUnitByGroup(groupID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "未找到该组的计算单元"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, unitJSON(unit))
}

func transactionJSON(rec *models.TransactionRecord) gin.H {
	return gin.H{
		"source_block_index": rec.SourceBlockIndex,
		"mint_block_index":   rec.MintBlockIndex,
		"source_amount":      rec.SourceAmount,
		"granted_cycles":     rec.GrantedCycles,
		"initiator":          rec.Initiator,
		"status":             rec.Status,
		"error_message":      rec.ErrorMessage,
		"created_at":         rec.CreatedAt,
	}
}

func unitJSON(unit *models.ProvisionedUnit) gin.H {
	return gin.H{
		"unit_id":    unit.UnitID,
		"group_id":   unit.GroupIdentifier,
		"created_by": unit.CreatedBy,
		"created_at": unit.CreatedAt,
		"updated_at": unit.UpdatedAt,
	}
}
