package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomrunner/internal/audit"
	"roomrunner/internal/economy"
)

// AdminHandler exposes the manual wallet-correction path: every adjustment
// is both an idempotent ledger entry and an audit row, independent trails
// for the same action.
type AdminHandler struct {
	econ  *economy.Core
	audit *audit.Service
}

func NewAdminHandler(econ *economy.Core, audit *audit.Service) *AdminHandler {
	return &AdminHandler{econ: econ, audit: audit}
}

type adminAdjustRequest struct {
	UserID         int64  `json:"userId" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
}

func (h *AdminHandler) Adjust(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actorID, _ := getUserID(c)

	result, err := h.econ.AdminAdjust(c.Request.Context(), req.UserID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("adjustment failed: %v", err)})
		return
	}

	if err := h.audit.RecordAdminAdjust(c.Request.Context(), actorID, req.UserID, req.Amount, req.Reason); err != nil {
		c.JSON(http.StatusOK, gin.H{"ledgerEntry": result.LedgerEntry, "replayed": result.Replayed, "auditWarning": "adjustment applied but audit record failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ledgerEntry": result.LedgerEntry, "replayed": result.Replayed})
}

func (h *AdminHandler) History(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
		return
	}
	entries, err := h.audit.History(c.Request.Context(), userID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}
