package trade

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/validation"
)

// Handler provides HTTP endpoints for trades.
type Handler struct {
	service *Service
}

// NewHandler creates a new trade handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) trade routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trades/:id", h.GetTrade)
	r.GET("/users/:id/trades", h.ListTrades)
}

// RegisterProtectedRoutes sets up protected (auth-required) trade routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/trades", h.OpenTrade)
	r.POST("/trades/:id/confirm", h.ConfirmTrade)
	r.POST("/trades/:id/cancel", h.CancelTrade)
}

// OpenTradeRequest contains the parameters for opening a trade.
type OpenTradeRequest struct {
	SellerID string `json:"sellerId" binding:"required"`
	ItemID   string `json:"itemId"`
	Amount   string `json:"amount" binding:"required"`
}

// CancelTradeRequest carries the optional cancellation reason.
type CancelTradeRequest struct {
	Reason string `json:"reason"`
}

// OpenTrade handles POST /v1/trades
func (h *Handler) OpenTrade(c *gin.Context) {
	var req OpenTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sellerId and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("seller_id", req.SellerID),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	buyerID := c.GetString("authUserID")
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount must be a decimal number",
		})
		return
	}

	result, err := h.service.OpenEscrow(c.Request.Context(), OpenRequest{
		BuyerID:  buyerID,
		SellerID: req.SellerID,
		ItemID:   req.ItemID,
		Amount:   amount,
	})
	if err != nil {
		internalError(c)
		return
	}
	respondResult(c, result)
}

// ConfirmTrade handles POST /v1/trades/:id/confirm
func (h *Handler) ConfirmTrade(c *gin.Context) {
	id := c.Param("id")
	actorID := c.GetString("authUserID")

	result, err := h.service.Confirm(c.Request.Context(), id, actorID)
	if err != nil {
		internalError(c)
		return
	}
	respondResult(c, result)
}

// CancelTrade handles POST /v1/trades/:id/cancel
func (h *Handler) CancelTrade(c *gin.Context) {
	id := c.Param("id")
	actorID := c.GetString("authUserID")

	var req CancelTradeRequest
	// Body is optional; ignore bind errors on an empty body.
	_ = c.ShouldBindJSON(&req)

	result, err := h.service.Cancel(c.Request.Context(), id, actorID, req.Reason)
	if err != nil {
		internalError(c)
		return
	}
	respondResult(c, result)
}

// GetTrade handles GET /v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	id := c.Param("id")

	txn, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ListTrades handles GET /v1/users/:id/trades
func (h *Handler) ListTrades(c *gin.Context) {
	userID := c.Param("id")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	txns, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// respondResult maps a settlement Result onto the HTTP surface. Benign
// no-ops (already-terminal retries) are 200s so callers can retry blindly.
func respondResult(c *gin.Context, r Result) {
	if r.OK {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"message":     r.Message,
			"transaction": r.Transaction,
		})
		return
	}

	status := http.StatusBadRequest
	switch r.Kind {
	case KindInsufficientFunds:
		status = http.StatusPaymentRequired
	case KindUnauthorized:
		status = http.StatusForbidden
	case KindAccountNotFound, KindTransactionNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   string(r.Kind),
		"message": r.Message,
	})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "The operation could not be completed; no changes were made",
	})
}
