package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/idgen"
	"github.com/atticswap/atticswap/internal/validation"
)

// Handler provides HTTP endpoints for catalog items.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) item routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/items/:id", h.GetItem)
	r.GET("/users/:id/items", h.ListItems)
}

// RegisterProtectedRoutes sets up protected (auth-required) item routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/items", h.CreateItem)
}

// CreateItemRequest contains the parameters for listing an item.
type CreateItemRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	TokenPrice  string `json:"tokenPrice" binding:"required"`
}

// CreateItem handles POST /v1/items
func (h *Handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title and tokenPrice are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("token_price", req.TokenPrice),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	price, err := decimal.NewFromString(req.TokenPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "tokenPrice must be a decimal number",
		})
		return
	}

	item := &Item{
		ID:          idgen.WithPrefix("itm_"),
		SellerID:    c.GetString("authUserID"),
		Title:       validation.SanitizeString(req.Title, 200),
		Description: validation.SanitizeString(req.Description, 2000),
		TokenPrice:  price,
		Status:      StatusListed,
		CreatedAt:   time.Now(),
	}
	if err := h.service.Create(c.Request.Context(), item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create item",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// GetItem handles GET /v1/items/:id
func (h *Handler) GetItem(c *gin.Context) {
	id := c.Param("id")

	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Item not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"item": item})
}

// ListItems handles GET /v1/users/:id/items
func (h *Handler) ListItems(c *gin.Context) {
	sellerID := c.Param("id")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	items, err := h.service.ListBySeller(c.Request.Context(), sellerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}
