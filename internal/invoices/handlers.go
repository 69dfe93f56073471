package invoices

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/silkroad/internal/pagination"
	"github.com/mbd888/silkroad/internal/pricing"
)

// Handler provides HTTP endpoints for invoice listings.
type Handler struct {
	service *Service
}

// NewHandler creates a new invoice handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up invoice routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/invoices", h.CreateInvoice)
	r.GET("/invoices", h.ListInvoices)
	r.GET("/invoices/:id", h.GetInvoice)
	r.PUT("/invoices/:id/score", h.UpdateScore)
}

// listing is an invoice plus its encoded label.
type listing struct {
	*Invoice
	Label string `json:"label"`
}

func toListing(inv *Invoice) listing {
	return listing{Invoice: inv, Label: inv.ListingLabel()}
}

// CreateInvoice handles POST /v1/invoices
func (h *Handler) CreateInvoice(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount and supplier are required",
		})
		return
	}

	inv, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": toListing(inv)})
}

// ListInvoices handles GET /v1/invoices
func (h *Handler) ListInvoices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	includeSold := c.Query("include_sold") == "true"

	page, err := h.service.ListPage(c.Request.Context(), ListFilter{Limit: limit, IncludeSold: includeSold}, c.Query("cursor"))
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list invoices",
		})
		return
	}

	out := make([]listing, 0, len(page.Invoices))
	for _, inv := range page.Invoices {
		out = append(out, toListing(inv))
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices":   out,
		"count":      len(out),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// GetInvoice handles GET /v1/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	inv, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": toListing(inv)})
}

// UpdateScoreRequest is the body of PUT /v1/invoices/:id/score. A null
// riskScore clears the score and the rate with it.
type UpdateScoreRequest struct {
	RiskScore *int `json:"riskScore"`
}

// UpdateScore handles PUT /v1/invoices/:id/score
func (h *Handler) UpdateScore(c *gin.Context) {
	var req UpdateScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	inv, err := h.service.UpdateScore(c.Request.Context(), c.Param("id"), req.RiskScore)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": toListing(inv)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Invoice not found"})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
	case errors.Is(err, pricing.ErrScoreOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_score", "message": "riskScore must be between 0 and 100"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Invoice operation failed"})
	}
}
