package compliance

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/silkroad/internal/logging"
)

// Handler provides HTTP endpoints for purchase gates.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new gate handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up gate routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/gates", h.OpenGate)
	r.GET("/gates/:id", h.GetGate)
	r.POST("/gates/:id/reopen", h.ReopenGate)
	r.DELETE("/gates/:id", h.CloseGate)
	r.POST("/gates/:id/confirm", h.ConfirmPurchase)
}

// ConfirmRequest is the body of POST /v1/gates/:id/confirm.
type ConfirmRequest struct {
	Amount string `json:"amount"`
}

// OpenGate handles POST /v1/gates
func (h *Handler) OpenGate(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "walletAddress and invoiceId are required",
		})
		return
	}

	sess, err := h.manager.Open(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"gate": sess})
}

// GetGate handles GET /v1/gates/:id
func (h *Handler) GetGate(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gate": sess})
}

// ReopenGate handles POST /v1/gates/:id/reopen
func (h *Handler) ReopenGate(c *gin.Context) {
	sess, err := h.manager.Reopen(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"gate": sess})
}

// CloseGate handles DELETE /v1/gates/:id
func (h *Handler) CloseGate(c *gin.Context) {
	if err := h.manager.Close(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConfirmPurchase handles POST /v1/gates/:id/confirm
func (h *Handler) ConfirmPurchase(c *gin.Context) {
	var req ConfirmRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// An empty body means no amount; chunked bodies report length -1.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	receipt, err := h.manager.Confirm(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrGateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gate not found"})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Invalid invoice amount."})
	case errors.Is(err, ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "walletAddress must be a valid Solana address"})
	case errors.Is(err, ErrMissingInvoiceID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invoiceId is required"})
	case errors.Is(err, ErrInvoiceUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "invoice_unavailable", "message": "Invoice is not available for purchase"})
	case errors.Is(err, ErrNotConfirmable):
		c.JSON(http.StatusConflict, gin.H{"error": "gate_not_cleared", "message": "Compliance checks have not passed"})
	default:
		logging.L(c.Request.Context()).Error("purchase failed", "gate_id", c.Param("id"), "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "purchase_failed", "message": "Transaction failed"})
	}
}
