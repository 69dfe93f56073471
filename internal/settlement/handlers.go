package settlement

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the settlement book.
type Handler struct {
	sim *Simulator
}

// NewHandler creates a new settlement handler.
func NewHandler(sim *Simulator) *Handler {
	return &Handler{sim: sim}
}

// RegisterRoutes sets up read-only settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settlements", h.ListSettlements)
	r.GET("/settlements/stats", h.GetStats)
}

// RegisterAdminRoutes sets up the routes that move money.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/settlements/:id/simulate", h.Simulate)
}

// ListSettlements handles GET /v1/settlements
func (h *Handler) ListSettlements(c *gin.Context) {
	records, err := h.sim.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list settlements",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
}

// GetStats handles GET /v1/settlements/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.sim.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute stats",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "simulationRunning": h.sim.Busy()})
}

// Simulate handles POST /v1/settlements/:id/simulate, streaming progress
// as Server-Sent Events. Disconnecting cancels the simulation.
func (h *Handler) Simulate(c *gin.Context) {
	ch, err := h.sim.Simulate(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Settlement not found"})
		case errors.Is(err, ErrAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"error": "already_paid", "message": "Settlement is already paid"})
		case errors.Is(err, ErrSimulationInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "simulation_in_progress", "message": "Another settlement is being simulated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to start simulation"})
		}
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		n, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(string(n.Kind), n)
		return !n.Final
	})
}
