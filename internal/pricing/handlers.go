package pricing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes the classifier over HTTP.
type Handler struct{}

// NewHandler creates a pricing handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes sets up pricing routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pricing/classify", h.Classify)
}

// Classify handles GET /pricing/classify?score=N. A missing score yields a
// null rate, matching an invoice the oracle has not scored yet.
func (h *Handler) Classify(c *gin.Context) {
	raw := c.Query("score")
	if raw == "" {
		c.JSON(http.StatusOK, gin.H{"score": nil, "rate": nil})
		return
	}

	score, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_score",
			"message": "score must be an integer",
		})
		return
	}
	if err := ValidateScore(score); err != nil {
		msg := err.Error()
		if errors.Is(err, ErrScoreOutOfRange) {
			msg = "score must be between 0 and 100"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_score", "message": msg})
		return
	}

	rate := Classify(&score)
	c.JSON(http.StatusOK, gin.H{
		"score":   score,
		"rate":    rate,
		"display": rate.Display(),
	})
}
