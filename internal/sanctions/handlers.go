package sanctions

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes screening over HTTP.
type Handler struct {
	screener *Screener
	store    Store
}

// NewHandler creates a screening handler. store may be nil.
func NewHandler(screener *Screener, store Store) *Handler {
	return &Handler{screener: screener, store: store}
}

// RegisterRoutes mounts the screening routes. The group is expected to
// validate :address.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/screenings/:address", h.Screen)
	r.GET("/screenings/:address/history", h.History)
}

// Screen handles GET /screenings/:address
func (h *Handler) Screen(c *gin.Context) {
	res := h.screener.Screen(c.Request.Context(), c.Param("address"))
	c.JSON(http.StatusOK, gin.H{
		"screening": res,
		"fallback":  res.Fallback(),
	})
}

// History handles GET /screenings/:address/history
func (h *Handler) History(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"screenings": []*Result{}, "count": 0})
		return
	}

	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	results, err := h.store.ListByAddress(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": err.Error(),
		})
		return
	}
	if results == nil {
		results = []*Result{}
	}

	c.JSON(http.StatusOK, gin.H{
		"screenings": results,
		"count":      len(results),
	})
}
