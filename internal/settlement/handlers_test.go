package settlement

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamRecorder adds the CloseNotifier gin's Stream expects.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func setupRouter(sim *Simulator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(sim)
	h.RegisterRoutes(r.Group("/v1"))
	h.RegisterAdminRoutes(r.Group("/v1"))
	return r
}

func TestHandler_ListAndStats(t *testing.T) {
	r := setupRouter(newTestSimulator(NewDemoStore()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/settlements", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":5`)
	assert.Contains(t, w.Body.String(), "Nokia Corporation")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/settlements/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pendingCount":4`)
	assert.Contains(t, w.Body.String(), `"totalPending":"605300"`)
}

func TestHandler_SimulateStreamsEvents(t *testing.T) {
	store := NewDemoStore()
	r := setupRouter(newTestSimulator(store))

	w := newStreamRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/settlements/SET-004/simulate", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, 4, strings.Count(body, "event:"))
	assert.Contains(t, body, "event:loading")
	assert.Contains(t, body, "Settlement Complete! USDC Released to Investor.")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestHandler_SimulateErrors(t *testing.T) {
	r := setupRouter(newTestSimulator(NewDemoStore()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/settlements/SET-003/simulate", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_paid")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/settlements/SET-999/simulate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
