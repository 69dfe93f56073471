package sanctions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/silkroad/internal/logging"
	"github.com/mbd888/silkroad/internal/validation"
)

func setupRouter(s *Screener, store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/v1", validation.AddressParamMiddleware())
	NewHandler(s, store).RegisterRoutes(g)
	return r
}

func TestHandler_ScreenReportsFallback(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusServiceUnavailable, `{}`)
	r := setupRouter(newTestScreener(srv.URL), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/screenings/"+testWallet, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fallback":true`)
	assert.Contains(t, w.Body.String(), `"outcome":"degraded"`)
	assert.Contains(t, w.Body.String(), `"isRisky":false`)
}

func TestHandler_RejectsBadAddress(t *testing.T) {
	srv, hits := fakeRangeAPI(t, http.StatusOK, `{"riskScore":1}`)
	r := setupRouter(newTestScreener(srv.URL), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/screenings/not-a-wallet", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, hits.Load())
}

func TestHandler_History(t *testing.T) {
	store := NewMemoryStore()
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore":9}`)
	s := newTestScreener(srv.URL, WithStore(store))
	r := setupRouter(s, store)

	s.Screen(context.Background(), testWallet)
	require.Eventually(t, func() bool {
		got, _ := store.ListByAddress(context.Background(), testWallet, 10)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/screenings/"+testWallet+"/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"outcome":"flagged"`)
}

func TestHandler_HistoryWithoutStore(t *testing.T) {
	r := setupRouter(New("", "", WithLogger(logging.Discard())), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/screenings/"+testWallet+"/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
