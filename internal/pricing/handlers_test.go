package pricing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler().RegisterRoutes(r.Group("/v1"))
	return r
}

func TestClassifyHandler(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/pricing/classify?score=55", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Score   int    `json:"score"`
		Rate    Rate   `json:"rate"`
		Display string `json:"display"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 55, resp.Score)
	assert.Equal(t, TierStandard, resp.Rate.Tier)
	assert.Equal(t, "8.2% (Standard)", resp.Display)
}

func TestClassifyHandler_NoScore(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/pricing/classify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"score":null,"rate":null}`, w.Body.String())
}

func TestClassifyHandler_Rejects(t *testing.T) {
	r := newTestRouter()

	for _, q := range []string{"abc", "-1", "101", "4.5"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/pricing/classify?score="+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Contains(t, w.Body.String(), "invalid_score", q)
	}
}
