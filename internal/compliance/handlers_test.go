package compliance

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(m).RegisterRoutes(r.Group("/v1"))
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_OpenAndConfirm(t *testing.T) {
	p := &fakePurchaser{}
	m := newTestManager(p)
	r := setupRouter(m)

	w := doJSON(r, "POST", "/v1/gates", `{"walletAddress":"`+cleanWallet+`","invoiceId":"inv_9","price":"2"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Gate Session `json:"gate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Gate.GateID)
	assert.Equal(t, "inv_9", resp.Gate.InvoiceID)

	g, err := m.Gate(resp.Gate.GateID)
	require.NoError(t, err)
	waitGate(t, g)

	w = doJSON(r, "GET", "/v1/gates/"+resp.Gate.GateID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"canConfirm":true`)

	w = doJSON(r, "POST", "/v1/gates/"+resp.Gate.GateID+"/confirm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lamports":2000000000`)
}

func TestHandler_ConfirmChunkedBody(t *testing.T) {
	m := newTestManager(&fakePurchaser{})
	r := setupRouter(m)

	confirm := func(body string) *httptest.ResponseRecorder {
		sess := openAndWait(t, m, cleanWallet, "2")
		req := httptest.NewRequest("POST", "/v1/gates/"+sess.GateID+"/confirm", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = -1
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := confirm(`{"amount":"3"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"lamports":3000000000`)

	w = confirm(``)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"lamports":2000000000`, "empty body falls back to the listing price")

	w = confirm(`{"amount":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_OpenUnavailableInvoice(t *testing.T) {
	p := &fakePurchaser{unavailable: map[string]error{"inv_gone": errors.New("not found")}}
	r := setupRouter(newTestManager(p))

	w := doJSON(r, "POST", "/v1/gates", `{"walletAddress":"`+cleanWallet+`","invoiceId":"inv_gone"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invoice_unavailable")
}

func TestHandler_ConfirmInvalidAmount(t *testing.T) {
	m := newTestManager(&fakePurchaser{})
	sess := openAndWait(t, m, cleanWallet, "")
	r := setupRouter(m)

	w := doJSON(r, "POST", "/v1/gates/"+sess.GateID+"/confirm", `{"amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid invoice amount.")
}

func TestHandler_ConfirmBlocked(t *testing.T) {
	m := newTestManager(&fakePurchaser{})
	sess := openAndWait(t, m, riskyWallet, "1")
	r := setupRouter(m)

	w := doJSON(r, "POST", "/v1/gates/"+sess.GateID+"/confirm", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "gate_not_cleared")
}

func TestHandler_Errors(t *testing.T) {
	r := setupRouter(newTestManager(&fakePurchaser{}))

	w := doJSON(r, "POST", "/v1/gates", `{"walletAddress":"nope","invoiceId":"inv_1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_address")

	w = doJSON(r, "POST", "/v1/gates", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, "GET", "/v1/gates/gate_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, "DELETE", "/v1/gates/gate_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CloseGate(t *testing.T) {
	m := newTestManager(&fakePurchaser{})
	sess := openAndWait(t, m, cleanWallet, "1")
	r := setupRouter(m)

	w := doJSON(r, "DELETE", "/v1/gates/"+sess.GateID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, m.Len())
}
