package sanctions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/silkroad/internal/circuitbreaker"
	"github.com/mbd888/silkroad/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// fakeRangeAPI stands in for the risk service and replies with body.
func fakeRangeAPI(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestScreener(baseURL string, opts ...Option) *Screener {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New("test-key", baseURL, opts...)
}

func TestScreen_NoAPIKeyIsDemoMode(t *testing.T) {
	srv, hits := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 10}`)
	s := New("", srv.URL, WithLogger(logging.Discard()))

	res := s.Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeDemoMode, res.Outcome)
	assert.Equal(t, DetailDemoMode, res.Detail)
	assert.True(t, res.Fallback())
	assert.Zero(t, hits.Load(), "demo mode must not call the service")
}

func TestScreen_ScoreAboveThresholdIsRisky(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 8, "riskFactors": ["OFAC SDN", "mixer exposure"]}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.True(t, res.IsRisky)
	assert.Equal(t, OutcomeFlagged, res.Outcome)
	assert.Equal(t, "OFAC SDN, mixer exposure", res.Detail)
	require.NotNil(t, res.Score)
	assert.Equal(t, 8.0, *res.Score)
	assert.False(t, res.Fallback())
}

func TestScreen_ThresholdIsExclusive(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 7}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeCleared, res.Outcome)
	assert.Equal(t, DetailCleared, res.Detail)
}

func TestScreen_AlternateScoreField(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"score": 9.5}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.True(t, res.IsRisky)
	assert.Equal(t, DetailHighRisk, res.Detail, "no factors supplied")
}

func TestScreen_RiskScoreWinsOverScore(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 2, "score": 9}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	require.NotNil(t, res.Score)
	assert.Equal(t, 2.0, *res.Score)
}

func TestScreen_MissingScoreDefaultsToZero(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeCleared, res.Outcome)
}

func TestScreen_ObjectRiskFactors(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK,
		`{"riskScore": 9, "riskFactors": [{"label": "sanctioned entity"}, {"name": "darknet"}, 42]}`)

	res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

	assert.Equal(t, "sanctioned entity, darknet", res.Detail)
}

func TestScreen_SendsAddressChainAndKey(t *testing.T) {
	var gotPath, gotAddr, gotChain, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAddr = r.URL.Query().Get("address")
		gotChain = r.URL.Query().Get("chain")
		gotKey = r.Header.Get("x-api-key")
		_, _ = w.Write([]byte(`{"riskScore": 1}`))
	}))
	defer srv.Close()

	newTestScreener(srv.URL + "/").Screen(context.Background(), testWallet)

	assert.Equal(t, "/v1/risk/score", gotPath)
	assert.Equal(t, testWallet, gotAddr)
	assert.Equal(t, "solana", gotChain)
	assert.Equal(t, "test-key", gotKey)
}

// The fail-open cases: every failure must resolve to a not-risky, degraded result.
func TestScreen_FailOpen(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"plan limit", http.StatusTooManyRequests, `{"error":"limit"}`},
		{"unauthorized", http.StatusUnauthorized, ``},
		{"malformed json", http.StatusOK, `{"riskScore": `},
		{"wrong type", http.StatusOK, `{"riskScore": "high"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeRangeAPI(t, tt.status, tt.body)

			res := newTestScreener(srv.URL).Screen(context.Background(), testWallet)

			assert.False(t, res.IsRisky)
			assert.Equal(t, OutcomeDegraded, res.Outcome)
			assert.Equal(t, DetailUnavailable, res.Detail)
			assert.True(t, res.Fallback())
		})
	}
}

func TestScreen_TimeoutFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := newTestScreener(srv.URL, WithTimeout(50*time.Millisecond)).Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
}

func TestScreen_UnreachableFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestScreener(url).Screen(context.Background(), testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
}

func TestScreen_CancelledContextFailsOpen(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 10}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestScreener(srv.URL).Screen(ctx, testWallet)

	assert.False(t, res.IsRisky)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
}

func TestScreen_CallerCancellationLeavesCircuitClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	s := newTestScreener(srv.URL, WithBreaker(circuitbreaker.New(2, time.Minute)))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		res := s.Screen(ctx, testWallet)
		cancel()
		assert.Equal(t, OutcomeDegraded, res.Outcome)
	}
	assert.Equal(t, "circuit_closed", s.Status())

	risky, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 9}`)
	s.baseURL = risky.URL
	res := s.Screen(context.Background(), testWallet)
	assert.True(t, res.IsRisky)
	assert.Equal(t, OutcomeFlagged, res.Outcome)
}

func TestScreen_OpenCircuitSkipsService(t *testing.T) {
	srv, hits := fakeRangeAPI(t, http.StatusBadGateway, ``)
	s := newTestScreener(srv.URL, WithBreaker(circuitbreaker.New(2, time.Minute)))

	for i := 0; i < 4; i++ {
		res := s.Screen(context.Background(), testWallet)
		assert.Equal(t, OutcomeDegraded, res.Outcome)
	}
	assert.Equal(t, int32(2), hits.Load(), "breaker should stop calls after threshold")
	assert.Equal(t, "circuit_open", s.Status())
}

func TestScreener_Status(t *testing.T) {
	assert.Equal(t, "demo_mode", New("", "http://unused", WithLogger(logging.Discard())).Status())
	assert.Equal(t, "circuit_closed", newTestScreener("http://unused").Status())
}

func TestScreen_RecordsToStore(t *testing.T) {
	srv, _ := fakeRangeAPI(t, http.StatusOK, `{"riskScore": 9, "riskFactors": ["OFAC SDN"]}`)
	store := NewMemoryStore()
	s := newTestScreener(srv.URL, WithStore(store))

	s.Screen(context.Background(), testWallet)

	assert.Eventually(t, func() bool {
		got, _ := store.ListByAddress(context.Background(), testWallet, 10)
		return len(got) == 1 && got[0].IsRisky && got[0].Detail == "OFAC SDN"
	}, time.Second, 10*time.Millisecond)
}
