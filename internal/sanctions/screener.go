package sanctions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/silkroad/internal/circuitbreaker"
	"github.com/mbd888/silkroad/internal/idgen"
	"github.com/mbd888/silkroad/internal/metrics"
	"github.com/mbd888/silkroad/internal/traces"
)

const (
	scorePath      = "/v1/risk/score"
	breakerKey     = "range"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var errMalformed = errors.New("malformed screening response")

// Screener queries the risk API. The zero value is not usable; call New.
type Screener struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Screener.
type Option func(*Screener)

// WithTimeout bounds each request to the service.
func WithTimeout(d time.Duration) Option {
	return func(s *Screener) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithHTTPClient swaps the HTTP client (tests point it at httptest servers).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Screener) { s.client = c }
}

// WithStore records every result to store.
func WithStore(store Store) Option {
	return func(s *Screener) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Screener) { s.logger = l }
}

// WithBreaker sets the circuit breaker guarding the service.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Screener) { s.breaker = b }
}

// New creates a Screener. An empty apiKey puts it in demo mode.
func New(apiKey, baseURL string, opts ...Option) *Screener {
	s := &Screener{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether an API key is set.
func (s *Screener) Configured() bool {
	return s.apiKey != ""
}

// Status describes the screener for health checks: "demo_mode" without a
// key, otherwise the circuit state of the risk service.
func (s *Screener) Status() string {
	if !s.Configured() {
		return string(OutcomeDemoMode)
	}
	return "circuit_" + s.breaker.State(breakerKey).String()
}

// Screen checks address against the risk service. It never fails: every
// error path resolves to a not-risky Result tagged OutcomeDegraded.
func (s *Screener) Screen(ctx context.Context, address string) (res Result) {
	ctx, span := traces.StartSpan(ctx, "sanctions.screen", traces.WalletAddr(address))
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during sanctions screening", "address", address, "panic", fmt.Sprint(r))
			res = s.fallback(address, OutcomeDegraded, DetailUnavailable)
		}
		metrics.ScreeningsTotal.WithLabelValues(string(res.Outcome)).Inc()
		span.SetAttributes(traces.Outcome(string(res.Outcome)))
		span.End()
		s.record(res)
	}()

	if !s.Configured() {
		s.logger.Warn("no sanctions API key configured, running in demo mode", "address", address)
		return s.fallback(address, OutcomeDemoMode, DetailDemoMode)
	}

	var body scoreResponse
	err := s.breaker.GuardContext(ctx, breakerKey, func(ctx context.Context) error {
		var err error
		body, err = s.fetch(ctx, address)
		return err
	})
	metrics.ScreeningDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		traces.RecordError(span, err)
		s.logger.Warn("sanctions service unavailable, defaulting to compliant",
			"address", address,
			"error", err,
		)
		return s.fallback(address, OutcomeDegraded, DetailUnavailable)
	}

	score := body.score()
	res = Result{
		ID:         idgen.WithPrefix(idgen.PrefixScreening),
		Address:    address,
		Score:      &score,
		ScreenedAt: s.now(),
	}
	if score > RiskThreshold {
		res.IsRisky = true
		res.Outcome = OutcomeFlagged
		res.Detail = DetailHighRisk
		if factors := body.factorLabels(); len(factors) > 0 {
			res.Detail = strings.Join(factors, ", ")
		}
		s.logger.Info("wallet flagged by sanctions screen", "address", address, "score", score, "detail", res.Detail)
		return res
	}

	res.Outcome = OutcomeCleared
	res.Detail = DetailCleared
	s.logger.Debug("wallet cleared by sanctions screen", "address", address, "score", score)
	return res
}

func (s *Screener) fallback(address string, outcome Outcome, detail string) Result {
	return Result{
		ID:         idgen.WithPrefix(idgen.PrefixScreening),
		Address:    address,
		Outcome:    outcome,
		Detail:     detail,
		ScreenedAt: s.now(),
	}
}

func (s *Screener) fetch(ctx context.Context, address string) (scoreResponse, error) {
	var out scoreResponse

	q := url.Values{}
	q.Set("address", address)
	q.Set("chain", Chain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+scorePath+"?"+q.Encode(), nil)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to reach screening service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("screening service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return out, nil
}

// record persists asynchronously; the audit trail is best effort.
func (s *Screener) record(res Result) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Record(ctx, &res); err != nil {
			s.logger.Warn("failed to record screening", "id", res.ID, "error", err)
		}
	}()
}

// scoreResponse tolerates both field names the service has used for the
// score. Which scale "score" is on is not documented; it is read the same
// way as riskScore.
type scoreResponse struct {
	RiskScore   *float64          `json:"riskScore"`
	Score       *float64          `json:"score"`
	RiskFactors []json.RawMessage `json:"riskFactors"`
}

func (r scoreResponse) score() float64 {
	switch {
	case r.RiskScore != nil:
		return *r.RiskScore
	case r.Score != nil:
		return *r.Score
	default:
		return 0
	}
}

// factorLabels renders risk factors as strings. Factors arrive either as
// plain strings or as objects carrying a label/name/factor field.
func (r scoreResponse) factorLabels() []string {
	labels := make([]string, 0, len(r.RiskFactors))
	for _, raw := range r.RiskFactors {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			if str != "" {
				labels = append(labels, str)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		for _, key := range []string{"label", "name", "factor"} {
			if v, ok := obj[key].(string); ok && v != "" {
				labels = append(labels, v)
				break
			}
		}
	}
	return labels
}
