package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func newTestLimiter(rpm, burst int) (*Limiter, *fakeNow) {
	clock := &fakeNow{t: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	l.now = clock.now
	return l, clock
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("ip")
		assert.True(t, ok, "request %d within burst", i)
	}

	ok, wait := l.Allow("ip")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	clock.t = clock.t.Add(time.Second)
	ok, _ = l.Allow("ip")
	assert.True(t, ok, "one token back after a second at 60/min")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	defer l.Stop()

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	ok, _ = l.Allow("b")
	assert.True(t, ok)
}

func TestLimiter_EvictIdle(t *testing.T) {
	l, clock := newTestLimiter(60, 5)
	defer l.Stop()

	l.Allow("a")
	require.Equal(t, 1, l.Len())

	clock.t = clock.t.Add(10 * time.Second)
	l.evictIdle()
	assert.Equal(t, 0, l.Len())
}

func TestLimiter_DefaultsAndDoubleStop(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultConfig().RequestsPerMinute, l.cfg.RequestsPerMinute)
	l.Stop()
	l.Stop()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60, 2)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/screenings/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	var last *httptest.ResponseRecorder
	for i := range codes {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest("GET", "/v1/screenings/x", nil))
		codes[i] = last.Code
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "rate_limit_exceeded")
}
