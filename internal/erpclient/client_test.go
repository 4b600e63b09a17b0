package erpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(baseURL string) config.ERPClientConfig {
	cfg := config.ERPClientConfig{
		BaseURL:          baseURL,
		QPS:              0, // unlimited in client tests; limiter tests build their own RateLimiter
		MaxAttempts:      3,
		TimeoutSeconds:   5,
		RetryBaseSeconds: 0.01,
		RetryMaxSeconds:  0.05,
		BreakerEnabled:   false,
	}
	return cfg
}

func TestClient_RetriesOnRetryableStatusUpToMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := newTestConfig(srv.URL)
	c := New(cfg, srv.Client())

	_, err := c.GetJournals(context.Background(), 0)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "must stop at max_attempts=3")
}

func TestClient_DoesNotRetryTerminal4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := newTestConfig(srv.URL)
	c := New(cfg, srv.Client())

	_, err := c.GetVouchers(context.Background(), 0)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a terminal 400 must not be retried")
}

func TestClient_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "1"}]`))
	}))
	defer srv.Close()

	cfg := newTestConfig(srv.URL)
	c := New(cfg, srv.Client())

	out, err := c.GetPartners(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRateLimiter_EnforcesFloorBetweenAcquires(t *testing.T) {
	rl := NewRateLimiter(10) // 100ms interval
	start := time.Now()
	rl.Acquire()
	rl.Acquire()
	rl.Acquire()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 190*time.Millisecond, "three acquires at 10qps must take >=~200ms")
}

func TestRateLimiter_DisabledWhenQPSZero(t *testing.T) {
	rl := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		rl.Acquire()
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBreaker_OpensAfterConsecutiveFailuresThenRecovers(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRequests = 1
	b := NewBreaker(cfg)

	failing := func() error { return assertError }
	for i := 0; i < 5; i++ {
		_ = b.Execute(failing)
	}
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)

	time.Sleep(15 * time.Millisecond)
	err = b.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

var assertError = &statusError{status: 503, body: "boom"}
