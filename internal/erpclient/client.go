// Package erpclient is the sole read path into the ERP system. Every
// workflow reads through this client; nothing in this module writes back
// to the ERP (spec.md §1: "read-only with respect to ERP").
//
// Shape is lifted from the Python source's ErpXClient (original_source
// src/accounting_agent/common/erpx_client.py): a rate limiter in front of
// a retrying HTTP GET, with an additional circuit breaker matching the
// teacher's internal/circuitbreaker usage pattern.
package erpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/metrics"
)

// Record is an opaque ERP record — the client deliberately does not model
// ERP schemas beyond what each workflow needs, matching the Python
// source's dict-based responses.
type Record map[string]any

// Client is the rate-limited, retrying, circuit-broken ERP HTTP client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *RateLimiter
	breaker *Breaker

	maxAttempts      int
	retryBaseSeconds float64
	retryMaxSeconds  float64

	log *slog.Logger
}

// New builds a Client from ERPClientConfig. Policy ceilings (qps<=10,
// attempts<=3) must already have been applied via cfg.Clamp() before this
// is called; New does not re-clamp so tests can exercise edge values.
func New(cfg config.ERPClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second))}
	}
	var breaker *Breaker
	if cfg.BreakerEnabled {
		breaker = NewBreaker(DefaultBreakerConfig("erpx"))
	}
	return &Client{
		baseURL:          cfg.BaseURL,
		token:            cfg.Token,
		http:             httpClient,
		limiter:          NewRateLimiter(cfg.QPS),
		breaker:          breaker,
		maxAttempts:      cfg.MaxAttempts,
		retryBaseSeconds: cfg.RetryBaseSeconds,
		retryMaxSeconds:  cfg.RetryMaxSeconds,
		log:              logging.New("erpclient"),
	}
}

// backoffDelay implements spec.md §4.1's formula:
//
//	min(max_seconds, base * 2^(attempt-1)) * uniform(0.5, 1.5)
//
// attempt is 1-indexed (the first retry is attempt=1).
func backoffDelay(attempt int, base, max float64) time.Duration {
	raw := base * float64(int(1)<<uint(attempt-1))
	if raw > max {
		raw = max
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(raw * jitter * float64(time.Second))
}

// isRetryable classifies an HTTP status per spec.md §4.1: 5xx, 408, and
// 429 are retryable; all other 4xx are terminal.
func isRetryable(status int) bool {
	if status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// get performs one rate-limited, retrying, circuit-broken GET against
// endpoint with the given query params, decoding the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	start := time.Now()
	defer func() {
		metrics.ERPXRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.limiter.Acquire()

		callErr := c.doOnce(ctx, endpoint, params, out)
		if callErr == nil {
			metrics.ERPXRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
			return nil
		}
		lastErr = callErr

		var statusErr *statusError
		retryable := true
		if asStatusError(callErr, &statusErr) {
			retryable = isRetryable(statusErr.status)
		}
		if !retryable || attempt == c.maxAttempts {
			break
		}

		metrics.ERPXRetryTotal.WithLabelValues(endpoint).Inc()
		delay := backoffDelay(attempt, c.retryBaseSeconds, c.retryMaxSeconds)
		c.log.Warn("erp request retrying", "endpoint", endpoint, "attempt", attempt, "delay", delay, "err", callErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.ERPXRequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return apperr.Upstream(ctx.Err(), "erp request %s cancelled", endpoint)
		}
	}

	metrics.ERPXRequestsTotal.WithLabelValues(endpoint, "error").Inc()
	return apperr.Upstream(lastErr, "erp request %s exhausted %d attempts", endpoint, c.maxAttempts)
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("erp responded %d: %s", e.status, e.body)
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

func (c *Client) doOnce(ctx context.Context, endpoint string, params url.Values, out any) error {
	call := func() error {
		u := c.baseURL + endpoint
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return &statusError{status: resp.StatusCode, body: string(body)}
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", endpoint, err)
			}
		}
		return nil
	}

	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Execute(call)
	if err == ErrBreakerOpen {
		return &statusError{status: http.StatusServiceUnavailable, body: "circuit breaker open"}
	}
	return err
}

// The methods below mirror the Python ErpXClient's resource accessors
// (original_source src/accounting_agent/common/erpx_client.py) and the
// ERP read surface named in spec.md §6.

func (c *Client) GetJournals(ctx context.Context, updatedAfterHours int) ([]Record, error) {
	var out []Record
	params := url.Values{}
	if updatedAfterHours > 0 {
		params.Set("updated_after_hours", fmt.Sprint(updatedAfterHours))
	}
	err := c.get(ctx, "/journals", params, &out)
	return out, err
}

func (c *Client) GetVouchers(ctx context.Context, updatedAfterHours int) ([]Record, error) {
	var out []Record
	params := url.Values{}
	if updatedAfterHours > 0 {
		params.Set("updated_after_hours", fmt.Sprint(updatedAfterHours))
	}
	err := c.get(ctx, "/vouchers", params, &out)
	return out, err
}

func (c *Client) GetInvoices(ctx context.Context, period string) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/invoices", url.Values{"period": {period}}, &out)
	return out, err
}

func (c *Client) GetARAging(ctx context.Context, asOf string) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/ar_aging", url.Values{"as_of": {asOf}}, &out)
	return out, err
}

func (c *Client) GetAssets(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/assets", nil, &out)
	return out, err
}

func (c *Client) GetCloseCalendar(ctx context.Context, period string) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/close_calendar", url.Values{"period": {period}}, &out)
	return out, err
}

func (c *Client) GetBankTransactions(ctx context.Context, updatedAfterHours int) ([]Record, error) {
	var out []Record
	params := url.Values{}
	if updatedAfterHours > 0 {
		params.Set("updated_after_hours", fmt.Sprint(updatedAfterHours))
	}
	err := c.get(ctx, "/bank_transactions", params, &out)
	return out, err
}

func (c *Client) GetPartners(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/partners", nil, &out)
	return out, err
}

func (c *Client) GetContracts(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/contracts", nil, &out)
	return out, err
}

func (c *Client) GetPayments(ctx context.Context, period string) ([]Record, error) {
	var out []Record
	err := c.get(ctx, "/payments", url.Values{"period": {period}}, &out)
	return out, err
}
