package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"FundTracker/internal/metrics"
	"FundTracker/internal/model"
)

// MockFetcher returns controllable fixed estimates for development and testing.
type MockFetcher struct {
	mu        sync.Mutex
	Estimates map[string]*model.ValuationEstimate
	Err       error
	Delay     time.Duration
	calls     map[string]int
}

// NewMockFetcher creates a MockFetcher serving the given estimates by code.
func NewMockFetcher(estimates ...*model.ValuationEstimate) *MockFetcher {
	m := &MockFetcher{Estimates: make(map[string]*model.ValuationEstimate), calls: make(map[string]int)}
	for _, e := range estimates {
		m.Estimates[e.Code] = e
	}
	return m
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Fetch(ctx context.Context, code string) (*model.ValuationEstimate, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[code]++
	delay, fail := m.Delay, m.Err
	est, ok := m.Estimates[code]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoEstimate, ctx.Err())
		case <-time.After(delay):
		}
	}
	if fail != nil {
		return nil, fail
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown code %s", ErrNoEstimate, code)
	}
	cp := *est
	return &cp, nil
}

// Set replaces the estimate served for its code.
func (m *MockFetcher) Set(est *model.ValuationEstimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Estimates == nil {
		m.Estimates = make(map[string]*model.ValuationEstimate)
	}
	m.Estimates[est.Code] = est
}

// SetError makes every following fetch fail with err (nil restores success).
func (m *MockFetcher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Calls returns how many times code was fetched.
func (m *MockFetcher) Calls(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[code]
}

// Collector wraps a Fetcher with a per-request deadline, logging and metrics.
type Collector struct {
	Fetcher Fetcher
	Timeout time.Duration
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Collector{Fetcher: fetcher, Timeout: timeout, Metrics: m, Log: log}
}

func (c *Collector) Name() string { return c.Fetcher.Name() }

// Fetch asks the underlying fetcher for an estimate. A throttled fetcher is
// waited on first under the caller's context; only the request itself is
// bounded by Timeout.
func (c *Collector) Fetch(ctx context.Context, code string) (*model.ValuationEstimate, error) {
	if t, ok := c.Fetcher.(Throttled); ok {
		if err := t.Wait(ctx); err != nil {
			c.Log.Warn().Err(err).Str("code", code).Str("source", c.Fetcher.Name()).Msg("fetch not admitted")
			return nil, fmt.Errorf("%w: %v", ErrNoEstimate, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	est, err := c.Fetcher.Fetch(ctx, code)
	c.Metrics.ObserveFetch(c.Fetcher.Name(), err == nil, time.Since(start))
	if err != nil {
		c.Log.Warn().Err(err).Str("code", code).Str("source", c.Fetcher.Name()).Msg("fetch estimate failed")
		return nil, err
	}
	if est.Code == "" {
		est.Code = code
	}
	return est, nil
}
