package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoll(ResultOK)
		m.ObserveFetch("mock", true, time.Second)
		m.ObserveSettlement()
		m.SetHoldingsPolled(3)
		m.ObserveRequest("/api/funds", http.MethodGet, http.StatusOK)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New("fundtracker")
	m.ObservePoll(ResultOK)
	m.ObservePoll(ResultFetchFailed)
	m.ObserveSettlement()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `fundtracker_poll_cycles_total{result="ok"} 1`)
	assert.Contains(t, body, `fundtracker_poll_cycles_total{result="fetch_failed"} 1`)
	assert.Contains(t, body, "fundtracker_settlements_total 1")
}
