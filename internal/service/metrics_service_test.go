package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/teachers/:teacherId/availability", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/reservations", http.StatusConflict, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordReservationsCreated("subscription", 8)
	m.RecordReservationsCreated("booking", 0)
	m.RecordSlotConflict()
	m.RecordWalletCredit("session", true)
	m.RecordWalletCredit("session", false)
	m.RecordReconcile(true)
	m.RecordReconcile(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30, snap.AverageRequestDurationMs, 0.001)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 0.0001)
	assert.Equal(t, uint64(8), snap.ReservationsCreated)
	assert.Equal(t, uint64(1), snap.SlotConflicts)
	assert.Equal(t, uint64(1), snap.WalletCredits)
	assert.Equal(t, uint64(1), snap.WalletCreditsSkipped)
	assert.Equal(t, uint64(1), snap.WalletsCorrected)
}

func TestMetricsPrometheusExposition(t *testing.T) {
	m := NewMetricsService()
	m.TrackInFlight(1)
	m.RecordPaymentCallback("SUCCESS", "applied")
	m.RecordReservationTransition("PENDING", "CONFIRMED")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "http_requests_in_flight 1")
	assert.Contains(t, body, `payment_callbacks_total{outcome="applied",status="SUCCESS"} 1`)
	assert.Contains(t, body, `reservation_transitions_total{from="PENDING",to="CONFIRMED"} 1`)
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.TrackInFlight(1)
		m.RecordSlotConflict()
		m.RecordWalletCredit("payment", true)
	})
	assert.Zero(t, m.Snapshot().RequestsTotal)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
