package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

// MetricsService wraps the Prometheus registry and keeps counters for the JSON snapshot.
// All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	inFlight        prometheus.Gauge
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec

	reservationsCreated *prometheus.CounterVec
	slotConflicts       prometheus.Counter
	transitions         *prometheus.CounterVec
	walletCredits       *prometheus.CounterVec
	reconciles          *prometheus.CounterVec
	paymentCallbacks    *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
	reservationCount     uint64
	conflictCount        uint64
	creditCount          uint64
	creditSkippedCount   uint64
	correctedCount       uint64
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "availability_cache_latency_seconds",
		Help:    "Latency for availability cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "availability_cache_hit_ratio",
		Help: "Ratio of cache hits to total availability cache lookups",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "availability_cache_lookups_total",
		Help: "Availability cache lookups by result",
	}, []string{"result"})

	reservationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Reservations written, by origin",
	}, []string{"source"})

	slotConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservation_slot_conflicts_total",
		Help: "Reservation requests rejected because of overlapping bookings",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Reservation status changes",
	}, []string{"from", "to"})

	walletCredits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_credits_total",
		Help: "Wallet credit attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_reconciliations_total",
		Help: "Wallet reconciliations by outcome",
	}, []string{"outcome"})

	paymentCallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Payment provider callbacks by status and outcome",
	}, []string{"status", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, inFlight,
		cacheLatency, cacheHitRatio, cacheLookups,
		reservationsCreated, slotConflicts, transitions,
		walletCredits, reconciles, paymentCallbacks,
		goroutines,
	)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		inFlight:            inFlight,
		cacheLatency:        cacheLatency,
		cacheHitRatio:       cacheHitRatio,
		cacheLookups:        cacheLookups,
		reservationsCreated: reservationsCreated,
		slotConflicts:       slotConflicts,
		transitions:         transitions,
		walletCredits:       walletCredits,
		reconciles:          reconciles,
		paymentCallbacks:    paymentCallbacks,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// TrackInFlight adjusts the in-flight request gauge by delta.
func (m *MetricsService) TrackInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// RecordCacheOperation records an availability cache lookup and refreshes the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordReservationsCreated counts n reservations written by source ("booking", "subscription").
func (m *MetricsService) RecordReservationsCreated(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reservationsCreated.WithLabelValues(source).Add(float64(n))
	atomic.AddUint64(&m.reservationCount, uint64(n))
}

// RecordSlotConflict counts a request rejected for overlapping an existing reservation.
func (m *MetricsService) RecordSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
	atomic.AddUint64(&m.conflictCount, 1)
}

// RecordReservationTransition counts a status change.
func (m *MetricsService) RecordReservationTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordWalletCredit counts a credit attempt; applied is false for idempotent replays.
func (m *MetricsService) RecordWalletCredit(kind string, applied bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if applied {
		atomic.AddUint64(&m.creditCount, 1)
	} else {
		outcome = "skipped"
		atomic.AddUint64(&m.creditSkippedCount, 1)
	}
	m.walletCredits.WithLabelValues(kind, outcome).Inc()
}

// RecordReconcile counts a reconciliation run for one wallet.
func (m *MetricsService) RecordReconcile(corrected bool) {
	if m == nil {
		return
	}
	outcome := "clean"
	if corrected {
		outcome = "corrected"
		atomic.AddUint64(&m.correctedCount, 1)
	}
	m.reconciles.WithLabelValues(outcome).Inc()
}

// RecordPaymentCallback counts a provider callback.
func (m *MetricsService) RecordPaymentCallback(status, outcome string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.WithLabelValues(status, outcome).Inc()
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		ReservationsCreated:      atomic.LoadUint64(&m.reservationCount),
		SlotConflicts:            atomic.LoadUint64(&m.conflictCount),
		WalletCredits:            atomic.LoadUint64(&m.creditCount),
		WalletCreditsSkipped:     atomic.LoadUint64(&m.creditSkippedCount),
		WalletsCorrected:         atomic.LoadUint64(&m.correctedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
