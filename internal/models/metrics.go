package models

import "time"

// SystemMetrics is the JSON snapshot served next to the Prometheus endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	ReservationsCreated      uint64    `json:"reservations_created"`
	SlotConflicts            uint64    `json:"slot_conflicts"`
	WalletCredits            uint64    `json:"wallet_credits"`
	WalletCreditsSkipped     uint64    `json:"wallet_credits_skipped"`
	WalletsCorrected         uint64    `json:"wallets_corrected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
