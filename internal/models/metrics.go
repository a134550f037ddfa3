package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for the summary
// endpoint; full series live in Prometheus.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	AllocationsTotal         uint64    `json:"allocations_total"`
	CreditRemainderEvents    uint64    `json:"credit_remainder_events"`
	RolloversCompleted       uint64    `json:"rollovers_completed"`
	RolloversAborted         uint64    `json:"rollovers_aborted"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
