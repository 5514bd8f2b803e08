package models

import "time"

// SystemMetrics is a point-in-time summary served to administrators.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	MessagesSent             uint64    `json:"messagesSent"`
	RealtimeConnections      int64     `json:"realtimeConnections"`
	EventsDelivered          uint64    `json:"eventsDelivered"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
