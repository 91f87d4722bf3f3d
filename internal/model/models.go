// Package model defines domain structs shared across the persistence layer.
package model

// SessionRecord is the persisted form of an IP session (one row per IP, upserted).
type SessionRecord struct {
	IP               string `json:"ip"`
	UserID           string `json:"user_id"`
	ProviderName     string `json:"provider_name"`
	Tier             int    `json:"tier"`
	SessionStartNs   int64  `json:"session_start_ns"`
	LastActivityNs   int64  `json:"last_activity_ns"`
	ChannelsAccessed string `json:"channels_accessed"` // JSON array
	RequestCount     int64  `json:"request_count"`
}

// ProviderHealthRecord is the latest health snapshot for a provider (upserted).
type ProviderHealthRecord struct {
	ProviderName  string `json:"provider_name"`
	Tier          int    `json:"tier"`
	HealthStatus  string `json:"health_status"`
	LastCheckNs   int64  `json:"last_check_ns"`
	LatencyNs     int64  `json:"latency_ns"`
	HTTPStatus    int    `json:"http_status"`
	ErrorDetail   string `json:"error_detail"`
	ActiveIPCount int    `json:"active_ip_count"`
}

// FailoverEventRecord is one append-only audit row for a provider transition.
type FailoverEventRecord struct {
	ID           string `json:"id"`
	IP           string `json:"ip"`
	UserID       string `json:"user_id"`
	FromProvider string `json:"from_provider"`
	ToProvider   string `json:"to_provider"`
	Reason       string `json:"reason"`
	TimestampNs  int64  `json:"timestamp_ns"`
}
