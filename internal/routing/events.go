// Package routing selects the serving provider for a client IP: sticky
// assignment first, tier-ordered failover when the sticky choice is unusable.
package routing

import "time"

// Failover reasons recorded on emitted events.
const (
	// ReasonCapacityOrHealth marks a selection-time switch away from a
	// sticky provider that lost health or capacity.
	ReasonCapacityOrHealth = "capacity_or_health"
	// ReasonEscalation marks a mid-request switch to a higher tier after an
	// upstream fetch failure.
	ReasonEscalation = "escalation"
)

// FailoverEvent describes one provider switch for a client IP.
type FailoverEvent struct {
	IP           string
	UserID       string
	FromProvider string
	ToProvider   string
	Reason       string
	At           time.Time
}

// EventFunc receives failover events as they happen. Implementations must not
// block; the audit service queues them.
type EventFunc func(ev FailoverEvent)
