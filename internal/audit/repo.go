package audit

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/tiergate/tiergate/internal/model"
)

// Repo wraps the audit database with batch write and query helpers.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a repo over an opened, migrated database.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// DB exposes the underlying handle for lifecycle management.
func (r *Repo) DB() *sql.DB {
	return r.db
}

// FlushOps is one transactional batch of audit writes.
type FlushOps struct {
	UpsertSessions []model.SessionRecord
	DeleteSessions []string
	UpsertHealth   []model.ProviderHealthRecord
	InsertEvents   []model.FailoverEventRecord
}

func (f FlushOps) empty() bool {
	return len(f.UpsertSessions) == 0 && len(f.DeleteSessions) == 0 &&
		len(f.UpsertHealth) == 0 && len(f.InsertEvents) == 0
}

// FlushTx executes all writes in a single transaction.
func (r *Repo) FlushTx(ops FlushOps) error {
	if ops.empty() {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("audit repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, s := range ops.UpsertSessions {
		if _, err := tx.Exec(`INSERT INTO ip_sessions (
			ip, user_id, provider_name, tier,
			session_start_ns, last_activity_ns, channels_json, request_count
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(ip) DO UPDATE SET
			user_id = excluded.user_id,
			provider_name = excluded.provider_name,
			tier = excluded.tier,
			last_activity_ns = excluded.last_activity_ns,
			channels_json = excluded.channels_json,
			request_count = excluded.request_count`,
			s.IP, s.UserID, s.ProviderName, s.Tier,
			s.SessionStartNs, s.LastActivityNs, s.ChannelsAccessed, s.RequestCount,
		); err != nil {
			return fmt.Errorf("audit repo upsert session %s: %w", s.IP, err)
		}
	}

	for _, ip := range ops.DeleteSessions {
		if _, err := tx.Exec(`DELETE FROM ip_sessions WHERE ip = ?`, ip); err != nil {
			return fmt.Errorf("audit repo delete session %s: %w", ip, err)
		}
	}

	for _, h := range ops.UpsertHealth {
		if _, err := tx.Exec(`INSERT INTO provider_health (
			provider_name, tier, health_status, last_check_ns,
			latency_ns, http_status, error_detail, active_ip_count
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(provider_name) DO UPDATE SET
			tier = excluded.tier,
			health_status = excluded.health_status,
			last_check_ns = excluded.last_check_ns,
			latency_ns = excluded.latency_ns,
			http_status = excluded.http_status,
			error_detail = excluded.error_detail,
			active_ip_count = excluded.active_ip_count`,
			h.ProviderName, h.Tier, h.HealthStatus, h.LastCheckNs,
			h.LatencyNs, h.HTTPStatus, h.ErrorDetail, h.ActiveIPCount,
		); err != nil {
			return fmt.Errorf("audit repo upsert health %s: %w", h.ProviderName, err)
		}
	}

	for _, e := range ops.InsertEvents {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO failover_events (
			id, ip, user_id, from_provider, to_provider, reason, ts_ns
		) VALUES (?,?,?,?,?,?,?)`,
			e.ID, e.IP, e.UserID, e.FromProvider, e.ToProvider, e.Reason, e.TimestampNs,
		); err != nil {
			return fmt.Errorf("audit repo insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit repo commit: %w", err)
	}
	return nil
}

// ListSessions returns all persisted sessions ordered by last activity DESC.
func (r *Repo) ListSessions() ([]model.SessionRecord, error) {
	rows, err := r.db.Query(`SELECT ip, user_id, provider_name, tier,
		session_start_ns, last_activity_ns, channels_json, request_count
		FROM ip_sessions ORDER BY last_activity_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("audit repo list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		var s model.SessionRecord
		if err := rows.Scan(&s.IP, &s.UserID, &s.ProviderName, &s.Tier,
			&s.SessionStartNs, &s.LastActivityNs, &s.ChannelsAccessed, &s.RequestCount); err != nil {
			return nil, fmt.Errorf("audit repo scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListProviderHealth returns the persisted health snapshot per provider,
// ordered by tier then name.
func (r *Repo) ListProviderHealth() ([]model.ProviderHealthRecord, error) {
	rows, err := r.db.Query(`SELECT provider_name, tier, health_status, last_check_ns,
		latency_ns, http_status, error_detail, active_ip_count
		FROM provider_health ORDER BY tier ASC, provider_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit repo list health: %w", err)
	}
	defer rows.Close()

	var out []model.ProviderHealthRecord
	for rows.Next() {
		var h model.ProviderHealthRecord
		if err := rows.Scan(&h.ProviderName, &h.Tier, &h.HealthStatus, &h.LastCheckNs,
			&h.LatencyNs, &h.HTTPStatus, &h.ErrorDetail, &h.ActiveIPCount); err != nil {
			return nil, fmt.Errorf("audit repo scan health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EventFilter specifies query filters for listing failover events.
type EventFilter struct {
	IP       string
	Provider string // matches either side of the transition
	Reason   string
	Before   int64 // ts_ns < Before (0 means no upper bound)
	After    int64 // ts_ns > After (0 means no lower bound)
	Limit    int
	Offset   int
}

// ListEvents returns matching failover events ordered by ts_ns DESC.
func (r *Repo) ListEvents(f EventFilter) ([]model.FailoverEventRecord, error) {
	var where []string
	var args []interface{}

	if f.IP != "" {
		where = append(where, "ip = ?")
		args = append(args, f.IP)
	}
	if f.Provider != "" {
		where = append(where, "(from_provider = ? OR to_provider = ?)")
		args = append(args, f.Provider, f.Provider)
	}
	if f.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, f.Reason)
	}
	if f.Before > 0 {
		where = append(where, "ts_ns < ?")
		args = append(args, f.Before)
	}
	if f.After > 0 {
		where = append(where, "ts_ns > ?")
		args = append(args, f.After)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := "SELECT id, ip, user_id, from_provider, to_provider, reason, ts_ns FROM failover_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit repo list events: %w", err)
	}
	defer rows.Close()

	var out []model.FailoverEventRecord
	for rows.Next() {
		var e model.FailoverEventRecord
		if err := rows.Scan(&e.ID, &e.IP, &e.UserID, &e.FromProvider, &e.ToProvider, &e.Reason, &e.TimestampNs); err != nil {
			return nil, fmt.Errorf("audit repo scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of stored failover events.
func (r *Repo) CountEvents() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM failover_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit repo count events: %w", err)
	}
	return n, nil
}
