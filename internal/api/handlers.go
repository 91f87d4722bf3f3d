package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/tiergate/tiergate/internal/audit"
	"github.com/tiergate/tiergate/internal/buildinfo"
	"github.com/tiergate/tiergate/internal/probe"
	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/session"
)

// HandleHealthz returns a handler for GET /healthz.
// No authentication is required.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatusResponse is the gateway-wide status summary.
type StatusResponse struct {
	Version           string         `json:"version"`
	GitCommit         string         `json:"git_commit"`
	UptimeSeconds     int64          `json:"uptime_seconds"`
	Providers         int            `json:"providers"`
	ProvidersByHealth map[string]int `json:"providers_by_health"`
	ActiveSessions    int            `json:"active_sessions"`
	TotalEvents       int64          `json:"total_events"`
}

// HandleStatus returns a handler for GET /api/v1/status.
func HandleStatus(startedAt time.Time, registry *provider.Registry, sessions *session.Store, repo *audit.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byHealth := map[string]int{}
		for _, p := range registry.Ordered() {
			byHealth[string(p.Health().Status)]++
		}
		totalEvents, err := repo.CountEvents()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, StatusResponse{
			Version:           buildinfo.Version,
			GitCommit:         buildinfo.GitCommit,
			UptimeSeconds:     int64(time.Since(startedAt).Seconds()),
			Providers:         registry.Len(),
			ProvidersByHealth: byHealth,
			ActiveSessions:    sessions.Len(),
			TotalEvents:       totalEvents,
		})
	}
}

// ProviderView is the live state of one provider as served by the API.
type ProviderView struct {
	Name         string `json:"name"`
	Tier         int    `json:"tier"`
	Capacity     int    `json:"capacity"`
	Occupancy    int    `json:"occupancy"`
	HealthStatus string `json:"health_status"`
	LastCheckNs  int64  `json:"last_check_ns"`
	LatencyNs    int64  `json:"latency_ns"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	XtreamBacked bool   `json:"xtream_backed"`
}

// HandleListProviders returns a handler for GET /api/v1/providers.
func HandleListProviders(registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]ProviderView, 0, registry.Len())
		for _, p := range registry.Ordered() {
			h := p.Health()
			view := ProviderView{
				Name:         p.Name,
				Tier:         p.Tier,
				Capacity:     p.Capacity,
				Occupancy:    p.Occupancy(),
				HealthStatus: string(h.Status),
				LatencyNs:    int64(h.Latency),
				HTTPStatus:   h.HTTPStatus,
				ErrorDetail:  h.Detail,
				XtreamBacked: p.Xtream != nil,
			}
			if !h.LastCheck.IsZero() {
				view.LastCheckNs = h.LastCheck.UnixNano()
			}
			out = append(out, view)
		}
		WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
	}
}

// SessionView is the live state of one client session as served by the API.
type SessionView struct {
	IP             string   `json:"ip"`
	UserID         string   `json:"user_id"`
	ProviderName   string   `json:"provider_name"`
	Tier           int      `json:"tier"`
	SessionStartNs int64    `json:"session_start_ns"`
	LastActivityNs int64    `json:"last_activity_ns"`
	Channels       []string `json:"channels"`
	RequestCount   int64    `json:"request_count"`
}

// HandleListSessions returns a handler for GET /api/v1/sessions.
func HandleListSessions(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := sessions.Snapshot()
		sort.Slice(snap, func(i, j int) bool {
			return snap[i].LastActivity.After(snap[j].LastActivity)
		})
		out := make([]SessionView, 0, len(snap))
		for _, s := range snap {
			channels := s.ChannelList()
			sort.Strings(channels)
			out = append(out, SessionView{
				IP:             s.IP,
				UserID:         s.UserID,
				ProviderName:   s.ProviderName,
				Tier:           s.Tier,
				SessionStartNs: s.Start.UnixNano(),
				LastActivityNs: s.LastActivity.UnixNano(),
				Channels:       channels,
				RequestCount:   s.RequestCount,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// HandleListEvents returns a handler for GET /api/v1/events.
// Supported query parameters: ip, provider, reason, before, after, limit, offset.
func HandleListEvents(repo *audit.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := audit.EventFilter{
			IP:       q.Get("ip"),
			Provider: q.Get("provider"),
			Reason:   q.Get("reason"),
		}
		var err error
		if f.Before, err = parseInt64Param(q.Get("before")); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "before: must be an integer")
			return
		}
		if f.After, err = parseInt64Param(q.Get("after")); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "after: must be an integer")
			return
		}
		if f.Limit, err = parseIntParam(q.Get("limit")); err != nil || f.Limit < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit: must be a non-negative integer")
			return
		}
		if f.Offset, err = parseIntParam(q.Get("offset")); err != nil || f.Offset < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "offset: must be a non-negative integer")
			return
		}

		events, err := repo.ListEvents(f)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

// HandleChannelHealth returns a handler for GET /api/v1/channel-health.
// Without a provider query parameter it returns per-provider sweep summaries;
// with one, the full per-channel reports for that provider.
func HandleChannelHealth(sweeper *probe.Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("provider")
		if name == "" {
			WriteJSON(w, http.StatusOK, map[string]any{"summaries": sweeper.Summaries()})
			return
		}
		reports, ok := sweeper.Reports(name)
		if !ok {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "no sweep data for provider "+name)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"provider": name, "reports": reports})
	}
}

// HandleTriggerProbe returns a handler for POST /api/v1/actions/probe-now.
// The scan runs in the background; the call returns immediately.
func HandleTriggerProbe(prober *probe.Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go prober.ScanOnce()
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "probe scheduled"})
	}
}

// HandleTriggerSweep returns a handler for POST /api/v1/actions/sweep-now.
func HandleTriggerSweep(sweeper *probe.Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go sweeper.SweepAll(context.Background())
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sweep scheduled"})
	}
}

func parseIntParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func parseInt64Param(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
