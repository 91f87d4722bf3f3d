// Package session tracks live client sessions keyed by IP: sticky provider,
// activity timestamps, and accessed channels. Sessions drive provider
// occupancy accounting.
package session

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Session is one client IP's live state. Stored by value; Channels uses
// copy-on-write so snapshots never race updates.
type Session struct {
	IP           string
	UserID       string
	ProviderName string
	Tier         int
	Start        time.Time
	LastActivity time.Time
	Channels     map[string]struct{}
	RequestCount int64
}

// ChannelList returns the accessed channel IDs. Order is unspecified.
func (s Session) ChannelList() []string {
	out := make([]string, 0, len(s.Channels))
	for ch := range s.Channels {
		out = append(out, ch)
	}
	return out
}

// DirtyFunc is notified whenever a session changes, so the audit layer can
// schedule a persistence flush.
type DirtyFunc func(s Session)

// OccupancyHooks decouple the store from the provider registry. Admit and
// Evict adjust a provider's occupancy set.
type OccupancyHooks struct {
	Admit func(providerName, ip string)
	Evict func(providerName, ip string)
}

// Store is the concurrent session table.
type Store struct {
	sessions *xsync.Map[string, Session]
	hooks    OccupancyHooks
	onDirty  DirtyFunc

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a session store. hooks functions and onDirty may be nil.
func NewStore(hooks OccupancyHooks, onDirty DirtyFunc) *Store {
	return &Store{
		sessions: xsync.NewMap[string, Session](),
		hooks:    hooks,
		onDirty:  onDirty,
		now:      time.Now,
	}
}

// Touch records a request from ip served by providerName. It creates the
// session on first sight and updates activity, channel set, and request count
// atomically. Provider occupancy is adjusted when the assignment changes.
func (s *Store) Touch(ip, userID, providerName string, tier int, channelID string) Session {
	now := s.now()
	var prevProvider string
	var created bool

	updated, _ := s.sessions.Compute(ip, func(old Session, loaded bool) (Session, xsync.ComputeOp) {
		if !loaded {
			created = true
			old = Session{
				IP:       ip,
				UserID:   userID,
				Start:    now,
				Channels: map[string]struct{}{},
			}
		}
		prevProvider = old.ProviderName
		next := old
		next.ProviderName = providerName
		next.Tier = tier
		next.LastActivity = now
		next.RequestCount++
		if channelID != "" {
			if _, seen := old.Channels[channelID]; !seen {
				channels := make(map[string]struct{}, len(old.Channels)+1)
				for ch := range old.Channels {
					channels[ch] = struct{}{}
				}
				channels[channelID] = struct{}{}
				next.Channels = channels
			}
		}
		return next, xsync.UpdateOp
	})

	if created || prevProvider != providerName {
		if prevProvider != "" && s.hooks.Evict != nil {
			s.hooks.Evict(prevProvider, ip)
		}
		if s.hooks.Admit != nil {
			s.hooks.Admit(providerName, ip)
		}
	}
	if s.onDirty != nil {
		s.onDirty(updated)
	}
	return updated
}

// Get returns the session for ip, if any.
func (s *Store) Get(ip string) (Session, bool) {
	return s.sessions.Load(ip)
}

// Remove deletes ip's session and releases its occupancy slot.
// Returns the removed session.
func (s *Store) Remove(ip string) (Session, bool) {
	old, existed := s.sessions.LoadAndDelete(ip)
	if existed && old.ProviderName != "" && s.hooks.Evict != nil {
		s.hooks.Evict(old.ProviderName, ip)
	}
	return old, existed
}

// Snapshot returns a copy of all live sessions.
func (s *Store) Snapshot() []Session {
	out := make([]Session, 0, s.sessions.Size())
	s.sessions.Range(func(_ string, sess Session) bool {
		out = append(out, sess)
		return true
	})
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Size()
}

// expireOlderThan removes sessions whose last activity predates cutoff.
// Expiry is re-checked inside the compute step so a request racing the sweep
// keeps its session.
func (s *Store) expireOlderThan(cutoff time.Time) []Session {
	var candidates []string
	s.sessions.Range(func(ip string, sess Session) bool {
		if sess.LastActivity.Before(cutoff) {
			candidates = append(candidates, ip)
		}
		return true
	})

	var expired []Session
	for _, ip := range candidates {
		var removed Session
		var ok bool
		s.sessions.Compute(ip, func(old Session, loaded bool) (Session, xsync.ComputeOp) {
			if !loaded || !old.LastActivity.Before(cutoff) {
				return old, xsync.CancelOp
			}
			removed, ok = old, true
			return old, xsync.DeleteOp
		})
		if ok {
			if removed.ProviderName != "" && s.hooks.Evict != nil {
				s.hooks.Evict(removed.ProviderName, ip)
			}
			expired = append(expired, removed)
		}
	}
	return expired
}
