package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiergate/tiergate/internal/model"
	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/routing"
	"github.com/tiergate/tiergate/internal/session"
)

// Readers provides callbacks for reading current in-memory values at flush
// time. If a reader returns nil for a key marked OpUpsert, the key is treated
// as a delete.
type Readers struct {
	ReadSession func(ip string) *model.SessionRecord
	ReadHealth  func(providerName string) *model.ProviderHealthRecord
}

// Service is the single write entry point for audit persistence. Session and
// health snapshots go through dirty sets and batch upserts; failover events
// are queued (non-blocking, dropped on overflow) and appended in batches.
type Service struct {
	repo    *Repo
	readers Readers

	dirtySessions *DirtySet[string]
	dirtyHealth   *DirtySet[string]
	eventQueue    chan model.FailoverEventRecord

	thresholdFn func() int
	intervalFn  func() time.Duration
	checkTick   time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ServiceConfig configures the audit service.
type ServiceConfig struct {
	Repo    *Repo
	Readers Readers

	QueueSize      int
	FlushThreshold func() int
	FlushInterval  func() time.Duration
	CheckTick      time.Duration // how often flush conditions are evaluated
}

// NewService creates the audit service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.FlushThreshold == nil {
		panic("audit: NewService requires non-nil FlushThreshold")
	}
	if cfg.FlushInterval == nil {
		panic("audit: NewService requires non-nil FlushInterval")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	checkTick := cfg.CheckTick
	if checkTick <= 0 {
		checkTick = 5 * time.Second
	}
	return &Service{
		repo:          cfg.Repo,
		readers:       cfg.Readers,
		dirtySessions: NewDirtySet[string](),
		dirtyHealth:   NewDirtySet[string](),
		eventQueue:    make(chan model.FailoverEventRecord, queueSize),
		thresholdFn:   cfg.FlushThreshold,
		intervalFn:    cfg.FlushInterval,
		checkTick:     checkTick,
		stopCh:        make(chan struct{}),
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}

// MarkSession marks an IP's session for upsert at the next flush.
func (s *Service) MarkSession(ip string) { s.dirtySessions.MarkUpsert(ip) }

// MarkSessionDelete marks an IP's session row for deletion. Unused by
// default: expired sessions stay in the audit table as history.
func (s *Service) MarkSessionDelete(ip string) { s.dirtySessions.MarkDelete(ip) }

// MarkHealth marks a provider's health snapshot for upsert at the next flush.
func (s *Service) MarkHealth(providerName string) { s.dirtyHealth.MarkUpsert(providerName) }

// EmitEvent enqueues a failover event. Non-blocking; drops on overflow.
func (s *Service) EmitEvent(ev routing.FailoverEvent) {
	rec := model.FailoverEventRecord{
		ID:           uuid.NewString(),
		IP:           ev.IP,
		UserID:       ev.UserID,
		FromProvider: ev.FromProvider,
		ToProvider:   ev.ToProvider,
		Reason:       ev.Reason,
		TimestampNs:  ev.At.UnixNano(),
	}
	select {
	case s.eventQueue <- rec:
	default:
		log.Printf("[audit] event queue full, dropped %s -> %s for %s",
			ev.FromProvider, ev.ToProvider, ev.IP)
	}
}

// DirtyCount returns the number of pending writes across dirty sets and the
// event queue.
func (s *Service) DirtyCount() int {
	return s.dirtySessions.Len() + s.dirtyHealth.Len() + len(s.eventQueue)
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the worker to stop and performs a final flush.
// Blocks until the goroutine exits.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkTick)
	defer ticker.Stop()

	lastFlush := time.Now()

	for {
		select {
		case <-s.stopCh:
			// Final flush before exit.
			if err := s.Flush(); err != nil {
				log.Printf("[audit] final flush error: %v", err)
			}
			return
		case <-ticker.C:
			dirty := s.DirtyCount()
			if dirty == 0 {
				continue // Skip empty flush.
			}
			if dirty >= s.thresholdFn() || time.Since(lastFlush) >= s.intervalFn() {
				if err := s.Flush(); err != nil {
					log.Printf("[audit] flush error (entries re-merged): %v", err)
				}
				lastFlush = time.Now()
			}
		}
	}
}

// Flush drains the dirty sets and event queue and writes everything in a
// single transaction. On failure, dirty entries are merged back and drained
// events are requeued best-effort.
func (s *Service) Flush() error {
	drainedSessions := s.dirtySessions.Drain()
	drainedHealth := s.dirtyHealth.Drain()
	events := s.drainEvents()

	upsertSessions, deleteSessions := classifySessions(drainedSessions, s.readers.ReadSession)
	upsertHealth := classifyHealth(drainedHealth, s.readers.ReadHealth)

	ops := FlushOps{
		UpsertSessions: upsertSessions,
		DeleteSessions: deleteSessions,
		UpsertHealth:   upsertHealth,
		InsertEvents:   events,
	}
	if ops.empty() {
		return nil
	}

	if err := s.repo.FlushTx(ops); err != nil {
		s.dirtySessions.Merge(drainedSessions)
		s.dirtyHealth.Merge(drainedHealth)
		for _, ev := range events {
			select {
			case s.eventQueue <- ev:
			default:
			}
		}
		return fmt.Errorf("flush: %w", err)
	}

	log.Printf("[audit] flushed: sessions=%d, health=%d, events=%d",
		len(drainedSessions), len(drainedHealth), len(events))
	return nil
}

func (s *Service) drainEvents() []model.FailoverEventRecord {
	var events []model.FailoverEventRecord
	for {
		select {
		case ev := <-s.eventQueue:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func classifySessions(drained map[string]DirtyOp, reader func(string) *model.SessionRecord) (upserts []model.SessionRecord, deletes []string) {
	for ip, op := range drained {
		if op == OpDelete {
			deletes = append(deletes, ip)
			continue
		}
		if v := reader(ip); v != nil {
			upserts = append(upserts, *v)
		}
		// A vanished session is history, not a delete: the last persisted
		// row stays.
	}
	return
}

func classifyHealth(drained map[string]DirtyOp, reader func(string) *model.ProviderHealthRecord) []model.ProviderHealthRecord {
	var upserts []model.ProviderHealthRecord
	for name, op := range drained {
		if op == OpDelete {
			continue // providers are never removed at runtime
		}
		if v := reader(name); v != nil {
			upserts = append(upserts, *v)
		}
	}
	return upserts
}

// SessionRecordOf converts a live session into its persisted form.
func SessionRecordOf(s session.Session) model.SessionRecord {
	list := s.ChannelList()
	sort.Strings(list)
	channels, err := json.Marshal(list)
	if err != nil {
		channels = []byte("[]")
	}
	return model.SessionRecord{
		IP:               s.IP,
		UserID:           s.UserID,
		ProviderName:     s.ProviderName,
		Tier:             s.Tier,
		SessionStartNs:   s.Start.UnixNano(),
		LastActivityNs:   s.LastActivity.UnixNano(),
		ChannelsAccessed: string(channels),
		RequestCount:     s.RequestCount,
	}
}

// HealthRecordOf converts a provider's live health into its persisted form.
func HealthRecordOf(p *provider.Provider) model.ProviderHealthRecord {
	h := p.Health()
	return model.ProviderHealthRecord{
		ProviderName:  p.Name,
		Tier:          p.Tier,
		HealthStatus:  string(h.Status),
		LastCheckNs:   h.LastCheck.UnixNano(),
		LatencyNs:     int64(h.Latency),
		HTTPStatus:    h.HTTPStatus,
		ErrorDetail:   h.Detail,
		ActiveIPCount: p.Occupancy(),
	}
}
