package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/netutil"

	"github.com/tiergate/tiergate/internal/api"
	"github.com/tiergate/tiergate/internal/audit"
	"github.com/tiergate/tiergate/internal/buildinfo"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/model"
	tgnetutil "github.com/tiergate/tiergate/internal/netutil"
	"github.com/tiergate/tiergate/internal/probe"
	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/relay"
	"github.com/tiergate/tiergate/internal/resolve"
	"github.com/tiergate/tiergate/internal/routing"
	"github.com/tiergate/tiergate/internal/session"
)

type gatewayApp struct {
	envCfg   *config.EnvConfig
	registry *provider.Registry
	auditDB  *sql.DB
	auditSvc *audit.Service
	sessions *session.Store
	expirer  *session.Expirer
	resolver *resolve.Resolver
	prober   *probe.Prober
	sweeper  *probe.Sweeper
	server   *api.Server
	listener net.Listener
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	app, err := newGatewayApp(envCfg)
	if err != nil {
		return err
	}
	log.Printf("TierGate %s (%s) starting", buildinfo.Version, buildinfo.GitCommit)

	serverErrCh := app.start()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newGatewayApp(envCfg *config.EnvConfig) (*gatewayApp, error) {
	app := &gatewayApp{envCfg: envCfg}

	providersFile, err := config.LoadProvidersFile(envCfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	app.registry, err = provider.NewRegistry(providersFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d providers from %s", app.registry.Len(), envCfg.ProvidersFile)

	if err := app.initPersistence(); err != nil {
		return nil, err
	}
	if err := app.initRuntime(); err != nil {
		app.auditDB.Close()
		return nil, err
	}
	return app, nil
}

func (a *gatewayApp) initPersistence() error {
	if err := os.MkdirAll(a.envCfg.AuditDir, 0o755); err != nil {
		return fmt.Errorf("audit dir %s: %w", a.envCfg.AuditDir, err)
	}
	db, err := audit.OpenDB(filepath.Join(a.envCfg.AuditDir, "audit.db"))
	if err != nil {
		return err
	}
	if err := audit.MigrateDB(db); err != nil {
		db.Close()
		return err
	}
	a.auditDB = db

	a.auditSvc = audit.NewService(audit.ServiceConfig{
		Repo: audit.NewRepo(db),
		Readers: audit.Readers{
			ReadSession: func(ip string) *model.SessionRecord {
				if s, ok := a.sessions.Get(ip); ok {
					rec := audit.SessionRecordOf(s)
					return &rec
				}
				return nil
			},
			ReadHealth: func(name string) *model.ProviderHealthRecord {
				if p, ok := a.registry.Get(name); ok {
					rec := audit.HealthRecordOf(p)
					return &rec
				}
				return nil
			},
		},
		QueueSize:      a.envCfg.AuditQueueSize,
		FlushThreshold: func() int { return a.envCfg.AuditFlushThreshold },
		FlushInterval:  func() time.Duration { return a.envCfg.AuditFlushInterval },
	})
	log.Println("Audit persistence ready")
	return nil
}

func (a *gatewayApp) initRuntime() error {
	cfg := a.envCfg

	a.sessions = session.NewStore(session.OccupancyHooks{
		Admit: func(name, ip string) {
			if p, ok := a.registry.Get(name); ok {
				p.Admit(ip)
			}
		},
		Evict: func(name, ip string) {
			if p, ok := a.registry.Get(name); ok {
				p.Evict(ip)
			}
		},
	}, func(s session.Session) { a.auditSvc.MarkSession(s.IP) })

	a.expirer = session.NewExpirer(
		a.sessions,
		func() time.Duration { return cfg.SessionTimeout },
		0, 0,
		func(s session.Session) {
			log.Printf("[session] ip %s expired after %d requests", s.IP, s.RequestCount)
		},
	)

	downloader := tgnetutil.NewDirectDownloader(
		func() time.Duration { return cfg.PlaylistFetchTimeout },
		func() string { return cfg.UserAgent },
	)
	resolver, err := resolve.NewResolver(downloader, cfg.PlaylistCacheCapacity, cfg.PlaylistCacheTTL)
	if err != nil {
		return err
	}
	a.resolver = resolver

	a.prober = probe.NewProber(probe.ProberConfig{
		Registry:    a.registry,
		Concurrency: cfg.ProbeConcurrency,
		Fetch:       probe.DirectProviderFetch(nil),
		Timeout:     func() time.Duration { return cfg.ProbeTimeout },
		Interval:    cfg.ProbeInterval,
		JitterRange: cfg.ProbeInterval / 10,
		OnHealth: func(p *provider.Provider, _ provider.HealthState) {
			a.auditSvc.MarkHealth(p.Name)
		},
	})

	streamProber := probe.NewStreamProber(func() time.Duration { return cfg.StreamProbeTimeout })
	batch := probe.NewBatchProber(probe.BatchConfig{
		Concurrency: cfg.ProbeConcurrency,
		BatchSize:   cfg.ChannelBatchSize,
		Pause:       cfg.ChannelBatchPause,
		Probe:       streamProber.Probe,
	})
	a.sweeper, err = probe.NewSweeper(a.registry, resolver, batch, cfg.ChannelSweepSchedule)
	if err != nil {
		return err
	}

	selector := routing.NewSelector(a.registry, a.auditSvc.EmitEvent)
	rel := relay.NewRelay(
		a.registry, selector, a.sessions, resolver,
		nil, a.auditSvc.EmitEvent,
		cfg.UpstreamFetchTimeout,
		func() string { return cfg.UserAgent },
	)

	a.server = api.NewServer(cfg.ListenAddress, cfg.Port, cfg.AdminToken, api.ServerDeps{
		Registry:  a.registry,
		Sessions:  a.sessions,
		Relay:     rel,
		Prober:    a.prober,
		Sweeper:   a.sweeper,
		Audit:     a.auditSvc,
		StartedAt: time.Now().UTC(),
	})
	return nil
}

// start launches background services and the HTTP listener. The returned
// channel delivers a fatal server error, if any.
func (a *gatewayApp) start() <-chan error {
	a.auditSvc.Start()
	a.prober.Start()
	a.expirer.Start()
	a.sweeper.Start()

	errCh := make(chan error, 1)
	ln, err := net.Listen("tcp", a.server.Addr())
	if err != nil {
		errCh <- fmt.Errorf("listen %s: %w", a.server.Addr(), err)
		return errCh
	}
	// Cap concurrent clients; a relayed live stream holds its connection open.
	a.listener = netutil.LimitListener(ln, a.envCfg.MaxClients)

	go func() {
		log.Printf("TierGate listening on %s (max %d clients)", a.server.Addr(), a.envCfg.MaxClients)
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

func (a *gatewayApp) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	a.sweeper.Stop()
	a.expirer.Stop()
	a.prober.Stop()
	// Last: the final audit flush must see every preceding write.
	a.auditSvc.Stop()
	a.resolver.Close()

	if err := a.auditDB.Close(); err != nil {
		log.Printf("Audit db close error: %v", err)
	}
	log.Println("Server stopped")
}
