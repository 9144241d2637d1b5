// Session-scoped wiring of the SecondInning client. One Session is
// constructed at login and destroyed at logout; consumers receive it by
// injection instead of reaching for ambient global state. Teardown releases
// every timer and listener the session registered and orphans all in-flight
// work tied to the old identity.

package session

import (
	"SecondInning/internal/connection"
	"SecondInning/internal/entity"
	"SecondInning/internal/ingest"
	"SecondInning/internal/notification"
	"SecondInning/pkg/log"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Config tunes session behaviour. Zero fields fall back to defaults.
type Config struct {
	// Interval of the reconciliation refresh that backs up live events.
	RefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 2 * time.Minute
	}
	return c
}

// Deps are the collaborators a session wires together.
type Deps struct {
	Manager connection.Manager
	Repo    notification.Repository
	Fetcher notification.Fetcher
	// OnStatsRefresh is poked when the server signals updated stats.
	// The stats surface itself lives outside this subsystem.
	OnStatsRefresh func()
	// ErrorSink receives malformed-payload reports. Optional.
	ErrorSink ingest.ErrorSink
}

// Session owns the live-notification subsystem for one authenticated user.
type Session struct {
	id       string
	who      entity.Identity
	logger   log.Logger
	manager  connection.Manager
	notifier notification.Service

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	stopIngest func()
	unsubs     []func()
	closeOnce  sync.Once
}

// New wires and starts a session for the given identity: connects the
// manager, attaches ingestion, kicks off the initial bootstrap fetch and
// starts the periodic reconciliation refresh.
func New(who entity.Identity, cfg Config, deps Deps, logger log.Logger) (*Session, error) {
	cfg = cfg.withDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), "SessionID", id))

	ingest.RegisterCustomValidations(ctx, logger)

	notifier := notification.NewService(ctx, deps.Repo, deps.Fetcher, logger)
	ingestSvc := ingest.NewService(notifier, who, deps.OnStatsRefresh, deps.ErrorSink, logger)
	stopIngest := ingestSvc.Start(deps.Manager)

	if cnterr := deps.Manager.Connect(ctx, who); cnterr != nil {
		stopIngest()
		notifier.Close()
		cancel()
		return nil, cnterr
	}

	s := &Session{
		id:         id,
		who:        who,
		logger:     logger,
		manager:    deps.Manager,
		notifier:   notifier,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		stopIngest: stopIngest,
	}

	// Transient back-online signal after a repaired connection. A fresh
	// dedupe key per occurrence, reconnections should always surface.
	s.unsubs = append(s.unsubs, deps.Manager.OnReconnected(func(attempts int) {
		logger.WithCtx(ctx).Info().Msgf("Connection repaired after %d attempts", attempts)
		notifier.PublishToast(entity.Toast{
			DedupeKey: "reconnected:" + xid.New().String(),
			Title:     "Back online",
			Message:   "Live updates resumed.",
		})
	}))

	// Initial bootstrap fetch, off the caller's path.
	go notifier.Refresh(ctx)
	go s.refreshLoop(cfg.RefreshInterval)

	logger.WithCtx(ctx).Info().Msgf("Session started for %s:%s", who.Role, who.ID)
	return s, nil
}

// ID returns the unique identifier of this login session.
func (s *Session) ID() string {
	return s.id
}

// Connection exposes the connection manager to UI consumers.
func (s *Session) Connection() connection.Manager {
	return s.manager
}

// Notifications exposes the aggregator to UI consumers.
func (s *Session) Notifications() notification.Service {
	return s.notifier
}

// Close tears the session down: stops the refresh timer, detaches every
// listener, closes the connection and orphans in-flight work. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.stopIngest()
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.notifier.Close()
		s.manager.Disconnect()
		s.logger.WithCtx(s.ctx).Info().Msg("Session closed")
	})
}

// refreshLoop is the polling backup to push delivery: a reconciliation
// fetch on a fixed interval even while connected, covering missed events.
func (s *Session) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.notifier.Refresh(s.ctx)
		}
	}
}
