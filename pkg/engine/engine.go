// Package engine assembles the sync workers and runs them against a
// host runtime and a repository.
package engine

import (
	"context"
	"fmt"

	"github.com/driftmc/driftsync/pkg/audit"
	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/driftmc/driftsync/pkg/config"
	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/events"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/repositories"
	"github.com/driftmc/driftsync/pkg/telemetry"
	"github.com/driftmc/driftsync/pkg/workers"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	joinQueueSize  = 64
	flushQueueSize = 256
	auditQueueSize = 64
)

// Engine owns the queue, tracker and workers for one server.
type Engine struct {
	cfg     config.Config
	repo    repositories.Repository
	runtime host.Runtime
	clock   clock.Clock

	queue   events.Queue
	tracker *dirty.Tracker
	flusher *workers.FlushWorker
	joiner  *workers.JoinWorker
	router  *workers.EventRouterWorker
	command *workers.SyncCommand
	auditor *audit.Worker
	pinger  *telemetry.Worker

	flushChan chan workers.FlushRequest
	joinChan  chan workers.JoinRequest
	auditChan chan uuid.UUID
}

type NewEngineOptions struct {
	Config     config.Config
	Repository repositories.Repository
	Runtime    host.Runtime
	// Clock defaults to the system clock.
	Clock clock.Clock
}

// NewEngine creates a fully wired but not yet running engine.
func NewEngine(opts NewEngineOptions) *Engine {
	c := opts.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	cfg := opts.Config

	e := &Engine{
		cfg:       cfg,
		repo:      opts.Repository,
		runtime:   opts.Runtime,
		clock:     c,
		queue:     events.NewInMemoryQueue(events.QueueBufferSize),
		tracker:   dirty.NewTracker(c),
		flushChan: make(chan workers.FlushRequest, flushQueueSize),
		joinChan:  make(chan workers.JoinRequest, joinQueueSize),
		auditChan: make(chan uuid.UUID, auditQueueSize),
	}

	e.flusher = workers.NewFlushWorker(workers.NewFlushWorkerOptions{
		Repository:    e.repo,
		Runtime:       e.runtime,
		Tracker:       e.tracker,
		Clock:         c,
		ServerName:    cfg.ServerName,
		Interval:      cfg.FlushInterval,
		HomesDebounce: cfg.HomesDebounce,
		BalanceWrites: cfg.BalanceWrites,
		RequestChan:   e.flushChan,
	})
	e.joiner = workers.NewJoinWorker(workers.NewJoinWorkerOptions{
		Repository:     e.repo,
		Runtime:        e.runtime,
		Tracker:        e.tracker,
		Flusher:        e.flusher,
		Clock:          c,
		ServerName:     cfg.ServerName,
		SuppressWindow: cfg.SuppressWindow,
		BalanceWrites:  cfg.BalanceWrites,
		RequestChan:    e.joinChan,
	})

	var auditChan chan<- uuid.UUID
	if cfg.Audit.Enabled {
		auditChan = e.auditChan
		e.auditor = audit.NewWorker(audit.NewWorkerOptions{
			Runtime:        e.runtime,
			Action:         audit.ParseAction(cfg.Audit.Action),
			TagKind:        cfg.Audit.TagKind,
			MaxStackSize:   cfg.Audit.MaxStackSize,
			RescanInterval: cfg.Audit.RescanInterval,
			RequestChan:    e.auditChan,
			CleanupOnStart: cfg.Audit.CleanupStaleTagsOnStart,
			AuditLogPath:   cfg.Audit.AuditLog,
		})
	}

	e.router = workers.NewEventRouterWorker(workers.NewEventRouterWorkerOptions{
		Queue:     e.queue,
		Runtime:   e.runtime,
		Tracker:   e.tracker,
		Flusher:   e.flusher,
		JoinChan:  e.joinChan,
		FlushChan: e.flushChan,
		AuditChan: auditChan,
	})
	e.command = workers.NewSyncCommand(workers.NewSyncCommandOptions{
		Joiner:  e.joiner,
		Flusher: e.flusher,
		Runtime: e.runtime,
	})

	if cfg.Telemetry.Enabled {
		e.pinger = telemetry.NewWorker(telemetry.NewWorkerOptions{
			Endpoint:    cfg.Telemetry.Endpoint,
			ServerName:  cfg.ServerName,
			UpdateCheck: cfg.Telemetry.UpdateCheck,
			Players: func() int {
				return len(e.runtime.Players())
			},
		})
	}

	return e
}

// Queue is where the host adapter publishes events.
func (e *Engine) Queue() events.Queue {
	return e.queue
}

// Command is the forced sync command handler.
func (e *Engine) Command() *workers.SyncCommand {
	return e.command
}

// Start registers the server and runs all workers until the context is
// cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.repo.EnsureServerRegistry(ctx, e.cfg.ServerName); err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}
	log.Info("engine started for server %s (flush every %s)", e.cfg.ServerName, e.cfg.FlushInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.router.Start(ctx)
		return nil
	})
	g.Go(func() error {
		e.joiner.Start(ctx)
		return nil
	})
	g.Go(func() error {
		e.flusher.Start(ctx)
		return nil
	})
	if e.auditor != nil {
		g.Go(func() error {
			e.auditor.Start(ctx)
			return nil
		})
	}
	if e.pinger != nil {
		g.Go(func() error {
			e.pinger.Start(ctx)
			return nil
		})
	}
	return g.Wait()
}
