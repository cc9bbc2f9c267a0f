// Package workers contains the long-running goroutines of the sync
// engine: the dirty flush sweep, the join reconciler, the host event
// router and the operator command handler.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/repositories"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
)

// FlushRequest asks for an immediate flush of one player, ahead of the
// periodic sweep.
type FlushRequest struct {
	PlayerID uuid.UUID
	Name     string
	// Snapshot is the state captured at detach time. Nil means look
	// the player up live.
	Snapshot *host.Snapshot
	// Bits overrides the tracker's current bits. Nil means use them.
	Bits *dirty.Bits
	// Force bypasses the homes debounce window.
	Force bool
}

// FlushWorker writes dirty field groups to the store. Each write
// carries the flush timestamp and is dropped by the store if a newer
// write landed first, so concurrent flushes from other servers cannot
// be clobbered.
type FlushWorker struct {
	repository    repositories.Repository
	runtime       host.Runtime
	tracker       *dirty.Tracker
	clock         clock.Clock
	serverName    string
	interval      time.Duration
	homesDebounce time.Duration
	balanceWrites bool
	requestChan   <-chan FlushRequest

	mu        sync.Mutex
	inflight  map[uuid.UUID]bool
	homesMark map[uuid.UUID]int64
}

type NewFlushWorkerOptions struct {
	Repository    repositories.Repository
	Runtime       host.Runtime
	Tracker       *dirty.Tracker
	Clock         clock.Clock
	ServerName    string
	Interval      time.Duration
	HomesDebounce time.Duration
	BalanceWrites bool
	RequestChan   <-chan FlushRequest
}

// NewFlushWorker creates a new FlushWorker. The worker processes flush
// requests from the event router and periodically sweeps every
// attached player for dirty bits.
func NewFlushWorker(opts NewFlushWorkerOptions) *FlushWorker {
	return &FlushWorker{
		repository:    opts.Repository,
		runtime:       opts.Runtime,
		tracker:       opts.Tracker,
		clock:         opts.Clock,
		serverName:    opts.ServerName,
		interval:      opts.Interval,
		homesDebounce: opts.HomesDebounce,
		balanceWrites: opts.BalanceWrites,
		requestChan:   opts.RequestChan,
		inflight:      make(map[uuid.UUID]bool),
		homesMark:     make(map[uuid.UUID]int64),
	}
}

func (w *FlushWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requestChan:
			w.Flush(ctx, req)
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *FlushWorker) sweep(ctx context.Context) {
	for _, id := range w.tracker.Attached() {
		if w.tracker.Get(id).Clean() {
			continue
		}
		w.Flush(ctx, FlushRequest{PlayerID: id})
	}
}

// NoteHomesEdit records a home mutation so the debounce window can
// coalesce a rename (delete plus set) into one write.
func (w *FlushWorker) NoteHomesEdit(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.homesMark[id] = w.clock.NowMillis()
}

// Forget drops per-player flush bookkeeping after a detach.
func (w *FlushWorker) Forget(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.homesMark, id)
}

// acquire claims the single flight slot for a player. At most one
// flush per player runs at a time; a second caller is skipped rather
// than queued, because its groups are either already in the running
// attempt or still marked for the next sweep.
func (w *FlushWorker) acquire(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[id] {
		return false
	}
	w.inflight[id] = true
	return true
}

func (w *FlushWorker) release(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
}

func (w *FlushWorker) homesSettled(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	mark, ok := w.homesMark[id]
	if !ok {
		return true
	}
	return w.clock.NowMillis()-mark >= w.homesDebounce.Milliseconds()
}

// Flush writes the player's dirty field groups and clears exactly the
// groups whose writes completed. It reports whether a flush ran.
func (w *FlushWorker) Flush(ctx context.Context, req FlushRequest) bool {
	id := req.PlayerID
	if !w.acquire(id) {
		return false
	}
	defer w.release(id)

	bits := w.tracker.Get(id)
	if req.Bits != nil {
		bits = *req.Bits
	}
	if bits.Clean() && !req.Force {
		return false
	}

	snap, name, ok := w.snapshot(req)
	if !ok {
		log.Warn("flush skipped for %s: player not available", id)
		return false
	}

	// Home edits still inside the debounce window wait for the next
	// sweep unless the flush is forced.
	if bits.Homes && !req.Force && !w.homesSettled(id) {
		bits.Homes = false
	}

	t := w.clock.NowMillis()
	completed := w.write(ctx, id, name, snap, bits, t)
	w.tracker.ClearAttempted(id, completed)
	return true
}

func (w *FlushWorker) snapshot(req FlushRequest) (host.Snapshot, string, bool) {
	if req.Snapshot != nil {
		return *req.Snapshot, req.Name, true
	}
	var snap host.Snapshot
	var name string
	found := false
	err := w.runtime.RunSync(func() {
		if p, ok := w.runtime.Player(req.PlayerID); ok {
			snap = p.Snapshot()
			name = p.Name()
			found = true
		}
	})
	if err != nil {
		log.Error("failed to snapshot player %s: %v", req.PlayerID, err)
		return host.Snapshot{}, "", false
	}
	return snap, name, found
}

// write performs the per-group writes and returns the bits that were
// attempted and completed. A failed write leaves its group out so the
// tracker retries it; a write the store rejected as stale still counts
// as completed, because a newer writer already owns that group.
func (w *FlushWorker) write(ctx context.Context, id uuid.UUID, name string, snap host.Snapshot, bits dirty.Bits, t int64) dirty.Bits {
	var completed dirty.Bits

	if name != "" {
		w.refreshGlobalUser(ctx, id, name, snap, t)
	}

	stateDirty := bits.XP || bits.Vitals || bits.Meta
	if stateDirty {
		inv, meta, err := codec.EncodeState(snap.State)
		if err != nil {
			log.Error("failed to encode state for %s: %v", id, err)
		} else {
			// Inventory has no bit of its own; it rides along with any
			// state group so the stored row stays internally consistent.
			if _, err := w.repository.UpdateInventoryIfNewer(ctx, id, w.serverName, inv, t); err != nil {
				log.Error("failed to write inventory for %s: %v", id, err)
			}
			if bits.XP {
				if _, err := w.repository.UpdateXPIfNewer(ctx, id, w.serverName, snap.State.XP, t); err != nil {
					log.Error("failed to write xp for %s: %v", id, err)
				} else {
					completed.XP = true
				}
			}
			if bits.Vitals {
				if _, err := w.repository.UpdateVitalsIfNewer(ctx, id, w.serverName, snap.State.Vitals, t); err != nil {
					log.Error("failed to write vitals for %s: %v", id, err)
				} else {
					completed.Vitals = true
				}
			}
			if bits.Meta {
				if _, err := w.repository.UpdateMetadataIfNewer(ctx, id, w.serverName, meta, t); err != nil {
					log.Error("failed to write metadata for %s: %v", id, err)
				} else {
					completed.Meta = true
				}
			}
		}
	}

	if bits.Balance {
		if !w.balanceWrites {
			// This server has no balance write authority; drop the
			// mark so it does not retry forever.
			completed.Balance = true
		} else if _, err := w.repository.UpdateBalanceIfNewer(ctx, id, snap.Balance, t); err != nil {
			log.Error("failed to write balance for %s: %v", id, err)
		} else {
			completed.Balance = true
		}
	}

	if bits.Group {
		if _, err := w.repository.UpdateGroupIfNewer(ctx, id, w.serverName, snap.Group, t); err != nil {
			log.Error("failed to write group for %s: %v", id, err)
		} else {
			completed.Group = true
		}
	}

	if bits.LastLocation {
		loc := codec.EncodeLocation(snap.LastLocation)
		if _, err := w.repository.UpdateLastLocationIfNewer(ctx, id, w.serverName, loc, t); err != nil {
			log.Error("failed to write last location for %s: %v", id, err)
		} else {
			completed.LastLocation = true
		}
	}

	if bits.Homes {
		homes := codec.EncodeHomes(snap.Homes)
		if _, err := w.repository.UpdateHomesIfNewer(ctx, id, w.serverName, homes, t); err != nil {
			log.Error("failed to write homes for %s: %v", id, err)
		} else {
			completed.Homes = true
		}
	}

	return completed
}

// refreshGlobalUser keeps the stored display name current on every
// flush. Servers without balance authority re-read the stored balance
// first so the upsert never moves it.
func (w *FlushWorker) refreshGlobalUser(ctx context.Context, id uuid.UUID, name string, snap host.Snapshot, t int64) {
	balance := snap.Balance
	if !w.balanceWrites {
		user, err := w.repository.GetGlobalUser(ctx, id)
		if repositories.IsNotFound(err) {
			if err := w.repository.EnsureGlobalUser(ctx, id, name, 0); err != nil {
				log.Debug("failed to refresh global user for %s: %v", id, err)
			}
			return
		}
		if err != nil {
			log.Debug("failed to read global user for %s: %v", id, err)
			return
		}
		balance = user.Balance
	}
	user := &models.GlobalUser{ID: id, Name: name, Balance: balance}
	if _, err := w.repository.UpsertGlobalUserIfNewer(ctx, user, t); err != nil {
		log.Debug("failed to refresh global user for %s: %v", id, err)
	}
}

// ExportAll writes every field group of the snapshot at timestamp t,
// regardless of dirty bits. Used for join-time exports and forced
// syncs.
func (w *FlushWorker) ExportAll(ctx context.Context, id uuid.UUID, name string, snap host.Snapshot, t int64) dirty.Bits {
	if !w.acquire(id) {
		return dirty.Bits{}
	}
	defer w.release(id)
	completed := w.write(ctx, id, name, snap, dirty.All(t), t)
	w.tracker.ClearAttempted(id, completed)
	return completed
}
