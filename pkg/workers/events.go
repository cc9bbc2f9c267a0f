package workers

import (
	"context"

	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/events"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/google/uuid"
)

// EventRouterWorker turns host events into dirty marks and worker
// requests. It is the only consumer of the event queue.
type EventRouterWorker struct {
	queue     events.Queue
	runtime   host.Runtime
	tracker   *dirty.Tracker
	flusher   *FlushWorker
	joinChan  chan<- JoinRequest
	flushChan chan<- FlushRequest
	auditChan chan<- uuid.UUID
}

type NewEventRouterWorkerOptions struct {
	Queue     events.Queue
	Runtime   host.Runtime
	Tracker   *dirty.Tracker
	Flusher   *FlushWorker
	JoinChan  chan<- JoinRequest
	FlushChan chan<- FlushRequest
	// AuditChan feeds the duplicate item auditor. Nil disables
	// mutation-triggered audits.
	AuditChan chan<- uuid.UUID
}

// NewEventRouterWorker creates a new EventRouterWorker.
func NewEventRouterWorker(opts NewEventRouterWorkerOptions) *EventRouterWorker {
	return &EventRouterWorker{
		queue:     opts.Queue,
		runtime:   opts.Runtime,
		tracker:   opts.Tracker,
		flusher:   opts.Flusher,
		joinChan:  opts.JoinChan,
		flushChan: opts.FlushChan,
		auditChan: opts.AuditChan,
	}
}

func (w *EventRouterWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue.Dequeue():
			w.Route(ctx, ev)
		}
	}
}

// Route dispatches one event.
func (w *EventRouterWorker) Route(ctx context.Context, ev events.Event) {
	id := ev.PlayerID
	switch ev.Type {
	case events.TypePlayerAttached:
		select {
		case w.joinChan <- JoinRequest{PlayerID: id, Name: ev.Name}:
		default:
			log.Error("join queue full, dropping join for %s (%s)", ev.Name, id)
		}

	case events.TypePlayerDetached:
		w.detach(ctx, ev)

	case events.TypeXPChanged:
		w.tracker.MarkXP(id)

	case events.TypeHealthChanged, events.TypeFoodChanged:
		w.tracker.MarkVitals(id)

	case events.TypeGameModeChanged, events.TypeRespawn, events.TypeBedEnter:
		w.tracker.MarkMeta(id)

	case events.TypeDeath:
		// A death must reach the store right away so a relog on
		// another server cannot resurrect the pre-death state. Every
		// group changes at once (drops, XP reset, respawn point), so
		// mark them all.
		w.tracker.MarkAll(id)
		select {
		case w.flushChan <- FlushRequest{PlayerID: id, Name: ev.Name}:
		default:
			log.Warn("flush queue full, death flush for %s waits for the sweep", id)
		}

	case events.TypeTeleport, events.TypeWorldChanged:
		w.tracker.MarkLastLocation(id)

	case events.TypeBalanceChanged:
		w.tracker.MarkBalance(id)

	case events.TypeGroupChanged:
		w.tracker.MarkGroup(id)

	case events.TypeHomesCommand:
		w.tracker.MarkHomes(id)
		w.flusher.NoteHomesEdit(id)

	case events.TypeContainerMutation:
		if w.auditChan != nil {
			select {
			case w.auditChan <- id:
			default:
				// The rescan pass will get to it.
			}
		}

	default:
		log.Debug("ignoring event %s for %s", ev.Type, id)
	}
}

// detach runs the final flush for a departing player. The snapshot is
// captured while the handle is still valid; every group is written so
// nothing marked between the last sweep and the detach is lost.
func (w *EventRouterWorker) detach(ctx context.Context, ev events.Event) {
	id := ev.PlayerID
	bits := w.tracker.Detach(id)
	w.flusher.Forget(id)

	var snap host.Snapshot
	var name string
	found := false
	err := w.runtime.RunSync(func() {
		if p, ok := w.runtime.Player(id); ok {
			snap = p.Snapshot()
			name = p.Name()
			found = true
		}
	})
	if err != nil || !found {
		if !bits.Clean() {
			log.Warn("detach flush skipped for %s: player handle gone with dirty groups", id)
		}
		return
	}

	all := dirty.All(bits.MarkedAt)
	w.flusher.Flush(ctx, FlushRequest{
		PlayerID: id,
		Name:     name,
		Snapshot: &snap,
		Bits:     &all,
		Force:    true,
	})
}
