package dirty

import (
	"sync"

	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/google/uuid"
)

// Bits records which field groups of a player have local changes that
// have not yet been written to the store. Bits are only ever cleared
// by a flush that completed, so a crashed or failed flush retries the
// same groups on the next sweep.
type Bits struct {
	XP           bool
	Vitals       bool
	Meta         bool
	Balance      bool
	LastLocation bool
	Group        bool
	Homes        bool

	// MarkedAt is the clock reading of the earliest uncleared mark,
	// in unix milliseconds. Zero when clean.
	MarkedAt int64
}

// Clean reports whether no group is marked.
func (b Bits) Clean() bool {
	return !b.XP && !b.Vitals && !b.Meta && !b.Balance &&
		!b.LastLocation && !b.Group && !b.Homes
}

// Union returns the bits marked in either operand. MarkedAt keeps the
// earlier non-zero reading.
func (b Bits) Union(o Bits) Bits {
	out := Bits{
		XP:           b.XP || o.XP,
		Vitals:       b.Vitals || o.Vitals,
		Meta:         b.Meta || o.Meta,
		Balance:      b.Balance || o.Balance,
		LastLocation: b.LastLocation || o.LastLocation,
		Group:        b.Group || o.Group,
		Homes:        b.Homes || o.Homes,
		MarkedAt:     b.MarkedAt,
	}
	if out.MarkedAt == 0 || (o.MarkedAt != 0 && o.MarkedAt < out.MarkedAt) {
		out.MarkedAt = o.MarkedAt
	}
	return out
}

// All returns bits with every group marked, stamped at t.
func All(t int64) Bits {
	return Bits{
		XP: true, Vitals: true, Meta: true, Balance: true,
		LastLocation: true, Group: true, Homes: true,
		MarkedAt: t,
	}
}

type entry struct {
	bits          Bits
	suppressUntil int64
}

// Tracker holds the dirty bits for every attached player. All methods
// are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[uuid.UUID]*entry
}

func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{
		clock:   c,
		entries: make(map[uuid.UUID]*entry),
	}
}

// Attach registers a player with clean bits. Attaching an already
// attached player keeps its existing bits.
func (t *Tracker) Attach(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		t.entries[id] = &entry{}
	}
}

// Detach removes a player and returns its final bits so the caller can
// run a last flush.
func (t *Tracker) Detach(id uuid.UUID) Bits {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Bits{}
	}
	delete(t.entries, id)
	return e.bits
}

// Attached returns the ids of all registered players.
func (t *Tracker) Attached() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a copy of the player's current bits.
func (t *Tracker) Get(id uuid.UUID) Bits {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return e.bits
	}
	return Bits{}
}

func (t *Tracker) mark(id uuid.UUID, set func(*Bits)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	now := t.clock.NowMillis()
	if now < e.suppressUntil {
		return
	}
	set(&e.bits)
	if e.bits.MarkedAt == 0 {
		e.bits.MarkedAt = now
	}
}

func (t *Tracker) MarkXP(id uuid.UUID)     { t.mark(id, func(b *Bits) { b.XP = true }) }
func (t *Tracker) MarkVitals(id uuid.UUID) { t.mark(id, func(b *Bits) { b.Vitals = true }) }
func (t *Tracker) MarkMeta(id uuid.UUID)   { t.mark(id, func(b *Bits) { b.Meta = true }) }
func (t *Tracker) MarkBalance(id uuid.UUID) {
	t.mark(id, func(b *Bits) { b.Balance = true })
}
func (t *Tracker) MarkLastLocation(id uuid.UUID) {
	t.mark(id, func(b *Bits) { b.LastLocation = true })
}
func (t *Tracker) MarkGroup(id uuid.UUID) { t.mark(id, func(b *Bits) { b.Group = true }) }
func (t *Tracker) MarkHomes(id uuid.UUID) { t.mark(id, func(b *Bits) { b.Homes = true }) }

// MarkAll marks every group, bypassing any suppression window. It is
// used for export decisions and forced syncs where the full snapshot
// must reach the store.
func (t *Tracker) MarkAll(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	now := t.clock.NowMillis()
	marked := e.bits.MarkedAt
	if marked == 0 {
		marked = now
	}
	e.bits = All(marked)
}

// ClearAttempted clears exactly the groups that a completed flush
// wrote. Groups marked after the flush snapshot was taken, and groups
// whose write failed, stay dirty.
func (t *Tracker) ClearAttempted(id uuid.UUID, attempted Bits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	b := &e.bits
	if attempted.XP {
		b.XP = false
	}
	if attempted.Vitals {
		b.Vitals = false
	}
	if attempted.Meta {
		b.Meta = false
	}
	if attempted.Balance {
		b.Balance = false
	}
	if attempted.LastLocation {
		b.LastLocation = false
	}
	if attempted.Group {
		b.Group = false
	}
	if attempted.Homes {
		b.Homes = false
	}
	if b.Clean() {
		b.MarkedAt = 0
	}
}

// Suppress discards marks for the player until the given clock
// reading. It is armed right before an import applies remote data so
// the apply's own change callbacks do not re-dirty the player.
func (t *Tracker) Suppress(id uuid.UUID, until int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.suppressUntil = until
	}
}

// Suppressed reports whether the player's suppression window is still
// open.
func (t *Tracker) Suppressed(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return ok && t.clock.NowMillis() < e.suppressUntil
}
