// Package host abstracts the game server the sync engine is embedded
// in. The engine only ever touches players through these interfaces,
// so tests can drive it with in-memory fakes.
package host

import (
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of everything the engine persists
// for a player. It is captured on the host thread and then safe to
// read from any goroutine.
type Snapshot struct {
	State        player.State
	Group        string
	LastLocation *player.Location
	Homes        map[string]player.Location
	Balance      float64
}

// PlayerHandle is a live player on this server. Mutating methods must
// be called on the host thread, via Runtime.RunSync.
type PlayerHandle interface {
	ID() uuid.UUID
	Name() string

	// Snapshot copies the player's current state.
	Snapshot() Snapshot

	// ApplyState overwrites inventory, XP, vitals and metadata.
	ApplyState(s player.State)
	// ApplyProfile overwrites group and last location. A nil location
	// leaves the player where they stand.
	ApplyProfile(group string, loc *player.Location)
	// ApplyHomes replaces the player's home set.
	ApplyHomes(homes map[string]player.Location)
	// SetBalance overwrites the player's account balance.
	SetBalance(balance float64)

	// Containers lists the player's open or owned item containers for
	// auditing.
	Containers() []Container

	// AddItem inserts a stack through the ordinary pickup path and
	// returns the count that did not fit.
	AddItem(s *player.ItemStack) int

	HasPermission(perm string) bool
	Message(text string)
}

// Container is an inspectable run of item slots. A nil slot is empty.
type Container interface {
	Label() string
	Slots() []*player.ItemStack
	SetSlot(i int, s *player.ItemStack)
}

// Runtime is the host server itself.
type Runtime interface {
	// RunSync schedules fn on the host thread and returns once it has
	// run. Engine goroutines use it for every player mutation.
	RunSync(fn func()) error

	// Player looks up an online player.
	Player(id uuid.UUID) (PlayerHandle, bool)

	// Players lists all online players.
	Players() []PlayerHandle
}
