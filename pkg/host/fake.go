package host

import (
	"sync"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
)

// FakeRuntime is an in-memory Runtime for tests. RunSync executes the
// function inline under a lock so tests behave deterministically.
type FakeRuntime struct {
	mu      sync.Mutex
	players map[uuid.UUID]*FakePlayer
}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{players: make(map[uuid.UUID]*FakePlayer)}
}

func (r *FakeRuntime) RunSync(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	return nil
}

func (r *FakeRuntime) Player(id uuid.UUID) (PlayerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	return p, ok
}

func (r *FakeRuntime) Players() []PlayerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PlayerHandle, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}

func (r *FakeRuntime) AddPlayer(p *FakePlayer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.PlayerID] = p
}

func (r *FakeRuntime) RemovePlayer(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// FakePlayer is an in-memory PlayerHandle.
type FakePlayer struct {
	PlayerID   uuid.UUID
	PlayerName string

	Cur        Snapshot
	Perms      map[string]bool
	Messages   []string
	Chests     []*FakeContainer
	ApplyCount int
}

func NewFakePlayer(id uuid.UUID, name string) *FakePlayer {
	return &FakePlayer{
		PlayerID:   id,
		PlayerName: name,
		Cur: Snapshot{
			State: player.State{Vitals: player.DefaultVitals(), Mode: player.GameModeSurvival},
			Homes: make(map[string]player.Location),
		},
		Perms: make(map[string]bool),
	}
}

func (p *FakePlayer) ID() uuid.UUID { return p.PlayerID }
func (p *FakePlayer) Name() string  { return p.PlayerName }

func (p *FakePlayer) Snapshot() Snapshot {
	s := p.Cur
	s.Homes = make(map[string]player.Location, len(p.Cur.Homes))
	for k, v := range p.Cur.Homes {
		s.Homes[k] = v
	}
	return s
}

func (p *FakePlayer) ApplyState(s player.State) {
	p.Cur.State = s
	p.ApplyCount++
}

func (p *FakePlayer) ApplyProfile(group string, loc *player.Location) {
	p.Cur.Group = group
	if loc != nil {
		p.Cur.LastLocation = loc
	}
}

func (p *FakePlayer) ApplyHomes(homes map[string]player.Location) {
	p.Cur.Homes = homes
}

func (p *FakePlayer) SetBalance(balance float64) {
	p.Cur.Balance = balance
}

func (p *FakePlayer) Containers() []Container {
	out := make([]Container, 0, len(p.Chests))
	for _, c := range p.Chests {
		out = append(out, c)
	}
	return out
}

// AddItem fills the first empty slot. Leftovers are reported, not
// spilled.
func (p *FakePlayer) AddItem(s *player.ItemStack) int {
	if s.IsEmpty() {
		return 0
	}
	for _, c := range p.Chests {
		for i, cur := range c.Items {
			if cur.IsEmpty() {
				c.Items[i] = s.Copy()
				return 0
			}
		}
	}
	return s.Count
}

func (p *FakePlayer) HasPermission(perm string) bool { return p.Perms[perm] }

func (p *FakePlayer) Message(text string) { p.Messages = append(p.Messages, text) }

// FakeContainer is a fixed-size slot run.
type FakeContainer struct {
	Name  string
	Items []*player.ItemStack
}

func (c *FakeContainer) Label() string              { return c.Name }
func (c *FakeContainer) Slots() []*player.ItemStack { return c.Items }

func (c *FakeContainer) SetSlot(i int, s *player.ItemStack) {
	c.Items[i] = s
}
