// Package audit detects duplicated item stacks. Stacks are grouped by
// a content hash that ignores quantity, so content-identical stacks in
// distinct slots form a duplicate group regardless of kind. Stacks of
// an exploit-prone kind additionally carry a persistent identity tag;
// a group sharing one tag is proven duplication rather than parallel
// acquisition. Overfull stacks are flagged for every kind.
package audit

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
)

// TagAttribute is the attribute key of the identity tag.
const TagAttribute = "driftsync:id"

// Action is what the auditor does about a finding.
type Action int

const (
	// ActionLog only records findings.
	ActionLog Action = iota
	// ActionConsolidate merges a duplicate group into the fewest
	// legal stacks, preserving the total count.
	ActionConsolidate
	// ActionDelete keeps the first stack of a group and removes the
	// rest.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionConsolidate:
		return "consolidate"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseAction maps a config string to an Action. Unknown strings fall
// back to log-only.
func ParseAction(s string) Action {
	switch s {
	case "consolidate":
		return ActionConsolidate
	case "delete":
		return ActionDelete
	default:
		return ActionLog
	}
}

// ContentKey hashes what a stack is, ignoring how many there are and
// the identity tag itself. Attributes are folded in sorted order so
// the key is stable across map iteration.
func ContentKey(s *player.ItemStack) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(s.Kind)
	_, _ = d.Write([]byte{0})
	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		if k == TagAttribute {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(s.Attributes[k])
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// EnsureTag stamps a fresh identity tag onto an untagged stack of the
// exploit-prone kind. It reports whether the stack was modified.
func EnsureTag(s *player.ItemStack, tagKind string) bool {
	if s.IsEmpty() || s.Kind != tagKind {
		return false
	}
	if _, ok := s.Attributes[TagAttribute]; ok {
		return false
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]string, 1)
	}
	s.Attributes[TagAttribute] = uuid.NewString()
	return true
}

// CleanupStaleTags strips identity tags from kinds that are no longer
// configured as exploit-prone. It returns the number of stacks
// cleaned.
func CleanupStaleTags(containers []host.Container, tagKind string) int {
	cleaned := 0
	for _, c := range containers {
		for i, s := range c.Slots() {
			if s.IsEmpty() || s.Kind == tagKind {
				continue
			}
			if _, ok := s.Attributes[TagAttribute]; !ok {
				continue
			}
			cp := s.Copy()
			delete(cp.Attributes, TagAttribute)
			if len(cp.Attributes) == 0 {
				cp.Attributes = nil
			}
			c.SetSlot(i, cp)
			cleaned++
		}
	}
	return cleaned
}

// SlotRef addresses one slot of one container.
type SlotRef struct {
	Container int `json:"container"`
	Slot      int `json:"slot"`
}

// Finding is one detected anomaly.
type Finding struct {
	Kind string `json:"kind"`
	// Tag is set when every stack of a duplicate group carries the
	// same identity tag, which proves duplication. Empty otherwise,
	// and for overstack findings.
	Tag   string    `json:"tag,omitempty"`
	Key   uint64    `json:"key"`
	Slots []SlotRef `json:"slots"`
	// Total is the summed count across the group.
	Total int `json:"total"`
	// Surplus is how many items a delete remediation would remove.
	Surplus int `json:"surplus"`
}

// ScanOptions tunes a scan.
type ScanOptions struct {
	// TagKind is the exploit-prone kind that receives identity tags.
	// It never narrows detection; every kind is scanned.
	TagKind string
	// MaxStackSize caps any stack regardless of its own limit. Zero
	// uses the stack's limit alone.
	MaxStackSize int
}

func stackLimit(s *player.ItemStack, opts ScanOptions) int {
	limit := s.StackLimit()
	if opts.MaxStackSize > 0 && opts.MaxStackSize < limit {
		limit = opts.MaxStackSize
	}
	return limit
}

// Scan inspects the containers and returns all findings. Stacks are
// bucketed by content key, so two stacks that differ only in count or
// in their identity tag land in the same group. It never mutates
// anything.
func Scan(containers []host.Container, opts ScanOptions) []Finding {
	var findings []Finding

	type group struct {
		kind      string
		slots     []SlotRef
		total     int
		tag       string
		sharedTag bool
	}
	byKey := make(map[uint64]*group)
	var order []uint64

	for ci, c := range containers {
		for si, s := range c.Slots() {
			if s.IsEmpty() {
				continue
			}
			if limit := stackLimit(s, opts); s.Count > limit {
				findings = append(findings, Finding{
					Kind:    s.Kind,
					Key:     ContentKey(s),
					Slots:   []SlotRef{{Container: ci, Slot: si}},
					Total:   s.Count,
					Surplus: s.Count - limit,
				})
			}
			key := ContentKey(s)
			g, ok := byKey[key]
			if !ok {
				g = &group{kind: s.Kind, tag: s.Attributes[TagAttribute], sharedTag: true}
				byKey[key] = g
				order = append(order, key)
			}
			if s.Attributes[TagAttribute] != g.tag {
				g.sharedTag = false
			}
			g.slots = append(g.slots, SlotRef{Container: ci, Slot: si})
			g.total += s.Count
		}
	}

	for _, key := range order {
		g := byKey[key]
		if len(g.slots) < 2 {
			continue
		}
		first := stackAt(containers, g.slots[0])
		surplus := g.total
		if first != nil {
			surplus -= first.Count
		}
		tag := ""
		if g.sharedTag {
			tag = g.tag
		}
		findings = append(findings, Finding{
			Kind:    g.kind,
			Tag:     tag,
			Key:     key,
			Slots:   g.slots,
			Total:   g.total,
			Surplus: surplus,
		})
	}
	return findings
}

func stackAt(containers []host.Container, ref SlotRef) *player.ItemStack {
	if ref.Container < 0 || ref.Container >= len(containers) {
		return nil
	}
	slots := containers[ref.Container].Slots()
	if ref.Slot < 0 || ref.Slot >= len(slots) {
		return nil
	}
	return slots[ref.Slot]
}

// Remediate applies the action to each finding. It returns the number
// of items removed (zero for log and consolidate).
func Remediate(p host.PlayerHandle, containers []host.Container, findings []Finding, action Action, opts ScanOptions) int {
	if action == ActionLog {
		return 0
	}
	removed := 0
	for _, f := range findings {
		if len(f.Slots) < 2 && f.Surplus == 0 {
			continue
		}
		switch action {
		case ActionConsolidate:
			// A single overfull slot has nowhere to spill; leave it
			// for the log rather than destroy the excess.
			if len(f.Slots) > 1 {
				consolidate(p, containers, f, opts)
			}
		case ActionDelete:
			removed += deleteSurplus(containers, f, opts)
		}
	}
	return removed
}

// consolidate merges the group into one limit-full stack in its first
// slot, clears the rest, and hands the surplus back through the
// player's ordinary add path. Surplus the add path cannot place falls
// back into the freed slots, so the total is always conserved.
// Surviving surplus stacks get fresh identity tags so they read as
// distinct items again.
func consolidate(p host.PlayerHandle, containers []host.Container, f Finding, opts ScanOptions) {
	template := stackAt(containers, f.Slots[0])
	if template == nil {
		return
	}
	limit := stackLimit(template, opts)

	keep := f.Total
	if keep > limit {
		keep = limit
	}
	first := template.Copy()
	first.Count = keep
	setStack(containers, f.Slots[0], first)

	freed := f.Slots[1:]
	for _, ref := range freed {
		setStack(containers, ref, nil)
	}

	remaining := f.Total - keep
	for remaining > 0 {
		n := remaining
		if n > limit {
			n = limit
		}
		cp := template.Copy()
		cp.Count = n
		if _, tagged := cp.Attributes[TagAttribute]; tagged {
			cp.Attributes[TagAttribute] = uuid.NewString()
		}
		left := n
		if p != nil {
			left = p.AddItem(cp)
		}
		remaining -= n - left
		if left == 0 {
			continue
		}
		rest := cp.Copy()
		rest.Count = left
		if len(freed) > 0 {
			setStack(containers, freed[0], rest)
			freed = freed[1:]
		} else if cur := stackAt(containers, f.Slots[0]); cur != nil {
			merged := cur.Copy()
			merged.Count += left
			setStack(containers, f.Slots[0], merged)
		}
		remaining -= left
	}
}

// deleteSurplus keeps the first stack of the group, clamped to its
// limit, and removes the rest. It returns how many items were removed.
func deleteSurplus(containers []host.Container, f Finding, opts ScanOptions) int {
	removed := 0
	for i, ref := range f.Slots {
		s := stackAt(containers, ref)
		if s == nil {
			continue
		}
		if i == 0 {
			limit := stackLimit(s, opts)
			if s.Count > limit {
				removed += s.Count - limit
				cp := s.Copy()
				cp.Count = limit
				setStack(containers, ref, cp)
			}
			continue
		}
		removed += s.Count
		setStack(containers, ref, nil)
	}
	return removed
}

func setStack(containers []host.Container, ref SlotRef, s *player.ItemStack) {
	if ref.Container < 0 || ref.Container >= len(containers) {
		return
	}
	containers[ref.Container].SetSlot(ref.Slot, s)
}
