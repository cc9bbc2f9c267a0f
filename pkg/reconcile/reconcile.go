// Package reconcile holds the join-time conflict-resolution policy.
// Decisions are pure functions over a local and a remote snapshot; the
// caller performs all I/O based on the decision, so both the join flow
// and the operator command resolve conflicts identically.
package reconcile

import (
	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
)

// Decision is the outcome of comparing a local snapshot against the
// stored remote snapshot at join time.
type Decision int

const (
	// DecisionNoOp means both sides hold equal useful state; nothing
	// to apply or write.
	DecisionNoOp Decision = iota

	// DecisionImport means the remote snapshot overwrites local state
	// in full. Also returned when both sides are useful but unequal: a
	// newly-connecting process cannot prove its local state is newer
	// than what is already durably stored, so trusting the store
	// minimizes data loss. This deliberately strands a local session
	// that changed after the last store write landed; accepted
	// semantics, not a bug.
	DecisionImport

	// DecisionExport means the local snapshot overwrites the remote
	// row in full.
	DecisionExport

	// DecisionExportStamp means both sides are empty; export a minimal
	// stamped row so identity, name and timestamp become visible to
	// other servers.
	DecisionExportStamp
)

func (d Decision) String() string {
	switch d {
	case DecisionNoOp:
		return "no-op"
	case DecisionImport:
		return "import"
	case DecisionExport:
		return "export"
	case DecisionExportStamp:
		return "export-stamp"
	default:
		return "unknown"
	}
}

// Decide classifies a (local, remote) usefulness pair. It is total:
// every combination maps to exactly one decision.
func Decide(localUseful, remoteUseful, equal bool) Decision {
	switch {
	case !localUseful && remoteUseful:
		return DecisionImport
	case localUseful && !remoteUseful:
		return DecisionExport
	case localUseful && remoteUseful:
		if equal {
			return DecisionNoOp
		}
		return DecisionImport
	default:
		return DecisionExportStamp
	}
}

// DecideState applies the policy to per-server state rows. local is
// the connecting player's snapshot encoded as a row; remote is the
// stored row, nil when absent.
func DecideState(local, remote *models.UserState) Decision {
	return Decide(LocalStateUseful(local), RemoteStateUseful(remote), remote.Equal(local))
}

// DecideProfile applies the policy to per-server profile rows
// (group and last location).
func DecideProfile(local, remote *models.ServerProfile) Decision {
	return Decide(ProfileUseful(local), ProfileUseful(remote), remote.Equal(local))
}

// DecideHomes applies the policy to homes maps. Equality compares the
// deterministic encoded form so it is stable across map ordering.
func DecideHomes(local, remote map[string]player.Location) Decision {
	equal := codec.EncodeHomes(local) == codec.EncodeHomes(remote)
	return Decide(len(local) > 0, len(remote) > 0, equal)
}

// LocalStateUseful reports whether a connecting player's snapshot is
// worth exporting. A snapshot is "fresh" (not useful) only when every
// inventory blob is empty, XP is zero, and vitals are at or below
// spawn defaults. The threshold is deliberately conservative: a
// borderline snapshot counts as useful so a conflict resolves by
// import rather than silent loss.
func LocalStateUseful(s *models.UserState) bool {
	if s == nil {
		return false
	}
	if !s.Inventory.Empty() {
		return true
	}
	if s.XP.Level != 0 || s.XP.Total != 0 || s.XP.Progress != 0 {
		return true
	}
	v := s.Vitals
	vitalsDefault := v.Health <= 20 && v.MaxHealth <= 20 && v.Food == 20 && v.Saturation >= 5
	return !vitalsDefault
}

// RemoteStateUseful reports whether a stored state row carries
// anything beyond the defaults written by EnsureUserState. A nil row
// (never synchronized) is never useful.
func RemoteStateUseful(s *models.UserState) bool {
	if s == nil {
		return false
	}
	if !s.Inventory.Empty() {
		return true
	}
	if s.XP.Level > 0 || s.XP.Total > 0 || s.XP.Progress > 0 {
		return true
	}
	v := s.Vitals
	return v.MaxHealth > 20 || v.Food != 20 || v.Saturation != 5 || (v.Health > 0 && v.Health < 20)
}

// ProfileUseful reports whether a profile row has an observable group
// or last location. Homes are reconciled separately.
func ProfileUseful(p *models.ServerProfile) bool {
	if p == nil {
		return false
	}
	return p.GroupName != "" || (p.LastLocation != "" && p.LastLocation != codec.NullLocation)
}
