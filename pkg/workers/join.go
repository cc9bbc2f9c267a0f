package workers

import (
	"context"
	"time"

	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/reconcile"
	"github.com/driftmc/driftsync/pkg/repositories"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
)

// JoinRequest asks the reconciler to process a player that just
// attached to this server.
type JoinRequest struct {
	PlayerID uuid.UUID
	Name     string
}

// JoinWorker reconciles a connecting player's local snapshot with the
// stored rows and applies the decided direction.
type JoinWorker struct {
	repository repositories.Repository
	runtime    host.Runtime
	tracker    *dirty.Tracker
	flusher    *FlushWorker
	clock      clock.Clock
	serverName string
	// suppressWindow is how long local change marks are discarded
	// after an import. The apply itself fires the host's ordinary
	// change callbacks; without the window those callbacks would
	// immediately re-dirty everything that was just imported.
	suppressWindow time.Duration
	balanceWrites  bool
	requestChan    <-chan JoinRequest
}

type NewJoinWorkerOptions struct {
	Repository     repositories.Repository
	Runtime        host.Runtime
	Tracker        *dirty.Tracker
	Flusher        *FlushWorker
	Clock          clock.Clock
	ServerName     string
	SuppressWindow time.Duration
	BalanceWrites  bool
	RequestChan    <-chan JoinRequest
}

// NewJoinWorker creates a new JoinWorker.
func NewJoinWorker(opts NewJoinWorkerOptions) *JoinWorker {
	return &JoinWorker{
		repository:     opts.Repository,
		runtime:        opts.Runtime,
		tracker:        opts.Tracker,
		flusher:        opts.Flusher,
		clock:          opts.Clock,
		serverName:     opts.ServerName,
		suppressWindow: opts.SuppressWindow,
		balanceWrites:  opts.BalanceWrites,
		requestChan:    opts.RequestChan,
	}
}

func (w *JoinWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requestChan:
			w.Reconcile(ctx, req)
		}
	}
}

// Reconcile runs the join-time policy for one player. On any error the
// player is left untouched and unattached so nothing half-applied gets
// flushed back.
func (w *JoinWorker) Reconcile(ctx context.Context, req JoinRequest) {
	id := req.PlayerID
	t := w.clock.NowMillis()

	if err := w.ensureRows(ctx, id, req.Name); err != nil {
		log.Warn("join aborted for %s (%s): %v", req.Name, id, err)
		return
	}

	snap, ok := w.snapshot(id)
	if !ok {
		log.Warn("join aborted for %s (%s): player left before reconcile", req.Name, id)
		return
	}

	local, err := w.encodeLocal(id, snap)
	if err != nil {
		log.Warn("join aborted for %s (%s): %v", req.Name, id, err)
		return
	}

	remoteState, remoteProfile, remoteUser, err := w.loadRemote(ctx, id)
	if err != nil {
		log.Warn("join aborted for %s (%s): %v", req.Name, id, err)
		return
	}

	w.tracker.Attach(id)

	stateDecision := reconcile.DecideState(local, remoteState)
	remoteHomes, err := w.remoteHomes(remoteProfile)
	if err != nil {
		log.Warn("stored homes for %s are unreadable, keeping local set: %v", id, err)
		remoteHomes = nil
	}
	profileDecision := reconcile.DecideProfile(w.encodeProfile(id, snap), remoteProfile)
	homesDecision := reconcile.DecideHomes(snap.Homes, remoteHomes)

	log.Info("join %s (%s): state=%s profile=%s homes=%s",
		req.Name, id, stateDecision, profileDecision, homesDecision)

	importsAny := stateDecision == reconcile.DecisionImport ||
		profileDecision == reconcile.DecisionImport ||
		homesDecision == reconcile.DecisionImport

	if importsAny {
		if !w.applyImports(id, stateDecision, profileDecision, homesDecision,
			remoteState, remoteProfile, remoteHomes, remoteUser) {
			return
		}
	}

	// A global user row with last_update 0 was only ensured and carries
	// no balance anyone has written. Otherwise the store wins on join,
	// and servers without write authority are pure consumers of it.
	if remoteUser != nil && remoteUser.LastUpdate > 0 {
		if !importsAny {
			w.applyBalance(id, remoteUser.Balance)
		}
	} else if w.balanceWrites {
		w.seedBalance(ctx, id, snap.Balance, t)
	}

	w.exportRemainder(ctx, id, req.Name, snap, stateDecision, profileDecision, homesDecision, t)
}

// ensureRows creates the three row kinds if absent. Ensured rows get
// last_update 0 so a real write in the same millisecond still wins;
// they only mark existence, never data.
func (w *JoinWorker) ensureRows(ctx context.Context, id uuid.UUID, name string) error {
	if err := w.repository.EnsureGlobalUser(ctx, id, name, 0); err != nil {
		return err
	}
	if err := w.repository.EnsureServerProfile(ctx, id, w.serverName, 0); err != nil {
		return err
	}
	return w.repository.EnsureUserState(ctx, id, w.serverName, 0)
}

func (w *JoinWorker) snapshot(id uuid.UUID) (host.Snapshot, bool) {
	var snap host.Snapshot
	found := false
	err := w.runtime.RunSync(func() {
		if p, ok := w.runtime.Player(id); ok {
			snap = p.Snapshot()
			found = true
		}
	})
	if err != nil || !found {
		return host.Snapshot{}, false
	}
	return snap, true
}

func (w *JoinWorker) encodeLocal(id uuid.UUID, snap host.Snapshot) (*models.UserState, error) {
	inv, meta, err := codec.EncodeState(snap.State)
	if err != nil {
		return nil, err
	}
	return &models.UserState{
		ID:         id,
		ServerName: w.serverName,
		Inventory:  inv,
		XP:         snap.State.XP,
		Vitals:     snap.State.Vitals,
		Meta:       meta,
	}, nil
}

func (w *JoinWorker) encodeProfile(id uuid.UUID, snap host.Snapshot) *models.ServerProfile {
	return &models.ServerProfile{
		ID:           id,
		ServerName:   w.serverName,
		GroupName:    snap.Group,
		LastLocation: codec.EncodeLocation(snap.LastLocation),
		Homes:        codec.EncodeHomes(snap.Homes),
	}
}

// loadRemote fetches the three row kinds, mapping "row absent" to nil.
func (w *JoinWorker) loadRemote(ctx context.Context, id uuid.UUID) (*models.UserState, *models.ServerProfile, *models.GlobalUser, error) {
	state, err := w.repository.GetUserState(ctx, id, w.serverName)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, nil, nil, err
	}
	profile, err := w.repository.GetServerProfile(ctx, id, w.serverName)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, nil, nil, err
	}
	user, err := w.repository.GetGlobalUser(ctx, id)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, nil, nil, err
	}
	return state, profile, user, nil
}

func (w *JoinWorker) remoteHomes(profile *models.ServerProfile) (map[string]player.Location, error) {
	if profile == nil || profile.Homes == "" {
		return nil, nil
	}
	return codec.DecodeHomes(profile.Homes)
}

// applyImports writes the remote data onto the live player under a
// suppression window. Everything is decoded before the host thread is
// touched, so a malformed row aborts the whole apply and leaves the
// player as they were. It reports whether the apply succeeded.
func (w *JoinWorker) applyImports(id uuid.UUID,
	stateDecision, profileDecision, homesDecision reconcile.Decision,
	remoteState *models.UserState, remoteProfile *models.ServerProfile,
	remoteHomes map[string]player.Location, remoteUser *models.GlobalUser) bool {

	var state player.State
	if stateDecision == reconcile.DecisionImport {
		decoded, err := codec.DecodeState(remoteState)
		if err != nil {
			log.Warn("import aborted for %s: stored state is unreadable: %v", id, err)
			return false
		}
		state = decoded
	}

	var group string
	var lastLoc *player.Location
	if profileDecision == reconcile.DecisionImport {
		group = remoteProfile.GroupName
		loc, err := codec.DecodeLocation(remoteProfile.LastLocation)
		if err != nil {
			log.Warn("import aborted for %s: stored last location is unreadable: %v", id, err)
			return false
		}
		lastLoc = loc
	}

	until := w.clock.NowMillis() + w.suppressWindow.Milliseconds()
	w.tracker.Suppress(id, until)

	applied := false
	err := w.runtime.RunSync(func() {
		p, ok := w.runtime.Player(id)
		if !ok {
			return
		}
		if stateDecision == reconcile.DecisionImport {
			p.ApplyState(state)
		}
		if profileDecision == reconcile.DecisionImport {
			p.ApplyProfile(group, lastLoc)
		}
		if homesDecision == reconcile.DecisionImport {
			p.ApplyHomes(remoteHomes)
		}
		if remoteUser != nil && remoteUser.LastUpdate > 0 {
			p.SetBalance(remoteUser.Balance)
		}
		applied = true
	})
	if err != nil {
		log.Warn("import aborted for %s: %v", id, err)
		return false
	}
	if !applied {
		log.Warn("import skipped for %s: player left before apply", id)
		return false
	}
	return true
}

// seedBalance records the local balance for a player the store has never
// held one for. Only servers with balance write authority do this.
func (w *JoinWorker) seedBalance(ctx context.Context, id uuid.UUID, balance float64, t int64) {
	if _, err := w.repository.UpdateBalanceIfNewer(ctx, id, balance, t); err != nil {
		log.Warn("failed to seed balance for %s: %v", id, err)
	}
}

func (w *JoinWorker) applyBalance(id uuid.UUID, balance float64) {
	err := w.runtime.RunSync(func() {
		if p, ok := w.runtime.Player(id); ok {
			p.SetBalance(balance)
		}
	})
	if err != nil {
		log.Warn("failed to apply balance for %s: %v", id, err)
	}
}

// exportRemainder flushes the facets whose decision was Export or
// ExportStamp. An empty stamp still writes the row, so its last_update
// records that this join looked and found nothing worth importing.
func (w *JoinWorker) exportRemainder(ctx context.Context, id uuid.UUID, name string,
	snap host.Snapshot, stateDecision, profileDecision, homesDecision reconcile.Decision, t int64) {

	exports := func(d reconcile.Decision) bool {
		return d == reconcile.DecisionExport || d == reconcile.DecisionExportStamp
	}

	var bits dirty.Bits
	if exports(stateDecision) {
		bits.XP = true
		bits.Vitals = true
		bits.Meta = true
	}
	if exports(profileDecision) {
		bits.Group = true
		bits.LastLocation = true
	}
	if exports(homesDecision) {
		bits.Homes = true
	}
	if bits.Clean() {
		return
	}
	bits.MarkedAt = t

	w.flusher.Flush(ctx, FlushRequest{
		PlayerID: id,
		Name:     name,
		Snapshot: &snap,
		Bits:     &bits,
		Force:    true,
	})
}
