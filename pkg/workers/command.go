package workers

import (
	"context"
	"fmt"

	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/player"
)

// PermissionRequired guards the forced sync command.
const PermissionRequired = "driftsync.force"

// PermissionDeniedError is returned when a player lacks the command
// permission.
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: requires %s", e.Permission)
}

// UsageError is returned for malformed command arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s", e.Usage)
}

// SyncCommand handles the operator-forced sync. "import" overwrites
// the live player from the store regardless of the join policy;
// "export" overwrites the store from the live player.
type SyncCommand struct {
	joiner  *JoinWorker
	flusher *FlushWorker
	runtime host.Runtime
}

type NewSyncCommandOptions struct {
	Joiner  *JoinWorker
	Flusher *FlushWorker
	Runtime host.Runtime
}

func NewSyncCommand(opts NewSyncCommandOptions) *SyncCommand {
	return &SyncCommand{
		joiner:  opts.Joiner,
		flusher: opts.Flusher,
		runtime: opts.Runtime,
	}
}

const syncUsage = "/syncforce <import|export>"

// Handle executes the command for the invoking player.
func (c *SyncCommand) Handle(ctx context.Context, p host.PlayerHandle, args []string) error {
	if !p.HasPermission(PermissionRequired) {
		return &PermissionDeniedError{Permission: PermissionRequired}
	}
	if len(args) != 1 {
		return &UsageError{Usage: syncUsage}
	}

	switch args[0] {
	case "import":
		return c.forceImport(ctx, p)
	case "export":
		return c.forceExport(ctx, p)
	default:
		return &UsageError{Usage: syncUsage}
	}
}

func (c *SyncCommand) forceImport(ctx context.Context, p host.PlayerHandle) error {
	id := p.ID()
	remoteState, remoteProfile, remoteUser, err := c.joiner.loadRemote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load stored rows: %w", err)
	}
	if remoteState == nil && remoteProfile == nil && remoteUser == nil {
		p.Message("nothing stored for you on this server")
		return nil
	}

	var state player.State
	if remoteState != nil {
		if state, err = codec.DecodeState(remoteState); err != nil {
			return fmt.Errorf("stored state is unreadable: %w", err)
		}
	}

	until := c.joiner.clock.NowMillis() + c.joiner.suppressWindow.Milliseconds()
	c.joiner.tracker.Suppress(id, until)

	err = c.runtime.RunSync(func() {
		live, ok := c.runtime.Player(id)
		if !ok {
			return
		}
		if remoteState != nil {
			live.ApplyState(state)
		}
		if remoteProfile != nil {
			loc, decErr := codec.DecodeLocation(remoteProfile.LastLocation)
			if decErr == nil {
				live.ApplyProfile(remoteProfile.GroupName, loc)
			}
			if homes, decErr := c.joiner.remoteHomes(remoteProfile); decErr == nil && homes != nil {
				live.ApplyHomes(homes)
			}
		}
		if remoteUser != nil {
			live.SetBalance(remoteUser.Balance)
		}
	})
	if err != nil {
		return err
	}
	log.Info("forced import for %s (%s)", p.Name(), id)
	p.Message("imported stored data")
	return nil
}

func (c *SyncCommand) forceExport(ctx context.Context, p host.PlayerHandle) error {
	id := p.ID()
	var snap host.Snapshot
	err := c.runtime.RunSync(func() {
		snap = p.Snapshot()
	})
	if err != nil {
		return err
	}
	completed := c.flusher.ExportAll(ctx, id, p.Name(), snap, c.joiner.clock.NowMillis())
	if completed.Clean() {
		p.Message("export skipped: a sync is already running")
		return nil
	}
	log.Info("forced export for %s (%s)", p.Name(), id)
	p.Message("exported your data")
	return nil
}
