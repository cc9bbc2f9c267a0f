package workers

import (
	"context"
	"testing"
	"time"

	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type joinFixture struct {
	repo    *fakeRepository
	runtime *host.FakeRuntime
	tracker *dirty.Tracker
	clock   *clock.ManualClock
	flusher *FlushWorker
	joiner  *JoinWorker
	player  *host.FakePlayer
}

func newJoinFixture(t *testing.T) *joinFixture {
	t.Helper()
	c := clock.NewManualClock(10000)
	repo := newFakeRepository()
	runtime := host.NewFakeRuntime()
	tracker := dirty.NewTracker(c)

	p := host.NewFakePlayer(uuid.New(), "alex")
	runtime.AddPlayer(p)

	flusher := NewFlushWorker(NewFlushWorkerOptions{
		Repository:    repo,
		Runtime:       runtime,
		Tracker:       tracker,
		Clock:         c,
		ServerName:    "alpha",
		Interval:      time.Minute,
		HomesDebounce: 5 * time.Second,
		BalanceWrites: true,
	})
	joiner := NewJoinWorker(NewJoinWorkerOptions{
		Repository:     repo,
		Runtime:        runtime,
		Tracker:        tracker,
		Flusher:        flusher,
		Clock:          c,
		ServerName:     "alpha",
		SuppressWindow: 2 * time.Second,
		BalanceWrites:  true,
	})
	return &joinFixture{repo: repo, runtime: runtime, tracker: tracker, clock: c, flusher: flusher, joiner: joiner, player: p}
}

// seedRemote writes a useful stored state for the player as if another
// flush had exported it earlier.
func seedRemote(t *testing.T, f *joinFixture, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.EnsureGlobalUser(ctx, id, "alex", 0))
	require.NoError(t, f.repo.EnsureServerProfile(ctx, id, "alpha", 0))
	require.NoError(t, f.repo.EnsureUserState(ctx, id, "alpha", 0))

	blob, err := codec.EncodeStacks([]*player.ItemStack{{Kind: "iron_sword", Count: 1}})
	require.NoError(t, err)

	seedTime := int64(5000)
	_, err = f.repo.UpdateInventoryIfNewer(ctx, id, "alpha", invWithMain(blob), seedTime)
	require.NoError(t, err)
	_, err = f.repo.UpdateXPIfNewer(ctx, id, "alpha", player.XP{Level: 42, Total: 3000, Progress: 0.25}, seedTime+1)
	require.NoError(t, err)
	_, err = f.repo.UpdateGroupIfNewer(ctx, id, "alpha", "veteran", seedTime+2)
	require.NoError(t, err)
	_, err = f.repo.UpdateHomesIfNewer(ctx, id, "alpha",
		codec.EncodeHomes(map[string]player.Location{"base": {World: "overworld", X: 100, Y: 64, Z: -20}}), seedTime+3)
	require.NoError(t, err)
	_, err = f.repo.UpdateBalanceIfNewer(ctx, id, 99.5, seedTime+4)
	require.NoError(t, err)
}

func invWithMain(blob []byte) models.InventoryBlobs {
	return models.InventoryBlobs{Main: blob}
}

func TestJoinImportsRemoteOntoFreshPlayer(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	seedRemote(t, f, id)

	f.joiner.Reconcile(context.Background(), JoinRequest{PlayerID: id, Name: "alex"})

	assert.Equal(t, 42, f.player.Cur.State.XP.Level)
	assert.Len(t, f.player.Cur.State.Main, 1)
	assert.Equal(t, "veteran", f.player.Cur.Group)
	assert.Contains(t, f.player.Cur.Homes, "base")
	assert.InDelta(t, 99.5, f.player.Cur.Balance, 1e-9)

	// The suppression window is armed, so the apply's own change
	// callbacks do not re-dirty the player.
	assert.True(t, f.tracker.Suppressed(id))
	f.tracker.MarkXP(id)
	assert.True(t, f.tracker.Get(id).Clean())

	f.clock.Advance(2001)
	assert.False(t, f.tracker.Suppressed(id))
	f.tracker.MarkXP(id)
	assert.True(t, f.tracker.Get(id).XP)
}

func TestJoinExportsUsefulLocalOverEmptyRemote(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	ctx := context.Background()

	f.player.Cur.State.XP = player.XP{Level: 12, Total: 500, Progress: 0.8}
	f.player.Cur.State.Main = []*player.ItemStack{{Kind: "oak_log", Count: 32}}

	f.joiner.Reconcile(ctx, JoinRequest{PlayerID: id, Name: "alex"})

	row, err := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 12, row.XP.Level)
	assert.NotEmpty(t, row.Inventory.Main)
	assert.Equal(t, f.clock.NowMillis(), row.LastUpdate, "export stamps the row with the flush time")

	// The player was never mutated.
	assert.Zero(t, f.player.ApplyCount)
}

func TestJoinBothEmptyStampsRow(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	ctx := context.Background()

	f.joiner.Reconcile(ctx, JoinRequest{PlayerID: id, Name: "alex"})

	row, err := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, err)
	assert.Equal(t, f.clock.NowMillis(), row.LastUpdate, "stamp records that this join synchronized")
	assert.Zero(t, row.XP.Level)
	assert.Zero(t, f.player.ApplyCount)
}

func TestJoinConflictPrefersRemote(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	seedRemote(t, f, id)

	f.player.Cur.State.XP = player.XP{Level: 12, Total: 500, Progress: 0.8}
	f.player.Cur.State.Main = []*player.ItemStack{{Kind: "oak_log", Count: 32}}

	f.joiner.Reconcile(context.Background(), JoinRequest{PlayerID: id, Name: "alex"})

	assert.Equal(t, 42, f.player.Cur.State.XP.Level, "stored snapshot replaces the local one")
	require.Len(t, f.player.Cur.State.Main, 1)
	assert.Equal(t, "iron_sword", f.player.Cur.State.Main[0].Kind)
}

func TestJoinUnreadableStoredStateAborts(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	seedRemote(t, f, id)
	ctx := context.Background()

	// Corrupt the stored inventory blob.
	_, err := f.repo.UpdateInventoryIfNewer(ctx, id, "alpha", invWithMain([]byte{0xff, 0x00, 0x01}), 9000)
	require.NoError(t, err)

	f.player.Cur.State.XP = player.XP{Level: 12}
	f.joiner.Reconcile(ctx, JoinRequest{PlayerID: id, Name: "alex"})

	// Player untouched, and nothing was exported over the stored row.
	assert.Zero(t, f.player.ApplyCount)
	assert.Equal(t, 12, f.player.Cur.State.XP.Level)
	row, getErr := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, getErr)
	assert.Equal(t, 42, row.XP.Level)
}

func TestJoinSeedsBalanceWhenStoreHasNone(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	ctx := context.Background()
	f.player.Cur.Balance = 150.0

	f.joiner.Reconcile(ctx, JoinRequest{PlayerID: id, Name: "alex"})

	// The ensured row never overwrites the local economy, and the local
	// balance becomes the stored one.
	assert.InDelta(t, 150.0, f.player.Cur.Balance, 1e-9)
	user, err := f.repo.GetGlobalUser(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, user.Balance, 1e-9)
	assert.Equal(t, f.clock.NowMillis(), user.LastUpdate)
}

func TestJoinWithoutAuthorityLeavesEmptyStoreAlone(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	ctx := context.Background()
	f.player.Cur.Balance = 150.0

	flusher := NewFlushWorker(NewFlushWorkerOptions{
		Repository:    f.repo,
		Runtime:       f.runtime,
		Tracker:       f.tracker,
		Clock:         f.clock,
		ServerName:    "alpha",
		Interval:      time.Minute,
		HomesDebounce: 5 * time.Second,
		BalanceWrites: false,
	})
	joiner := NewJoinWorker(NewJoinWorkerOptions{
		Repository:     f.repo,
		Runtime:        f.runtime,
		Tracker:        f.tracker,
		Flusher:        flusher,
		Clock:          f.clock,
		ServerName:     "alpha",
		SuppressWindow: 2 * time.Second,
		BalanceWrites:  false,
	})
	joiner.Reconcile(ctx, JoinRequest{PlayerID: id, Name: "alex"})

	assert.InDelta(t, 150.0, f.player.Cur.Balance, 1e-9)
	user, err := f.repo.GetGlobalUser(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, user.Balance, "no authority, so the local balance never reaches the store")
}

func TestJoinStoreErrorAborts(t *testing.T) {
	f := newJoinFixture(t)
	id := f.player.PlayerID
	f.repo.failOn["GetUserState"] = assert.AnError

	f.joiner.Reconcile(context.Background(), JoinRequest{PlayerID: id, Name: "alex"})

	assert.Zero(t, f.player.ApplyCount)
	assert.Empty(t, f.tracker.Attached(), "player stays unattached after an aborted join")
}
