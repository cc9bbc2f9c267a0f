package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/driftmc/driftsync/pkg/clock"
	"github.com/driftmc/driftsync/pkg/dirty"
	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushFixture struct {
	repo    *fakeRepository
	runtime *host.FakeRuntime
	tracker *dirty.Tracker
	clock   *clock.ManualClock
	worker  *FlushWorker
	player  *host.FakePlayer
}

func newFlushFixture(t *testing.T, balanceWrites bool) *flushFixture {
	t.Helper()
	c := clock.NewManualClock(1000)
	repo := newFakeRepository()
	runtime := host.NewFakeRuntime()
	tracker := dirty.NewTracker(c)

	p := host.NewFakePlayer(uuid.New(), "steve")
	runtime.AddPlayer(p)
	tracker.Attach(p.PlayerID)

	ctx := context.Background()
	require.NoError(t, repo.EnsureGlobalUser(ctx, p.PlayerID, "steve", 1000))
	require.NoError(t, repo.EnsureServerProfile(ctx, p.PlayerID, "alpha", 1000))
	require.NoError(t, repo.EnsureUserState(ctx, p.PlayerID, "alpha", 1000))
	c.Advance(1)

	w := NewFlushWorker(NewFlushWorkerOptions{
		Repository:    repo,
		Runtime:       runtime,
		Tracker:       tracker,
		Clock:         c,
		ServerName:    "alpha",
		Interval:      time.Minute,
		HomesDebounce: 5 * time.Second,
		BalanceWrites: balanceWrites,
	})
	return &flushFixture{repo: repo, runtime: runtime, tracker: tracker, clock: c, worker: w, player: p}
}

func TestFlushWritesDirtyGroupsAndClears(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	f.player.Cur.State.XP = player.XP{Level: 30, Total: 1400, Progress: 0.5}
	f.tracker.MarkXP(id)

	assert.True(t, f.worker.Flush(ctx, FlushRequest{PlayerID: id}))

	row, err := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 30, row.XP.Level)
	assert.True(t, f.tracker.Get(id).Clean())

	// Inventory rides along with the XP write.
	assert.Equal(t, 1, f.repo.callCount("UpdateInventoryIfNewer"))
	// Clean groups are not written.
	assert.Zero(t, f.repo.callCount("UpdateVitalsIfNewer"))
	assert.Zero(t, f.repo.callCount("UpdateHomesIfNewer"))
}

func TestFlushCleanPlayerIsNoOp(t *testing.T) {
	f := newFlushFixture(t, true)
	assert.False(t, f.worker.Flush(context.Background(), FlushRequest{PlayerID: f.player.PlayerID}))
	assert.Zero(t, f.repo.callCount("UpdateInventoryIfNewer"))
}

func TestFlushFailedGroupStaysDirty(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	f.repo.failOn["UpdateVitalsIfNewer"] = assert.AnError
	f.tracker.MarkXP(id)
	f.tracker.MarkVitals(id)

	f.worker.Flush(ctx, FlushRequest{PlayerID: id})

	bits := f.tracker.Get(id)
	assert.False(t, bits.XP, "xp write succeeded and cleared")
	assert.True(t, bits.Vitals, "vitals write failed and stays dirty")

	// The next flush retries only the failed group.
	delete(f.repo.failOn, "UpdateVitalsIfNewer")
	f.clock.Advance(1)
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})
	assert.True(t, f.tracker.Get(id).Clean())
}

func TestFlushSingleFlightSkipsConcurrent(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	f.repo.blockOn = "UpdateXPIfNewer"
	f.repo.blocked = make(chan struct{})
	f.repo.resume = make(chan struct{})

	f.tracker.MarkXP(id)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.worker.Flush(ctx, FlushRequest{PlayerID: id})
	}()

	<-f.repo.blocked

	// A second flush while the first is in flight is skipped, not
	// queued.
	assert.False(t, f.worker.Flush(ctx, FlushRequest{PlayerID: id, Force: true}))

	close(f.repo.resume)
	wg.Wait()

	assert.Equal(t, 1, f.repo.callCount("UpdateXPIfNewer"))
}

func TestFlushHomesDebounce(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	f.player.Cur.Homes["base"] = player.Location{World: "overworld", X: 10, Y: 64, Z: 10}
	f.tracker.MarkHomes(id)
	f.worker.NoteHomesEdit(id)

	// Inside the debounce window nothing is written and the bit stays.
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})
	assert.Zero(t, f.repo.callCount("UpdateHomesIfNewer"))
	assert.True(t, f.tracker.Get(id).Homes)

	// After the window the sweep writes the coalesced result.
	f.clock.Advance(5001)
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})
	assert.Equal(t, 1, f.repo.callCount("UpdateHomesIfNewer"))
	assert.True(t, f.tracker.Get(id).Clean())

	profile, err := f.repo.GetServerProfile(ctx, id, "alpha")
	require.NoError(t, err)
	assert.Contains(t, profile.Homes, "base")
}

func TestFlushHomesForcedBypassesDebounce(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID

	f.tracker.MarkHomes(id)
	f.worker.NoteHomesEdit(id)

	f.worker.Flush(context.Background(), FlushRequest{PlayerID: id, Force: true})
	assert.Equal(t, 1, f.repo.callCount("UpdateHomesIfNewer"))
}

func TestFlushBalanceAuthority(t *testing.T) {
	ctx := context.Background()

	t.Run("with authority", func(t *testing.T) {
		f := newFlushFixture(t, true)
		id := f.player.PlayerID
		f.player.Cur.Balance = 250.509
		f.tracker.MarkBalance(id)

		f.worker.Flush(ctx, FlushRequest{PlayerID: id})

		user, err := f.repo.GetGlobalUser(ctx, id)
		require.NoError(t, err)
		assert.InDelta(t, 250.51, user.Balance, 1e-9)
		assert.True(t, f.tracker.Get(id).Clean())
	})

	t.Run("without authority", func(t *testing.T) {
		f := newFlushFixture(t, false)
		id := f.player.PlayerID
		f.player.Cur.Balance = 250.509
		f.tracker.MarkBalance(id)

		f.worker.Flush(ctx, FlushRequest{PlayerID: id})

		// Not written, but the mark is dropped so it does not retry
		// forever.
		assert.Zero(t, f.repo.callCount("UpdateBalanceIfNewer"))
		assert.True(t, f.tracker.Get(id).Clean())
	})
}

func TestFlushRefreshesGlobalDisplayName(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	f.player.PlayerName = "steven"
	f.tracker.MarkXP(id)
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})

	user, err := f.repo.GetGlobalUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "steven", user.Name, "a renamed player's stored name follows the flush")
	assert.Equal(t, f.clock.NowMillis(), user.LastUpdate)
}

func TestFlushNameRefreshKeepsStoredBalanceWithoutAuthority(t *testing.T) {
	f := newFlushFixture(t, false)
	id := f.player.PlayerID
	ctx := context.Background()

	// Another server owns the balance.
	_, err := f.repo.UpdateBalanceIfNewer(ctx, id, 77.25, f.clock.NowMillis())
	require.NoError(t, err)
	f.clock.Advance(1)

	f.player.PlayerName = "steven"
	f.player.Cur.Balance = 500
	f.tracker.MarkXP(id)
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})

	user, err := f.repo.GetGlobalUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "steven", user.Name)
	assert.InDelta(t, 77.25, user.Balance, 1e-9, "no authority, so the stored balance is written back untouched")
}

func TestFlushStaleWriteStillClears(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	// Another server already wrote a newer row.
	_, err := f.repo.UpdateXPIfNewer(ctx, id, "alpha", player.XP{Level: 99}, f.clock.NowMillis()+10000)
	require.NoError(t, err)

	f.tracker.MarkXP(id)
	f.worker.Flush(ctx, FlushRequest{PlayerID: id})

	// The store kept the newer row and the bit is cleared anyway.
	row, getErr := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, getErr)
	assert.Equal(t, 99, row.XP.Level)
	assert.True(t, f.tracker.Get(id).Clean())
}

func TestFlushOfflinePlayerWithoutSnapshotSkips(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	f.tracker.MarkXP(id)
	f.runtime.RemovePlayer(id)

	assert.False(t, f.worker.Flush(context.Background(), FlushRequest{PlayerID: id}))
	assert.True(t, f.tracker.Get(id).XP, "bits survive an unavailable player")
}

func TestFlushDetachSnapshotIsUsed(t *testing.T) {
	f := newFlushFixture(t, true)
	id := f.player.PlayerID
	ctx := context.Background()

	snap := f.player.Snapshot()
	snap.State.XP = player.XP{Level: 7}
	f.runtime.RemovePlayer(id)

	all := dirty.All(f.clock.NowMillis())
	ok := f.worker.Flush(ctx, FlushRequest{
		PlayerID: id,
		Name:     "steve",
		Snapshot: &snap,
		Bits:     &all,
		Force:    true,
	})
	assert.True(t, ok)

	row, err := f.repo.GetUserState(ctx, id, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 7, row.XP.Level)
}
