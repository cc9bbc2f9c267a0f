package workers

import (
	"context"
	"sync"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
)

type stateKey struct {
	id     uuid.UUID
	server string
}

// fakeRepository is an in-memory Repository with the same timestamp
// guard as the real adapters. failOn forces an error for one method
// name; blockOn holds a write open until released, for single-flight
// tests.
type fakeRepository struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.GlobalUser
	profiles map[stateKey]*models.ServerProfile
	states   map[stateKey]*models.UserState
	servers  map[string]bool

	failOn  map[string]error
	blockOn string
	blocked chan struct{}
	resume  chan struct{}

	calls []string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:    make(map[uuid.UUID]*models.GlobalUser),
		profiles: make(map[stateKey]*models.ServerProfile),
		states:   make(map[stateKey]*models.UserState),
		servers:  make(map[string]bool),
		failOn:   make(map[string]error),
	}
}

func (f *fakeRepository) enter(method string) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	err := f.failOn[method]
	block := f.blockOn == method
	f.mu.Unlock()
	if block {
		f.blocked <- struct{}{}
		<-f.resume
	}
	return err
}

func (f *fakeRepository) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeRepository) Close(ctx context.Context) error { return nil }

func (f *fakeRepository) EnsureGlobalUser(ctx context.Context, id uuid.UUID, name string, timestamp int64) error {
	if err := f.enter("EnsureGlobalUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		f.users[id] = &models.GlobalUser{ID: id, Name: name, LastUpdate: timestamp}
	}
	return nil
}

func (f *fakeRepository) UpsertGlobalUserIfNewer(ctx context.Context, user *models.GlobalUser, timestamp int64) (bool, error) {
	if err := f.enter("UpsertGlobalUserIfNewer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.users[user.ID]; ok && timestamp <= cur.LastUpdate {
		return false, nil
	}
	cp := *user
	cp.Balance = player.RoundBalance(user.Balance)
	cp.LastUpdate = timestamp
	f.users[user.ID] = &cp
	return true, nil
}

func (f *fakeRepository) UpdateBalanceIfNewer(ctx context.Context, id uuid.UUID, balance float64, timestamp int64) (bool, error) {
	if err := f.enter("UpdateBalanceIfNewer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.users[id]
	if !ok || timestamp <= cur.LastUpdate {
		return false, nil
	}
	cur.Balance = player.RoundBalance(balance)
	cur.LastUpdate = timestamp
	return true, nil
}

func (f *fakeRepository) GetGlobalUser(ctx context.Context, id uuid.UUID) (*models.GlobalUser, error) {
	if err := f.enter("GetGlobalUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, &repositories.ErrNotFound{}
}

func (f *fakeRepository) EnsureServerProfile(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	if err := f.enter("EnsureServerProfile"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{id, serverName}
	if _, ok := f.profiles[k]; !ok {
		f.profiles[k] = &models.ServerProfile{ID: id, ServerName: serverName, LastUpdate: timestamp}
	}
	return nil
}

func (f *fakeRepository) UpsertServerProfileIfNewer(ctx context.Context, profile *models.ServerProfile, timestamp int64) (bool, error) {
	if err := f.enter("UpsertServerProfileIfNewer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{profile.ID, profile.ServerName}
	if cur, ok := f.profiles[k]; ok && timestamp <= cur.LastUpdate {
		return false, nil
	}
	cp := *profile
	cp.LastUpdate = timestamp
	f.profiles[k] = &cp
	return true, nil
}

func (f *fakeRepository) updateProfile(id uuid.UUID, serverName string, timestamp int64, set func(*models.ServerProfile)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.profiles[stateKey{id, serverName}]
	if !ok || timestamp <= cur.LastUpdate {
		return false, nil
	}
	set(cur)
	cur.LastUpdate = timestamp
	return true, nil
}

func (f *fakeRepository) UpdateGroupIfNewer(ctx context.Context, id uuid.UUID, serverName, groupName string, timestamp int64) (bool, error) {
	if err := f.enter("UpdateGroupIfNewer"); err != nil {
		return false, err
	}
	return f.updateProfile(id, serverName, timestamp, func(p *models.ServerProfile) { p.GroupName = groupName })
}

func (f *fakeRepository) UpdateLastLocationIfNewer(ctx context.Context, id uuid.UUID, serverName, lastLocation string, timestamp int64) (bool, error) {
	if err := f.enter("UpdateLastLocationIfNewer"); err != nil {
		return false, err
	}
	return f.updateProfile(id, serverName, timestamp, func(p *models.ServerProfile) { p.LastLocation = lastLocation })
}

func (f *fakeRepository) UpdateHomesIfNewer(ctx context.Context, id uuid.UUID, serverName, homes string, timestamp int64) (bool, error) {
	if err := f.enter("UpdateHomesIfNewer"); err != nil {
		return false, err
	}
	return f.updateProfile(id, serverName, timestamp, func(p *models.ServerProfile) { p.Homes = homes })
}

func (f *fakeRepository) GetServerProfile(ctx context.Context, id uuid.UUID, serverName string) (*models.ServerProfile, error) {
	if err := f.enter("GetServerProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[stateKey{id, serverName}]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, &repositories.ErrNotFound{}
}

func (f *fakeRepository) ListServerProfiles(ctx context.Context, id uuid.UUID) ([]*models.ServerProfile, error) {
	if err := f.enter("ListServerProfiles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ServerProfile
	for k, p := range f.profiles {
		if k.id == id {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepository) DeleteServerProfile(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	if err := f.enter("DeleteServerProfile"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{id, serverName}
	if _, ok := f.profiles[k]; !ok {
		return false, nil
	}
	delete(f.profiles, k)
	return true, nil
}

func (f *fakeRepository) EnsureUserState(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	if err := f.enter("EnsureUserState"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{id, serverName}
	if _, ok := f.states[k]; !ok {
		f.states[k] = &models.UserState{
			ID:         id,
			ServerName: serverName,
			Vitals:     player.DefaultVitals(),
			LastUpdate: timestamp,
		}
	}
	return nil
}

func (f *fakeRepository) UpsertUserStateIfNewer(ctx context.Context, state *models.UserState, timestamp int64) (bool, error) {
	if err := f.enter("UpsertUserStateIfNewer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{state.ID, state.ServerName}
	if cur, ok := f.states[k]; ok && timestamp <= cur.LastUpdate {
		return false, nil
	}
	cp := *state
	cp.LastUpdate = timestamp
	f.states[k] = &cp
	return true, nil
}

func (f *fakeRepository) updateState(id uuid.UUID, serverName string, timestamp int64, set func(*models.UserState)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.states[stateKey{id, serverName}]
	if !ok || timestamp <= cur.LastUpdate {
		return false, nil
	}
	set(cur)
	cur.LastUpdate = timestamp
	return true, nil
}

func (f *fakeRepository) UpdateInventoryIfNewer(ctx context.Context, id uuid.UUID, serverName string, inv models.InventoryBlobs, timestamp int64) (bool, error) {
	if err := f.enter("UpdateInventoryIfNewer"); err != nil {
		return false, err
	}
	return f.updateState(id, serverName, timestamp, func(s *models.UserState) { s.Inventory = inv })
}

func (f *fakeRepository) UpdateXPIfNewer(ctx context.Context, id uuid.UUID, serverName string, xp player.XP, timestamp int64) (bool, error) {
	if err := f.enter("UpdateXPIfNewer"); err != nil {
		return false, err
	}
	return f.updateState(id, serverName, timestamp, func(s *models.UserState) { s.XP = xp })
}

func (f *fakeRepository) UpdateVitalsIfNewer(ctx context.Context, id uuid.UUID, serverName string, vitals player.Vitals, timestamp int64) (bool, error) {
	if err := f.enter("UpdateVitalsIfNewer"); err != nil {
		return false, err
	}
	return f.updateState(id, serverName, timestamp, func(s *models.UserState) { s.Vitals = vitals })
}

func (f *fakeRepository) UpdateMetadataIfNewer(ctx context.Context, id uuid.UUID, serverName string, meta models.Metadata, timestamp int64) (bool, error) {
	if err := f.enter("UpdateMetadataIfNewer"); err != nil {
		return false, err
	}
	return f.updateState(id, serverName, timestamp, func(s *models.UserState) { s.Meta = meta })
}

func (f *fakeRepository) GetUserState(ctx context.Context, id uuid.UUID, serverName string) (*models.UserState, error) {
	if err := f.enter("GetUserState"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[stateKey{id, serverName}]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, &repositories.ErrNotFound{}
}

func (f *fakeRepository) ListUserStateServers(ctx context.Context, id uuid.UUID) ([]string, error) {
	if err := f.enter("ListUserStateServers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.states {
		if k.id == id {
			out = append(out, k.server)
		}
	}
	return out, nil
}

func (f *fakeRepository) DeleteUserState(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	if err := f.enter("DeleteUserState"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stateKey{id, serverName}
	if _, ok := f.states[k]; !ok {
		return false, nil
	}
	delete(f.states, k)
	return true, nil
}

func (f *fakeRepository) EnsureServerRegistry(ctx context.Context, serverName string) error {
	if err := f.enter("EnsureServerRegistry"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[serverName]; !ok {
		f.servers[serverName] = false
	}
	return nil
}

func (f *fakeRepository) UpsertServerRegistry(ctx context.Context, serverName string, isMaster bool) error {
	if err := f.enter("UpsertServerRegistry"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[serverName] = isMaster
	return nil
}

func (f *fakeRepository) IsMasterServer(ctx context.Context, serverName string) (bool, error) {
	if err := f.enter("IsMasterServer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[serverName], nil
}

var _ repositories.Repository = (*fakeRepository)(nil)
