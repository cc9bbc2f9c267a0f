// Package repositories is the only component that talks to the
// relational backend. Every write takes a proposed timestamp and is
// applied only if it is strictly newer than the stored row's
// last_update (or the row does not exist). The guard lives in the SQL
// itself, so the last-write-wins invariant holds even under adapter
// misuse or concurrent writers on other servers.
package repositories

import (
	"context"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
)

type Repository interface {
	Close(ctx context.Context) error

	// Global users.
	EnsureGlobalUser(ctx context.Context, id uuid.UUID, name string, timestamp int64) error
	UpsertGlobalUserIfNewer(ctx context.Context, user *models.GlobalUser, timestamp int64) (bool, error)
	UpdateBalanceIfNewer(ctx context.Context, id uuid.UUID, balance float64, timestamp int64) (bool, error)
	GetGlobalUser(ctx context.Context, id uuid.UUID) (*models.GlobalUser, error)

	// Per-server profiles.
	EnsureServerProfile(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error
	UpsertServerProfileIfNewer(ctx context.Context, profile *models.ServerProfile, timestamp int64) (bool, error)
	UpdateGroupIfNewer(ctx context.Context, id uuid.UUID, serverName, groupName string, timestamp int64) (bool, error)
	UpdateLastLocationIfNewer(ctx context.Context, id uuid.UUID, serverName, lastLocation string, timestamp int64) (bool, error)
	UpdateHomesIfNewer(ctx context.Context, id uuid.UUID, serverName, homes string, timestamp int64) (bool, error)
	GetServerProfile(ctx context.Context, id uuid.UUID, serverName string) (*models.ServerProfile, error)
	ListServerProfiles(ctx context.Context, id uuid.UUID) ([]*models.ServerProfile, error)
	DeleteServerProfile(ctx context.Context, id uuid.UUID, serverName string) (bool, error)

	// Per-server states.
	EnsureUserState(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error
	UpsertUserStateIfNewer(ctx context.Context, state *models.UserState, timestamp int64) (bool, error)
	UpdateInventoryIfNewer(ctx context.Context, id uuid.UUID, serverName string, inv models.InventoryBlobs, timestamp int64) (bool, error)
	UpdateXPIfNewer(ctx context.Context, id uuid.UUID, serverName string, xp player.XP, timestamp int64) (bool, error)
	UpdateVitalsIfNewer(ctx context.Context, id uuid.UUID, serverName string, vitals player.Vitals, timestamp int64) (bool, error)
	UpdateMetadataIfNewer(ctx context.Context, id uuid.UUID, serverName string, meta models.Metadata, timestamp int64) (bool, error)
	GetUserState(ctx context.Context, id uuid.UUID, serverName string) (*models.UserState, error)
	ListUserStateServers(ctx context.Context, id uuid.UUID) ([]string, error)
	DeleteUserState(ctx context.Context, id uuid.UUID, serverName string) (bool, error)

	// Server registry (operational bookkeeping only). Ensure never
	// touches an existing row, so a flag set by an operator survives
	// restarts.
	EnsureServerRegistry(ctx context.Context, serverName string) error
	UpsertServerRegistry(ctx context.Context, serverName string, isMaster bool) error
	IsMasterServer(ctx context.Context, serverName string) (bool, error)
}
