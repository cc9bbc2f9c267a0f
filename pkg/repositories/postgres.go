package repositories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository creates a new PostgresRepository.
// It panics if it is unable to connect to the database.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) Repository {
	return &PostgresRepository{
		conn: connectDb(ctx, connStr),
	}
}

func connectDb(ctx context.Context, connStr string) *pgx.Conn {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Unable to connect to database: %v\n", err))
	}

	var username string
	var database string
	err = conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		panic(fmt.Sprintf("Unable to query database: %v\n", err))
	}

	log.Info("Connected to %s as %s", database, username)

	return conn
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

// Migrate applies every .sql file in the migrations directory in
// lexical order.
func (r *PostgresRepository) Migrate(ctx context.Context, migrations string) error {
	dir, err := os.ReadDir(migrations)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := r.conn.Exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return nil
}

// Global users

func (r *PostgresRepository) EnsureGlobalUser(ctx context.Context, id uuid.UUID, name string, timestamp int64) error {
	q := `
	INSERT INTO users (uuid, name, balance, last_update)
	VALUES ($1, $2, 0, $3)
	ON CONFLICT (uuid) DO NOTHING;
	`
	_, err := r.conn.Exec(ctx, q, id.String(), name, timestamp)
	return storeErr("ensure global user", err)
}

func (r *PostgresRepository) UpsertGlobalUserIfNewer(ctx context.Context, user *models.GlobalUser, timestamp int64) (bool, error) {
	q := `
	INSERT INTO users (uuid, name, balance, last_update)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (uuid) DO UPDATE SET
	  name = EXCLUDED.name,
	  balance = EXCLUDED.balance,
	  last_update = EXCLUDED.last_update
	WHERE EXCLUDED.last_update > users.last_update;
	`
	tag, err := r.conn.Exec(ctx, q, user.ID.String(), user.Name, player.RoundBalance(user.Balance), timestamp)
	if err != nil {
		return false, storeErr("upsert global user", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateBalanceIfNewer(ctx context.Context, id uuid.UUID, balance float64, timestamp int64) (bool, error) {
	q := `
	UPDATE users SET balance = $1, last_update = $2
	WHERE uuid = $3 AND $2 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, player.RoundBalance(balance), timestamp, id.String())
	if err != nil {
		return false, storeErr("update balance", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetGlobalUser(ctx context.Context, id uuid.UUID) (*models.GlobalUser, error) {
	q := `
	SELECT name, balance, last_update FROM users WHERE uuid = $1;
	`
	user := &models.GlobalUser{ID: id}
	var name *string
	err := r.conn.QueryRow(ctx, q, id.String()).Scan(&name, &user.Balance, &user.LastUpdate)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get global user", err)
	}
	user.Name = fromPtr(name)
	return user, nil
}

// Server profiles

func (r *PostgresRepository) EnsureServerProfile(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	q := `
	INSERT INTO user_profiles (uuid, server_name, groupname, last_location, homes, last_update)
	VALUES ($1, $2, NULL, NULL, NULL, $3)
	ON CONFLICT (uuid, server_name) DO NOTHING;
	`
	_, err := r.conn.Exec(ctx, q, id.String(), serverName, timestamp)
	return storeErr("ensure server profile", err)
}

func (r *PostgresRepository) UpsertServerProfileIfNewer(ctx context.Context, profile *models.ServerProfile, timestamp int64) (bool, error) {
	q := `
	INSERT INTO user_profiles (uuid, server_name, groupname, last_location, homes, last_update)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (uuid, server_name) DO UPDATE SET
	  groupname = EXCLUDED.groupname,
	  last_location = EXCLUDED.last_location,
	  homes = EXCLUDED.homes,
	  last_update = EXCLUDED.last_update
	WHERE EXCLUDED.last_update > user_profiles.last_update;
	`
	tag, err := r.conn.Exec(ctx, q,
		profile.ID.String(), profile.ServerName,
		toPtr(profile.GroupName), toPtr(profile.LastLocation), toPtr(profile.Homes),
		timestamp)
	if err != nil {
		return false, storeErr("upsert server profile", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateGroupIfNewer(ctx context.Context, id uuid.UUID, serverName, groupName string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET groupname = $1, last_update = $2
	WHERE uuid = $3 AND server_name = $4 AND $2 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, toPtr(groupName), timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update group", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateLastLocationIfNewer(ctx context.Context, id uuid.UUID, serverName, lastLocation string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET last_location = $1, last_update = $2
	WHERE uuid = $3 AND server_name = $4 AND $2 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, toPtr(lastLocation), timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update last location", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateHomesIfNewer(ctx context.Context, id uuid.UUID, serverName, homes string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET homes = $1, last_update = $2
	WHERE uuid = $3 AND server_name = $4 AND $2 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, toPtr(homes), timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update homes", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetServerProfile(ctx context.Context, id uuid.UUID, serverName string) (*models.ServerProfile, error) {
	q := `
	SELECT groupname, last_location, homes, last_update
	FROM user_profiles
	WHERE uuid = $1 AND server_name = $2;
	`
	profile := &models.ServerProfile{ID: id, ServerName: serverName}
	var group, lastLocation, homes *string
	err := r.conn.QueryRow(ctx, q, id.String(), serverName).Scan(&group, &lastLocation, &homes, &profile.LastUpdate)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get server profile", err)
	}
	profile.GroupName = fromPtr(group)
	profile.LastLocation = fromPtr(lastLocation)
	profile.Homes = fromPtr(homes)
	return profile, nil
}

func (r *PostgresRepository) ListServerProfiles(ctx context.Context, id uuid.UUID) ([]*models.ServerProfile, error) {
	q := `
	SELECT server_name, groupname, last_location, homes, last_update
	FROM user_profiles
	WHERE uuid = $1
	ORDER BY server_name;
	`
	rows, err := r.conn.Query(ctx, q, id.String())
	if err != nil {
		return nil, storeErr("list server profiles", err)
	}
	defer rows.Close()

	var profiles []*models.ServerProfile
	for rows.Next() {
		profile := &models.ServerProfile{ID: id}
		var group, lastLocation, homes *string
		if err := rows.Scan(&profile.ServerName, &group, &lastLocation, &homes, &profile.LastUpdate); err != nil {
			return nil, storeErr("list server profiles", err)
		}
		profile.GroupName = fromPtr(group)
		profile.LastLocation = fromPtr(lastLocation)
		profile.Homes = fromPtr(homes)
		profiles = append(profiles, profile)
	}
	return profiles, storeErr("list server profiles", rows.Err())
}

func (r *PostgresRepository) DeleteServerProfile(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	q := `
	DELETE FROM user_profiles WHERE uuid = $1 AND server_name = $2;
	`
	tag, err := r.conn.Exec(ctx, q, id.String(), serverName)
	if err != nil {
		return false, storeErr("delete server profile", err)
	}
	return tag.RowsAffected() > 0, nil
}

// User states

func (r *PostgresRepository) EnsureUserState(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	q := `
	INSERT INTO user_state (
	  uuid, server_name,
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	) VALUES ($1, $2, NULL, NULL, NULL, NULL,
	          0, 0, 0,
	          20, 20,
	          20, 5, 0,
	          NULL, NULL, NULL, NULL, NULL,
	          $3)
	ON CONFLICT (uuid, server_name) DO NOTHING;
	`
	_, err := r.conn.Exec(ctx, q, id.String(), serverName, timestamp)
	return storeErr("ensure user state", err)
}

func (r *PostgresRepository) UpsertUserStateIfNewer(ctx context.Context, state *models.UserState, timestamp int64) (bool, error) {
	q := `
	INSERT INTO user_state (
	  uuid, server_name,
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	ON CONFLICT (uuid, server_name) DO UPDATE SET
	  inv_main = EXCLUDED.inv_main,
	  inv_offhand = EXCLUDED.inv_offhand,
	  inv_armor = EXCLUDED.inv_armor,
	  aux_storage = EXCLUDED.aux_storage,
	  xp_level = EXCLUDED.xp_level,
	  xp_total = EXCLUDED.xp_total,
	  xp_progress = EXCLUDED.xp_progress,
	  health = EXCLUDED.health,
	  max_health = EXCLUDED.max_health,
	  food_level = EXCLUDED.food_level,
	  saturation = EXCLUDED.saturation,
	  exhaustion = EXCLUDED.exhaustion,
	  game_mode = EXCLUDED.game_mode,
	  potion_effects = EXCLUDED.potion_effects,
	  stats_json = EXCLUDED.stats_json,
	  last_death_loc = EXCLUDED.last_death_loc,
	  bed_spawn_loc = EXCLUDED.bed_spawn_loc,
	  last_update = EXCLUDED.last_update
	WHERE EXCLUDED.last_update > user_state.last_update;
	`
	tag, err := r.conn.Exec(ctx, q,
		state.ID.String(), state.ServerName,
		state.Inventory.Main, state.Inventory.Offhand, state.Inventory.Armor, state.Inventory.Aux,
		state.XP.Level, state.XP.Total, state.XP.Progress,
		state.Vitals.Health, state.Vitals.MaxHealth,
		state.Vitals.Food, state.Vitals.Saturation, state.Vitals.Exhaustion,
		toPtr(state.Meta.GameMode), toPtr(state.Meta.PotionEffects), toPtr(state.Meta.StatsJSON),
		toPtr(state.Meta.LastDeathLoc), toPtr(state.Meta.BedSpawnLoc),
		timestamp)
	if err != nil {
		return false, storeErr("upsert user state", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateInventoryIfNewer(ctx context.Context, id uuid.UUID, serverName string, inv models.InventoryBlobs, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET inv_main = $1, inv_offhand = $2, inv_armor = $3, aux_storage = $4, last_update = $5
	WHERE uuid = $6 AND server_name = $7 AND $5 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, inv.Main, inv.Offhand, inv.Armor, inv.Aux, timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update inventory", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateXPIfNewer(ctx context.Context, id uuid.UUID, serverName string, xp player.XP, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET xp_level = $1, xp_total = $2, xp_progress = $3, last_update = $4
	WHERE uuid = $5 AND server_name = $6 AND $4 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q, xp.Level, xp.Total, xp.Progress, timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update xp", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateVitalsIfNewer(ctx context.Context, id uuid.UUID, serverName string, vitals player.Vitals, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET health = $1, max_health = $2, food_level = $3, saturation = $4, exhaustion = $5, last_update = $6
	WHERE uuid = $7 AND server_name = $8 AND $6 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q,
		vitals.Health, vitals.MaxHealth, vitals.Food, vitals.Saturation, vitals.Exhaustion,
		timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update vitals", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateMetadataIfNewer(ctx context.Context, id uuid.UUID, serverName string, meta models.Metadata, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET game_mode = $1, potion_effects = $2, stats_json = $3, last_death_loc = $4, bed_spawn_loc = $5, last_update = $6
	WHERE uuid = $7 AND server_name = $8 AND $6 > last_update;
	`
	tag, err := r.conn.Exec(ctx, q,
		toPtr(meta.GameMode), toPtr(meta.PotionEffects), toPtr(meta.StatsJSON),
		toPtr(meta.LastDeathLoc), toPtr(meta.BedSpawnLoc),
		timestamp, id.String(), serverName)
	if err != nil {
		return false, storeErr("update metadata", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetUserState(ctx context.Context, id uuid.UUID, serverName string) (*models.UserState, error) {
	q := `
	SELECT
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	FROM user_state
	WHERE uuid = $1 AND server_name = $2;
	`
	state := &models.UserState{ID: id, ServerName: serverName}
	var gameMode, potions, stats, lastDeath, bedSpawn *string
	err := r.conn.QueryRow(ctx, q, id.String(), serverName).Scan(
		&state.Inventory.Main, &state.Inventory.Offhand, &state.Inventory.Armor, &state.Inventory.Aux,
		&state.XP.Level, &state.XP.Total, &state.XP.Progress,
		&state.Vitals.Health, &state.Vitals.MaxHealth,
		&state.Vitals.Food, &state.Vitals.Saturation, &state.Vitals.Exhaustion,
		&gameMode, &potions, &stats, &lastDeath, &bedSpawn,
		&state.LastUpdate)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get user state", err)
	}
	state.Meta.GameMode = fromPtr(gameMode)
	state.Meta.PotionEffects = fromPtr(potions)
	state.Meta.StatsJSON = fromPtr(stats)
	state.Meta.LastDeathLoc = fromPtr(lastDeath)
	state.Meta.BedSpawnLoc = fromPtr(bedSpawn)
	return state, nil
}

func (r *PostgresRepository) ListUserStateServers(ctx context.Context, id uuid.UUID) ([]string, error) {
	q := `
	SELECT server_name FROM user_state WHERE uuid = $1 ORDER BY server_name;
	`
	rows, err := r.conn.Query(ctx, q, id.String())
	if err != nil {
		return nil, storeErr("list user state servers", err)
	}
	defer rows.Close()

	var servers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeErr("list user state servers", err)
		}
		servers = append(servers, name)
	}
	return servers, storeErr("list user state servers", rows.Err())
}

func (r *PostgresRepository) DeleteUserState(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	q := `
	DELETE FROM user_state WHERE uuid = $1 AND server_name = $2;
	`
	tag, err := r.conn.Exec(ctx, q, id.String(), serverName)
	if err != nil {
		return false, storeErr("delete user state", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Server registry

func (r *PostgresRepository) EnsureServerRegistry(ctx context.Context, serverName string) error {
	q := `
	INSERT INTO servers (server_name, is_master)
	VALUES ($1, FALSE)
	ON CONFLICT (server_name) DO NOTHING;
	`
	_, err := r.conn.Exec(ctx, q, serverName)
	return storeErr("ensure server registry", err)
}

func (r *PostgresRepository) UpsertServerRegistry(ctx context.Context, serverName string, isMaster bool) error {
	q := `
	INSERT INTO servers (server_name, is_master)
	VALUES ($1, $2)
	ON CONFLICT (server_name) DO UPDATE SET is_master = EXCLUDED.is_master;
	`
	_, err := r.conn.Exec(ctx, q, serverName, isMaster)
	return storeErr("upsert server registry", err)
}

func (r *PostgresRepository) IsMasterServer(ctx context.Context, serverName string) (bool, error) {
	q := `
	SELECT is_master FROM servers WHERE server_name = $1;
	`
	var isMaster bool
	err := r.conn.QueryRow(ctx, q, serverName).Scan(&isMaster)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is master server", err)
	}
	return isMaster, nil
}

// Helpers

func toPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
