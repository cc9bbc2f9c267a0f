package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// Global users

func (r *SQLiteRepository) EnsureGlobalUser(ctx context.Context, id uuid.UUID, name string, timestamp int64) error {
	q := `
	INSERT OR IGNORE INTO users (uuid, name, balance, last_update)
	VALUES (?, ?, 0, ?);
	`
	_, err := r.db.ExecContext(ctx, q, id.String(), name, timestamp)
	return storeErr("ensure global user", err)
}

func (r *SQLiteRepository) UpsertGlobalUserIfNewer(ctx context.Context, user *models.GlobalUser, timestamp int64) (bool, error) {
	q := `
	INSERT INTO users (uuid, name, balance, last_update)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(uuid) DO UPDATE SET
	  name = excluded.name,
	  balance = excluded.balance,
	  last_update = excluded.last_update
	WHERE excluded.last_update > users.last_update;
	`
	res, err := r.db.ExecContext(ctx, q, user.ID.String(), user.Name, player.RoundBalance(user.Balance), timestamp)
	if err != nil {
		return false, storeErr("upsert global user", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateBalanceIfNewer(ctx context.Context, id uuid.UUID, balance float64, timestamp int64) (bool, error) {
	q := `
	UPDATE users SET balance = ?, last_update = ?
	WHERE uuid = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, player.RoundBalance(balance), timestamp, id.String(), timestamp)
	if err != nil {
		return false, storeErr("update balance", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) GetGlobalUser(ctx context.Context, id uuid.UUID) (*models.GlobalUser, error) {
	q := `
	SELECT name, balance, last_update FROM users WHERE uuid = ?;
	`
	user := &models.GlobalUser{ID: id}
	var name sql.NullString
	err := r.db.QueryRowContext(ctx, q, id.String()).Scan(&name, &user.Balance, &user.LastUpdate)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get global user", err)
	}
	user.Name = name.String
	return user, nil
}

// Server profiles

func (r *SQLiteRepository) EnsureServerProfile(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	q := `
	INSERT OR IGNORE INTO user_profiles (uuid, server_name, groupname, last_location, homes, last_update)
	VALUES (?, ?, NULL, NULL, NULL, ?);
	`
	_, err := r.db.ExecContext(ctx, q, id.String(), serverName, timestamp)
	return storeErr("ensure server profile", err)
}

func (r *SQLiteRepository) UpsertServerProfileIfNewer(ctx context.Context, profile *models.ServerProfile, timestamp int64) (bool, error) {
	q := `
	INSERT INTO user_profiles (uuid, server_name, groupname, last_location, homes, last_update)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(uuid, server_name) DO UPDATE SET
	  groupname = excluded.groupname,
	  last_location = excluded.last_location,
	  homes = excluded.homes,
	  last_update = excluded.last_update
	WHERE excluded.last_update > user_profiles.last_update;
	`
	res, err := r.db.ExecContext(ctx, q,
		profile.ID.String(), profile.ServerName,
		nullString(profile.GroupName), nullString(profile.LastLocation), nullString(profile.Homes),
		timestamp)
	if err != nil {
		return false, storeErr("upsert server profile", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateGroupIfNewer(ctx context.Context, id uuid.UUID, serverName, groupName string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET groupname = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, nullString(groupName), timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update group", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateLastLocationIfNewer(ctx context.Context, id uuid.UUID, serverName, lastLocation string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET last_location = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, nullString(lastLocation), timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update last location", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateHomesIfNewer(ctx context.Context, id uuid.UUID, serverName, homes string, timestamp int64) (bool, error) {
	q := `
	UPDATE user_profiles SET homes = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, nullString(homes), timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update homes", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) GetServerProfile(ctx context.Context, id uuid.UUID, serverName string) (*models.ServerProfile, error) {
	q := `
	SELECT groupname, last_location, homes, last_update
	FROM user_profiles
	WHERE uuid = ? AND server_name = ?;
	`
	profile := &models.ServerProfile{ID: id, ServerName: serverName}
	var group, lastLocation, homes sql.NullString
	err := r.db.QueryRowContext(ctx, q, id.String(), serverName).Scan(&group, &lastLocation, &homes, &profile.LastUpdate)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get server profile", err)
	}
	profile.GroupName = group.String
	profile.LastLocation = lastLocation.String
	profile.Homes = homes.String
	return profile, nil
}

func (r *SQLiteRepository) ListServerProfiles(ctx context.Context, id uuid.UUID) ([]*models.ServerProfile, error) {
	q := `
	SELECT server_name, groupname, last_location, homes, last_update
	FROM user_profiles
	WHERE uuid = ?
	ORDER BY server_name;
	`
	rows, err := r.db.QueryContext(ctx, q, id.String())
	if err != nil {
		return nil, storeErr("list server profiles", err)
	}
	defer rows.Close()

	var profiles []*models.ServerProfile
	for rows.Next() {
		profile := &models.ServerProfile{ID: id}
		var group, lastLocation, homes sql.NullString
		if err := rows.Scan(&profile.ServerName, &group, &lastLocation, &homes, &profile.LastUpdate); err != nil {
			return nil, storeErr("list server profiles", err)
		}
		profile.GroupName = group.String
		profile.LastLocation = lastLocation.String
		profile.Homes = homes.String
		profiles = append(profiles, profile)
	}
	return profiles, storeErr("list server profiles", rows.Err())
}

func (r *SQLiteRepository) DeleteServerProfile(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	q := `
	DELETE FROM user_profiles WHERE uuid = ? AND server_name = ?;
	`
	res, err := r.db.ExecContext(ctx, q, id.String(), serverName)
	if err != nil {
		return false, storeErr("delete server profile", err)
	}
	return applied(res)
}

// User states

func (r *SQLiteRepository) EnsureUserState(ctx context.Context, id uuid.UUID, serverName string, timestamp int64) error {
	q := `
	INSERT OR IGNORE INTO user_state (
	  uuid, server_name,
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	) VALUES (?, ?, NULL, NULL, NULL, NULL,
	          0, 0, 0,
	          20, 20,
	          20, 5, 0,
	          NULL, NULL, NULL, NULL, NULL,
	          ?);
	`
	_, err := r.db.ExecContext(ctx, q, id.String(), serverName, timestamp)
	return storeErr("ensure user state", err)
}

func (r *SQLiteRepository) UpsertUserStateIfNewer(ctx context.Context, state *models.UserState, timestamp int64) (bool, error) {
	q := `
	INSERT INTO user_state (
	  uuid, server_name,
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uuid, server_name) DO UPDATE SET
	  inv_main = excluded.inv_main,
	  inv_offhand = excluded.inv_offhand,
	  inv_armor = excluded.inv_armor,
	  aux_storage = excluded.aux_storage,
	  xp_level = excluded.xp_level,
	  xp_total = excluded.xp_total,
	  xp_progress = excluded.xp_progress,
	  health = excluded.health,
	  max_health = excluded.max_health,
	  food_level = excluded.food_level,
	  saturation = excluded.saturation,
	  exhaustion = excluded.exhaustion,
	  game_mode = excluded.game_mode,
	  potion_effects = excluded.potion_effects,
	  stats_json = excluded.stats_json,
	  last_death_loc = excluded.last_death_loc,
	  bed_spawn_loc = excluded.bed_spawn_loc,
	  last_update = excluded.last_update
	WHERE excluded.last_update > user_state.last_update;
	`
	res, err := r.db.ExecContext(ctx, q,
		state.ID.String(), state.ServerName,
		state.Inventory.Main, state.Inventory.Offhand, state.Inventory.Armor, state.Inventory.Aux,
		state.XP.Level, state.XP.Total, state.XP.Progress,
		state.Vitals.Health, state.Vitals.MaxHealth,
		state.Vitals.Food, state.Vitals.Saturation, state.Vitals.Exhaustion,
		nullString(state.Meta.GameMode), nullString(state.Meta.PotionEffects), nullString(state.Meta.StatsJSON),
		nullString(state.Meta.LastDeathLoc), nullString(state.Meta.BedSpawnLoc),
		timestamp)
	if err != nil {
		return false, storeErr("upsert user state", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateInventoryIfNewer(ctx context.Context, id uuid.UUID, serverName string, inv models.InventoryBlobs, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET inv_main = ?, inv_offhand = ?, inv_armor = ?, aux_storage = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, inv.Main, inv.Offhand, inv.Armor, inv.Aux, timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update inventory", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateXPIfNewer(ctx context.Context, id uuid.UUID, serverName string, xp player.XP, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET xp_level = ?, xp_total = ?, xp_progress = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q, xp.Level, xp.Total, xp.Progress, timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update xp", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateVitalsIfNewer(ctx context.Context, id uuid.UUID, serverName string, vitals player.Vitals, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET health = ?, max_health = ?, food_level = ?, saturation = ?, exhaustion = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q,
		vitals.Health, vitals.MaxHealth, vitals.Food, vitals.Saturation, vitals.Exhaustion,
		timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update vitals", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) UpdateMetadataIfNewer(ctx context.Context, id uuid.UUID, serverName string, meta models.Metadata, timestamp int64) (bool, error) {
	q := `
	UPDATE user_state
	SET game_mode = ?, potion_effects = ?, stats_json = ?, last_death_loc = ?, bed_spawn_loc = ?, last_update = ?
	WHERE uuid = ? AND server_name = ? AND ? > last_update;
	`
	res, err := r.db.ExecContext(ctx, q,
		nullString(meta.GameMode), nullString(meta.PotionEffects), nullString(meta.StatsJSON),
		nullString(meta.LastDeathLoc), nullString(meta.BedSpawnLoc),
		timestamp, id.String(), serverName, timestamp)
	if err != nil {
		return false, storeErr("update metadata", err)
	}
	return applied(res)
}

func (r *SQLiteRepository) GetUserState(ctx context.Context, id uuid.UUID, serverName string) (*models.UserState, error) {
	q := `
	SELECT
	  inv_main, inv_offhand, inv_armor, aux_storage,
	  xp_level, xp_total, xp_progress,
	  health, max_health,
	  food_level, saturation, exhaustion,
	  game_mode, potion_effects, stats_json, last_death_loc, bed_spawn_loc,
	  last_update
	FROM user_state
	WHERE uuid = ? AND server_name = ?;
	`
	state := &models.UserState{ID: id, ServerName: serverName}
	var gameMode, potions, stats, lastDeath, bedSpawn sql.NullString
	err := r.db.QueryRowContext(ctx, q, id.String(), serverName).Scan(
		&state.Inventory.Main, &state.Inventory.Offhand, &state.Inventory.Armor, &state.Inventory.Aux,
		&state.XP.Level, &state.XP.Total, &state.XP.Progress,
		&state.Vitals.Health, &state.Vitals.MaxHealth,
		&state.Vitals.Food, &state.Vitals.Saturation, &state.Vitals.Exhaustion,
		&gameMode, &potions, &stats, &lastDeath, &bedSpawn,
		&state.LastUpdate)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{}
	}
	if err != nil {
		return nil, storeErr("get user state", err)
	}
	state.Meta.GameMode = gameMode.String
	state.Meta.PotionEffects = potions.String
	state.Meta.StatsJSON = stats.String
	state.Meta.LastDeathLoc = lastDeath.String
	state.Meta.BedSpawnLoc = bedSpawn.String
	return state, nil
}

func (r *SQLiteRepository) ListUserStateServers(ctx context.Context, id uuid.UUID) ([]string, error) {
	q := `
	SELECT server_name FROM user_state WHERE uuid = ? ORDER BY server_name;
	`
	rows, err := r.db.QueryContext(ctx, q, id.String())
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

func (r *SQLiteRepository) DeleteUserState(ctx context.Context, id uuid.UUID, serverName string) (bool, error) {
	q := `
	DELETE FROM user_state WHERE uuid = ? AND server_name = ?;
	`
	res, err := r.db.ExecContext(ctx, q, id.String(), serverName)
	if err != nil {
		return false, storeErr("delete user state", err)
	}
	return applied(res)
}

// Server registry

func (r *SQLiteRepository) EnsureServerRegistry(ctx context.Context, serverName string) error {
	q := `
	INSERT INTO servers (server_name, is_master)
	VALUES (?, 0)
	ON CONFLICT(server_name) DO NOTHING;
	`
	_, err := r.db.ExecContext(ctx, q, serverName)
	return storeErr("ensure server registry", err)
}

func (r *SQLiteRepository) UpsertServerRegistry(ctx context.Context, serverName string, isMaster bool) error {
	q := `
	INSERT INTO servers (server_name, is_master)
	VALUES (?, ?)
	ON CONFLICT(server_name) DO UPDATE SET is_master = excluded.is_master;
	`
	_, err := r.db.ExecContext(ctx, q, serverName, isMaster)
	return storeErr("upsert server registry", err)
}

func (r *SQLiteRepository) IsMasterServer(ctx context.Context, serverName string) (bool, error) {
	q := `
	SELECT is_master FROM servers WHERE server_name = ?;
	`
	var isMaster bool
	err := r.db.QueryRowContext(ctx, q, serverName).Scan(&isMaster)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is master server", err)
	}
	return isMaster, nil
}

// Helpers

func applied(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("rows affected", err)
	}
	return affected > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
