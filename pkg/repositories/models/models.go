package models

import (
	"bytes"
	"math"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
)

// GlobalUser is the network-wide identity row, one per player.
type GlobalUser struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Balance    float64   `json:"balance"`
	LastUpdate int64     `json:"last_update"`
}

// ServerProfile is the per-(player, server) profile row. Empty strings
// stand for NULL columns; absence of the row means "never synchronized".
type ServerProfile struct {
	ID           uuid.UUID `json:"id"`
	ServerName   string    `json:"server_name"`
	GroupName    string    `json:"group_name,omitempty"`
	LastLocation string    `json:"last_location,omitempty"`
	Homes        string    `json:"homes,omitempty"`
	LastUpdate   int64     `json:"last_update"`
}

// InventoryBlobs is the inventory field group of a state row.
type InventoryBlobs struct {
	Main    []byte `json:"inv_main,omitempty"`
	Offhand []byte `json:"inv_offhand,omitempty"`
	Armor   []byte `json:"inv_armor,omitempty"`
	Aux     []byte `json:"aux_storage,omitempty"`
}

func (b InventoryBlobs) Empty() bool {
	return len(b.Main) == 0 && len(b.Offhand) == 0 && len(b.Armor) == 0 && len(b.Aux) == 0
}

// Metadata is the metadata field group of a state row.
type Metadata struct {
	GameMode      string `json:"game_mode,omitempty"`
	PotionEffects string `json:"potion_effects,omitempty"`
	StatsJSON     string `json:"stats_json,omitempty"`
	LastDeathLoc  string `json:"last_death_loc,omitempty"`
	BedSpawnLoc   string `json:"bed_spawn_loc,omitempty"`
}

// UserState is the per-(player, server) state row, grouped by the
// independently flushed field groups.
type UserState struct {
	ID         uuid.UUID      `json:"id"`
	ServerName string         `json:"server_name"`
	Inventory  InventoryBlobs `json:"inventory"`
	XP         player.XP      `json:"xp"`
	Vitals     player.Vitals  `json:"vitals"`
	Meta       Metadata       `json:"meta"`
	LastUpdate int64          `json:"last_update"`
}

// ServerEntry is a row of the operational server registry.
type ServerEntry struct {
	ServerName string `json:"server_name"`
	IsMaster   bool   `json:"is_master"`
}

// Equal compares two state rows field group by field group, ignoring
// LastUpdate. Float comparisons use small tolerances so rows that
// round-tripped through the store compare equal to live snapshots.
func (s *UserState) Equal(other *UserState) bool {
	if s == nil || other == nil {
		return s == other
	}
	if !bytes.Equal(s.Inventory.Main, other.Inventory.Main) ||
		!bytes.Equal(s.Inventory.Offhand, other.Inventory.Offhand) ||
		!bytes.Equal(s.Inventory.Armor, other.Inventory.Armor) ||
		!bytes.Equal(s.Inventory.Aux, other.Inventory.Aux) {
		return false
	}
	if s.XP.Level != other.XP.Level || s.XP.Total != other.XP.Total {
		return false
	}
	if math.Abs(float64(s.XP.Progress-other.XP.Progress)) > 1e-4 {
		return false
	}
	if math.Abs(s.Vitals.Health-other.Vitals.Health) > 1e-3 ||
		math.Abs(s.Vitals.MaxHealth-other.Vitals.MaxHealth) > 1e-3 {
		return false
	}
	if s.Vitals.Food != other.Vitals.Food {
		return false
	}
	if math.Abs(float64(s.Vitals.Saturation-other.Vitals.Saturation)) > 1e-3 ||
		math.Abs(float64(s.Vitals.Exhaustion-other.Vitals.Exhaustion)) > 1e-3 {
		return false
	}
	return s.Meta.GameMode == other.Meta.GameMode &&
		s.Meta.BedSpawnLoc == other.Meta.BedSpawnLoc
}

// Equal compares the observable profile fields, ignoring LastUpdate.
func (p *ServerProfile) Equal(other *ServerProfile) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.GroupName == other.GroupName &&
		p.LastLocation == other.LastLocation &&
		p.Homes == other.Homes
}
