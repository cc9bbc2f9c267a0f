package events

import (
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/google/uuid"
)

// Type identifies a host event relevant to synchronization.
type Type int

const (
	TypePlayerAttached Type = iota
	TypePlayerDetached
	TypeXPChanged
	TypeHealthChanged
	TypeFoodChanged
	TypeGameModeChanged
	TypeDeath
	TypeRespawn
	TypeBedEnter
	TypeTeleport
	TypeWorldChanged
	TypeBalanceChanged
	TypeGroupChanged
	TypeHomesCommand
	TypeContainerMutation
)

func (t Type) String() string {
	switch t {
	case TypePlayerAttached:
		return "player_attached"
	case TypePlayerDetached:
		return "player_detached"
	case TypeXPChanged:
		return "xp_changed"
	case TypeHealthChanged:
		return "health_changed"
	case TypeFoodChanged:
		return "food_changed"
	case TypeGameModeChanged:
		return "game_mode_changed"
	case TypeDeath:
		return "death"
	case TypeRespawn:
		return "respawn"
	case TypeBedEnter:
		return "bed_enter"
	case TypeTeleport:
		return "teleport"
	case TypeWorldChanged:
		return "world_changed"
	case TypeBalanceChanged:
		return "balance_changed"
	case TypeGroupChanged:
		return "group_changed"
	case TypeHomesCommand:
		return "homes_command"
	case TypeContainerMutation:
		return "container_mutation"
	default:
		return "unknown"
	}
}

// Event is a single host occurrence. Location is set for movement and
// death events, Balance for balance changes.
type Event struct {
	Type     Type
	PlayerID uuid.UUID
	Name     string
	Location *player.Location
	Balance  float64
}
