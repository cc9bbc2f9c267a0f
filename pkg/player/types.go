package player

import "math"

// Location is a position in a named world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// ItemStack is one slot's worth of a resource. Attributes carry
// engine-specific item data (enchantments, custom names, tags) as
// opaque key/value pairs.
type ItemStack struct {
	Kind       string            `json:"kind"`
	Count      int               `json:"count"`
	MaxStack   int               `json:"maxStack,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DefaultMaxStack is used when a stack does not declare its own limit.
const DefaultMaxStack = 64

func (s *ItemStack) IsEmpty() bool {
	return s == nil || s.Kind == "" || s.Count <= 0
}

func (s *ItemStack) StackLimit() int {
	if s.MaxStack > 0 {
		return s.MaxStack
	}
	return DefaultMaxStack
}

func (s *ItemStack) Copy() *ItemStack {
	if s == nil {
		return nil
	}
	copied := &ItemStack{
		Kind:     s.Kind,
		Count:    s.Count,
		MaxStack: s.MaxStack,
	}
	if s.Attributes != nil {
		copied.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			copied.Attributes[k] = v
		}
	}
	return copied
}

type PotionEffect struct {
	Type      string `json:"type"`
	Duration  int    `json:"duration"`
	Amplifier int    `json:"amplifier"`
	Ambient   bool   `json:"ambient"`
	Particles bool   `json:"particles"`
}

type XP struct {
	Level    int     `json:"level"`
	Total    int     `json:"total"`
	Progress float32 `json:"progress"` // [0, 1]
}

type Vitals struct {
	Health     float64 `json:"health"`
	MaxHealth  float64 `json:"maxHealth"`
	Food       int     `json:"food"`
	Saturation float32 `json:"saturation"`
	Exhaustion float32 `json:"exhaustion"`
}

// DefaultVitals returns the spawn-default vitals of a fresh player.
func DefaultVitals() Vitals {
	return Vitals{
		Health:     20,
		MaxHealth:  20,
		Food:       20,
		Saturation: 5,
		Exhaustion: 0,
	}
}

type GameMode string

const (
	GameModeSurvival  GameMode = "SURVIVAL"
	GameModeCreative  GameMode = "CREATIVE"
	GameModeAdventure GameMode = "ADVENTURE"
	GameModeSpectator GameMode = "SPECTATOR"
)

// State is the live per-server state of a connected player.
type State struct {
	Main      []*ItemStack   `json:"main"`
	Offhand   []*ItemStack   `json:"offhand"`
	Armor     []*ItemStack   `json:"armor"`
	Aux       []*ItemStack   `json:"aux"`
	XP        XP             `json:"xp"`
	Vitals    Vitals         `json:"vitals"`
	Mode      GameMode       `json:"mode,omitempty"`
	Potions   []PotionEffect `json:"potions,omitempty"`
	LastDeath *Location      `json:"lastDeath,omitempty"`
	BedSpawn  *Location      `json:"bedSpawn,omitempty"`
}

// RoundBalance rounds a balance half-up (away from zero) to two
// decimal places. Applied at the store boundary so every persisted
// balance has fixed precision.
func RoundBalance(balance float64) float64 {
	if balance < 0 {
		return -math.Floor(-balance*100+0.5) / 100
	}
	return math.Floor(balance*100+0.5) / 100
}
