package codec

import (
	"encoding/json"

	"github.com/driftmc/driftsync/pkg/player"
)

// EncodePotionEffects serializes active potion effects to a JSON
// array. Nil and empty slices encode as "[]".
func EncodePotionEffects(effects []player.PotionEffect) string {
	if len(effects) == 0 {
		return "[]"
	}
	b, err := json.Marshal(effects)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodePotionEffects parses a potion effect JSON array.
func DecodePotionEffects(s string) ([]player.PotionEffect, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var effects []player.PotionEffect
	if err := json.Unmarshal([]byte(s), &effects); err != nil {
		return nil, &DecodeError{Kind: "potion effects", Err: err}
	}
	return effects, nil
}
