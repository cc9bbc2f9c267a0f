package codec

import (
	"encoding/json"

	"github.com/driftmc/driftsync/pkg/player"
)

// EncodeHomes serializes a homes map to a JSON object of
// name -> serialized location. Keys are emitted in sorted order, so
// equal maps always encode to the same string.
func EncodeHomes(homes map[string]player.Location) string {
	if len(homes) == 0 {
		return "{}"
	}
	obj := make(map[string]string, len(homes))
	for name, loc := range homes {
		l := loc
		obj[name] = EncodeLocation(&l)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeHomes parses a homes JSON object. Entries with unparseable
// locations are dropped; a malformed document returns a DecodeError
// and an empty map.
func DecodeHomes(s string) (map[string]player.Location, error) {
	homes := make(map[string]player.Location)
	if s == "" {
		return homes, nil
	}
	var obj map[string]string
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return homes, &DecodeError{Kind: "homes", Err: err}
	}
	for name, encoded := range obj {
		loc, err := DecodeLocation(encoded)
		if err != nil || loc == nil {
			continue
		}
		homes[name] = *loc
	}
	return homes, nil
}
