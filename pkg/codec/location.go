// Package codec converts live player resources to and from their
// storable representations. Encoding is deterministic and null-safe;
// decoding treats malformed input as absent via DecodeError.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/driftmc/driftsync/pkg/player"
)

// NullLocation is the stored token for "no location".
const NullLocation = "NULL"

// EncodeLocation serializes a location to "world,x,y,z,yaw,pitch".
// A nil location or one without a world encodes as NullLocation.
func EncodeLocation(loc *player.Location) string {
	if loc == nil || loc.World == "" {
		return NullLocation
	}
	return strings.Join([]string{
		loc.World,
		strconv.FormatFloat(loc.X, 'f', -1, 64),
		strconv.FormatFloat(loc.Y, 'f', -1, 64),
		strconv.FormatFloat(loc.Z, 'f', -1, 64),
		strconv.FormatFloat(float64(loc.Yaw), 'f', -1, 32),
		strconv.FormatFloat(float64(loc.Pitch), 'f', -1, 32),
	}, ",")
}

// DecodeLocation parses a serialized location. Empty strings and the
// NullLocation token decode to nil without error.
func DecodeLocation(s string) (*player.Location, error) {
	if s == "" || strings.EqualFold(s, NullLocation) {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) < 6 {
		return nil, &DecodeError{Kind: "location", Err: fmt.Errorf("expected 6 fields, got %d", len(parts))}
	}
	x, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, &DecodeError{Kind: "location", Err: err}
	}
	y, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, &DecodeError{Kind: "location", Err: err}
	}
	z, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return nil, &DecodeError{Kind: "location", Err: err}
	}
	yaw, err := strconv.ParseFloat(parts[4], 32)
	if err != nil {
		return nil, &DecodeError{Kind: "location", Err: err}
	}
	pitch, err := strconv.ParseFloat(parts[5], 32)
	if err != nil {
		return nil, &DecodeError{Kind: "location", Err: err}
	}
	return &player.Location{
		World: parts[0],
		X:     x,
		Y:     y,
		Z:     z,
		Yaw:   float32(yaw),
		Pitch: float32(pitch),
	}, nil
}
