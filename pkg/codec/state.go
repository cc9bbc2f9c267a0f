package codec

import (
	"github.com/driftmc/driftsync/pkg/player"
	"github.com/driftmc/driftsync/pkg/repositories/models"
)

// EncodeState converts a live state snapshot into the stored inventory
// and metadata field groups.
func EncodeState(s player.State) (models.InventoryBlobs, models.Metadata, error) {
	var inv models.InventoryBlobs
	var err error
	if inv.Main, err = EncodeStacks(s.Main); err != nil {
		return models.InventoryBlobs{}, models.Metadata{}, err
	}
	if inv.Offhand, err = EncodeStacks(s.Offhand); err != nil {
		return models.InventoryBlobs{}, models.Metadata{}, err
	}
	if inv.Armor, err = EncodeStacks(s.Armor); err != nil {
		return models.InventoryBlobs{}, models.Metadata{}, err
	}
	if inv.Aux, err = EncodeStacks(s.Aux); err != nil {
		return models.InventoryBlobs{}, models.Metadata{}, err
	}
	meta := models.Metadata{
		GameMode:      string(s.Mode),
		PotionEffects: EncodePotionEffects(s.Potions),
		LastDeathLoc:  EncodeLocation(s.LastDeath),
		BedSpawnLoc:   EncodeLocation(s.BedSpawn),
	}
	return inv, meta, nil
}

// DecodeState converts a stored state row back into a live state. A
// malformed field surfaces as a DecodeError so the caller can abort
// the apply instead of wiping the player.
func DecodeState(row *models.UserState) (player.State, error) {
	var s player.State
	var err error
	if s.Main, err = DecodeStacks(row.Inventory.Main); err != nil {
		return player.State{}, err
	}
	if s.Offhand, err = DecodeStacks(row.Inventory.Offhand); err != nil {
		return player.State{}, err
	}
	if s.Armor, err = DecodeStacks(row.Inventory.Armor); err != nil {
		return player.State{}, err
	}
	if s.Aux, err = DecodeStacks(row.Inventory.Aux); err != nil {
		return player.State{}, err
	}
	s.XP = row.XP
	s.Vitals = row.Vitals
	s.Mode = player.GameMode(row.Meta.GameMode)
	if s.Potions, err = DecodePotionEffects(row.Meta.PotionEffects); err != nil {
		return player.State{}, err
	}
	if s.LastDeath, err = DecodeLocation(row.Meta.LastDeathLoc); err != nil {
		return player.State{}, err
	}
	if s.BedSpawn, err = DecodeLocation(row.Meta.BedSpawnLoc); err != nil {
		return player.State{}, err
	}
	return s, nil
}
