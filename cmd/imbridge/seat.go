package main

import (
	"imbridge/internal/config"
	"imbridge/internal/keymap"
	"imbridge/internal/protocol"
)

func repeatInfo(kc config.KeyboardConfig) protocol.RepeatInfo {
	return protocol.RepeatInfo{Rate: int32(kc.RepeatRate), Delay: int32(kc.RepeatDelayMs)}
}

// newSeat returns the keyboard state described by cfg.
func newSeat(cfg *config.Config) (*keymap.Seat, error) {
	seat := keymap.NewSeat(cfg.Seat.Name, repeatInfo(cfg.Keyboard))
	if err := applyKeyboard(seat, cfg.Keyboard); err != nil {
		return nil, err
	}
	return seat, nil
}

// applyKeyboard loads the configured keymap and repeat info into seat.
// On a keymap error seat keeps its previous keymap.
func applyKeyboard(seat *keymap.Seat, kc config.KeyboardConfig) error {
	seat.SetRepeatInfo(repeatInfo(kc))
	if kc.KeymapPath == "" {
		seat.SetKeymap(nil)
		return nil
	}
	k, err := keymap.Load(kc.KeymapPath)
	if err != nil {
		return err
	}
	seat.SetKeymap(k)
	return nil
}
