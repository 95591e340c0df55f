package keymap

import (
	"errors"
	"sync"

	"imbridge/internal/protocol"
)

// ErrNoKeymap is returned by Seat.Keymap before a keymap is set.
var ErrNoKeymap = errors.New("keymap: no keymap")

// Seat is the keyboard state of one seat as shared with input methods.
// It is safe for concurrent use.
type Seat struct {
	name string

	mu     sync.RWMutex
	keymap *Keymap
	repeat protocol.RepeatInfo
	mods   protocol.ModifiersState
}

// NewSeat returns a seat with no keymap.
func NewSeat(name string, repeat protocol.RepeatInfo) *Seat {
	return &Seat{name: name, repeat: repeat}
}

// Name returns the seat name.
func (s *Seat) Name() string {
	return s.name
}

// Keymap returns the current keymap descriptor.
func (s *Seat) Keymap() (protocol.Keymap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keymap == nil {
		return protocol.Keymap{}, ErrNoKeymap
	}
	return s.keymap.Protocol(), nil
}

// RepeatInfo returns the repeat configuration.
func (s *Seat) RepeatInfo() protocol.RepeatInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeat
}

// Modifiers returns the last modifier state.
func (s *Seat) Modifiers() protocol.ModifiersState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mods
}

// SetKeymap replaces the keymap and closes the previous one. Nil clears
// it.
func (s *Seat) SetKeymap(k *Keymap) {
	s.mu.Lock()
	old := s.keymap
	s.keymap = k
	s.mu.Unlock()

	if old != nil && old != k {
		old.Close()
	}
}

// SetRepeatInfo replaces the repeat configuration.
func (s *Seat) SetRepeatInfo(r protocol.RepeatInfo) {
	s.mu.Lock()
	s.repeat = r
	s.mu.Unlock()
}

// SetModifiers records the modifier state.
func (s *Seat) SetModifiers(m protocol.ModifiersState) {
	s.mu.Lock()
	s.mods = m
	s.mu.Unlock()
}

// Close releases the keymap.
func (s *Seat) Close() error {
	s.mu.Lock()
	k := s.keymap
	s.keymap = nil
	s.mu.Unlock()

	if k != nil {
		return k.Close()
	}
	return nil
}
