package store

import (
	"time"

	"github.com/google/uuid"
)

// Run is one recorded replay of a script against a bridge.
type Run struct {
	ID        int64
	UUID      uuid.UUID
	Script    string
	Seat      string
	StartedAt time.Time
	Steps     int
	Digest    [32]byte

	Events   []Event
	Keys     []Key
	Failures []Failure
}

// Event is a protocol event delivered during a run, in delivery order.
type Event struct {
	Ordinal int
	Object  uint64
	Name    string
	Args    string
}

// Key is a key event forwarded to the focused client.
type Key struct {
	Ordinal int
	Code    uint32
	State   string
	Serial  uint32
	Time    uint32
}

// Failure is an expectation that did not hold.
type Failure struct {
	Step    int
	Op      string
	Message string
}

// RunSummary is a Run without its transcript.
type RunSummary struct {
	ID        int64
	UUID      uuid.UUID
	Script    string
	Seat      string
	StartedAt time.Time
	Steps     int
	Digest    [32]byte

	EventCount   int
	KeyCount     int
	FailureCount int
}
