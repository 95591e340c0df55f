// Package keylog keeps the most recent physical key events delivered to
// an input method so they can be replayed or forwarded later by serial.
package keylog

import (
	"sync"

	"imbridge/internal/protocol"
)

// Capacity is the number of key events kept. Older events are evicted
// first.
const Capacity = 10

// Record is one intercepted key event.
type Record struct {
	Code   uint32
	State  protocol.KeyState
	Serial uint32
	Time   uint32

	// Mods is the modifier snapshot taken with the key, valid when
	// HasMods is set.
	Mods    protocol.ModifiersState
	HasMods bool
}

// Log is a fixed-size ring of Records. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	buf  [Capacity]Record
	head int // index of the oldest record
	n    int
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Record appends r. When the log is full the oldest record is evicted
// and returned with ok set.
func (l *Log) Record(r Record) (evicted Record, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.n == Capacity {
		evicted, ok = l.buf[l.head], true
		l.buf[l.head] = r
		l.head = (l.head + 1) % Capacity
		return evicted, ok
	}

	l.buf[(l.head+l.n)%Capacity] = r
	l.n++
	return Record{}, false
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Find returns the oldest record tagged with serial.
func (l *Log) Find(serial uint32) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexOf(serial); i >= 0 {
		return l.at(i), true
	}
	return Record{}, false
}

// From returns, oldest first, the oldest record tagged with serial and
// every record after it. It returns nil when no record carries serial.
func (l *Log) From(serial uint32) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(serial)
	if i < 0 {
		return nil
	}
	out := make([]Record, 0, l.n-i)
	for ; i < l.n; i++ {
		out = append(out, l.at(i))
	}
	return out
}

// Snapshot returns a copy of all records, oldest first.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, l.n)
	for i := range out {
		out[i] = l.at(i)
	}
	return out
}

// at returns the i-th record in chronological order. Caller holds mu.
func (l *Log) at(i int) Record {
	return l.buf[(l.head+i)%Capacity]
}

// indexOf returns the chronological index of the oldest record tagged
// with serial, or -1. Caller holds mu.
func (l *Log) indexOf(serial uint32) int {
	for i := 0; i < l.n; i++ {
		if l.at(i).Serial == serial {
			return i
		}
	}
	return -1
}
