// Package serial implements the serial bookkeeping of the text-input
// handshake.
//
// Every text-input object carries its own Counter. The client bumps its
// expectation on every commit it sends, so the compositor bumps the
// counter on every commit it receives, including commits it discards.
// The compositor answers with done(serial); done(Discard) tells the
// client that its speculative state was not applied.
package serial

import "sync/atomic"

// Discard is the reserved serial sent to invalidate a client's pending
// state.
const Discard uint32 = 0

// Counter is a per-object serial. The zero value is ready to use and
// reads 0 until the first Bump. Counter is not safe for concurrent use;
// it lives inside registry state guarded by the registry's lock.
type Counter struct {
	value uint32
}

// Current returns the last value produced by Bump.
func (c *Counter) Current() uint32 {
	return c.value
}

// Bump advances the counter by one and returns the new value. It wraps
// to 0 after math.MaxUint32 the same way the client's count does, so the
// two stay in step even though that value collides with Discard.
func (c *Counter) Bump() uint32 {
	c.value++
	return c.value
}

// DoneSerial returns the serial a done event carries.
func DoneSerial(discard bool, current uint32) uint32 {
	if discard {
		return Discard
	}
	return current
}

// Stale reports whether a serial echoed back by an input method no
// longer matches the text-input serial it refers to.
func Stale(echoed, current uint32) bool {
	return echoed != current
}

// Source hands out compositor-wide serials for events that are not tied
// to a text-input commit, such as the modifiers sent when an input
// method binds. It is safe for concurrent use.
type Source struct {
	last atomic.Uint32
}

// Next returns the next serial, never Discard.
func (s *Source) Next() uint32 {
	for {
		v := s.last.Add(1)
		if v != Discard {
			return v
		}
	}
}

var global Source

// Next returns the next serial from the process-wide source.
func Next() uint32 {
	return global.Next()
}
