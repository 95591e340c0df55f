package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrDigestMismatch is returned when a stored transcript no longer
// hashes to the digest recorded with its run.
var ErrDigestMismatch = errors.New("transcript digest mismatch")

// Digest hashes a transcript. Two runs with equal digests delivered the
// same events and forwarded the same keys, in the same order.
func Digest(events []Event, keys []Key) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, e := range events {
		fmt.Fprintf(h, "event\t%d\t%s\t%s\n", e.Object, e.Name, e.Args)
	}
	for _, k := range keys {
		fmt.Fprintf(h, "key\t%d\t%s\t%d\t%d\n", k.Code, k.State, k.Serial, k.Time)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Verify recomputes the digest of run id from its stored transcript.
func (s *Store) Verify(ctx context.Context, id int64) error {
	run, err := s.Run(ctx, id)
	if err != nil {
		return err
	}
	if got := Digest(run.Events, run.Keys); got != run.Digest {
		return fmt.Errorf("run %d: computed %x, recorded %x: %w", id, got[:8], run.Digest[:8], ErrDigestMismatch)
	}
	return nil
}
