package keylog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbridge/internal/protocol"
)

func rec(serial uint32) Record {
	return Record{
		Code:   30 + serial,
		State:  protocol.KeyPressed,
		Serial: serial,
		Time:   1000 + serial,
	}
}

func TestRecordBelowCapacity(t *testing.T) {
	l := New()
	for s := uint32(1); s <= 4; s++ {
		_, evicted := l.Record(rec(s))
		assert.False(t, evicted)
	}

	require.Equal(t, 4, l.Len())
	snap := l.Snapshot()
	for i, r := range snap {
		assert.Equal(t, uint32(i+1), r.Serial)
	}
}

func TestLengthNeverExceedsCapacity(t *testing.T) {
	l := New()
	for s := uint32(1); s <= 100; s++ {
		l.Record(rec(s))
		require.LessOrEqual(t, l.Len(), Capacity)
	}
	assert.Equal(t, Capacity, l.Len())
}

func TestEvictsOldestFirst(t *testing.T) {
	l := New()
	for s := uint32(1); s <= Capacity; s++ {
		l.Record(rec(s))
	}

	for s := uint32(Capacity + 1); s <= 3*Capacity; s++ {
		before := l.Snapshot()
		oldest := before[0]
		for _, r := range before {
			require.GreaterOrEqual(t, r.Time, oldest.Time)
		}

		evicted, ok := l.Record(rec(s))
		require.True(t, ok)
		assert.Equal(t, oldest, evicted)
	}
}

func TestTwelveEventsKeepLastTen(t *testing.T) {
	l := New()
	for s := uint32(1); s <= 12; s++ {
		l.Record(rec(s))
	}

	snap := l.Snapshot()
	require.Len(t, snap, Capacity)
	for i, r := range snap {
		assert.Equal(t, uint32(i+3), r.Serial)
	}

	assert.Nil(t, l.From(1))
	assert.Nil(t, l.From(2))
	_, ok := l.Find(2)
	assert.False(t, ok)
}

func TestFromReturnsChronologicalSuffix(t *testing.T) {
	l := New()
	for s := uint32(1); s <= 15; s++ {
		l.Record(rec(s))
	}

	got := l.From(11)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, uint32(11+i), r.Serial)
	}

	got = l.From(15)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(15), got[0].Serial)
}

func TestFromFirstMatchWhenSerialRepeats(t *testing.T) {
	l := New()
	l.Record(rec(1))
	r := rec(4)
	l.Record(r)
	r.Code = 99
	l.Record(r)
	l.Record(rec(5))

	got := l.From(4)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(34), got[0].Code)
	assert.Equal(t, uint32(99), got[1].Code)

	found, ok := l.Find(4)
	require.True(t, ok)
	assert.Equal(t, uint32(34), found.Code)
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Record(rec(1))
	snap := l.Snapshot()
	snap[0].Code = 0

	again := l.Snapshot()
	assert.Equal(t, uint32(31), again[0].Code)
}
