package keymap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbridge/internal/protocol"
)

const sampleKeymap = `xkb_keymap {
	xkb_keycodes  { include "evdev+aliases(qwerty)" };
	xkb_types     { include "complete" };
	xkb_compat    { include "complete" };
	xkb_symbols   { include "pc+us+inet(evdev)" };
};
`

func readAll(t *testing.T, k *Keymap) []byte {
	t.Helper()
	data, err := io.ReadAll(io.NewSectionReader(k.file, 0, int64(k.Size())))
	require.NoError(t, err)
	return data
}

func TestNewTerminatesWithNul(t *testing.T) {
	k, err := New([]byte(sampleKeymap))
	require.NoError(t, err)
	defer k.Close()

	assert.Equal(t, uint32(len(sampleKeymap)+1), k.Size())
	data := readAll(t, k)
	assert.Equal(t, sampleKeymap+"\x00", string(data))

	p := k.Protocol()
	assert.Equal(t, protocol.KeymapXkbV1, p.Format)
	assert.Equal(t, k.Size(), p.Size)
	assert.GreaterOrEqual(t, p.Fd, 0)
}

func TestNewKeepsSingleNul(t *testing.T) {
	k, err := New([]byte(sampleKeymap + "\x00\x00"))
	require.NoError(t, err)
	defer k.Close()
	assert.Equal(t, uint32(len(sampleKeymap)+1), k.Size())
}

func TestNewRejectsEmpty(t *testing.T) {
	for _, text := range []string{"", "  \n", "\x00"} {
		_, err := New([]byte(text))
		assert.True(t, errors.Is(err, ErrEmpty), "%q", text)
	}
}

func TestKeymapIsReadOnly(t *testing.T) {
	k, err := New([]byte(sampleKeymap))
	require.NoError(t, err)
	defer k.Close()

	_, err = k.file.WriteAt([]byte("x"), 0)
	assert.Error(t, err)
	if runtime.GOOS == "linux" {
		assert.True(t, k.sealed())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "us.xkb")
	require.NoError(t, os.WriteFile(path, []byte(sampleKeymap), 0o644))

	k, err := Load(path)
	require.NoError(t, err)
	defer k.Close()
	assert.Equal(t, sampleKeymap+"\x00", string(readAll(t, k)))

	_, err = Load(filepath.Join(t.TempDir(), "missing.xkb"))
	assert.Error(t, err)
}

func TestSeat(t *testing.T) {
	s := NewSeat("seat0", protocol.RepeatInfo{Rate: 25, Delay: 600})
	assert.Equal(t, "seat0", s.Name())

	_, err := s.Keymap()
	assert.True(t, errors.Is(err, ErrNoKeymap))

	k, err := New([]byte(sampleKeymap))
	require.NoError(t, err)
	s.SetKeymap(k)
	got, err := s.Keymap()
	require.NoError(t, err)
	assert.Equal(t, k.Protocol(), got)

	s.SetRepeatInfo(protocol.RepeatInfo{Rate: 40, Delay: 300})
	assert.Equal(t, protocol.RepeatInfo{Rate: 40, Delay: 300}, s.RepeatInfo())

	s.SetModifiers(protocol.ModifiersState{Depressed: 1})
	assert.Equal(t, uint32(1), s.Modifiers().Depressed)

	// Replacing closes the old keymap.
	k2, err := New([]byte(sampleKeymap))
	require.NoError(t, err)
	s.SetKeymap(k2)
	_, err = k.file.Stat()
	assert.Error(t, err)

	require.NoError(t, s.Close())
	_, err = s.Keymap()
	assert.True(t, errors.Is(err, ErrNoKeymap))
}
