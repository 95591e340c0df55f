// Package keymap shares XKB keymaps with input methods through read-only
// file descriptors and keeps the keyboard state of a seat.
package keymap

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"imbridge/internal/protocol"
)

// ErrEmpty is returned for a keymap with no content.
var ErrEmpty = errors.New("keymap: empty keymap")

// Keymap is an XKB v1 keymap in text form held in an unlinked or
// anonymous file. Receivers map the file read-only.
type Keymap struct {
	file *os.File
	size uint32
}

// New stores text, terminated by a NUL byte, in a new keymap file.
func New(text []byte) (*Keymap, error) {
	text = bytes.TrimRight(text, "\x00")
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, ErrEmpty
	}
	data := make([]byte, len(text)+1)
	copy(data, text)
	if len(data) > math.MaxUint32 {
		return nil, fmt.Errorf("keymap: %d bytes is too large", len(data))
	}

	f, err := newFile(data)
	if err != nil {
		return nil, fmt.Errorf("keymap: %w", err)
	}
	return &Keymap{file: f, size: uint32(len(data))}, nil
}

// Load reads an XKB keymap from path.
func Load(path string) (*Keymap, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	return New(text)
}

// Protocol returns the descriptor form sent on the wire. The descriptor
// stays owned by k.
func (k *Keymap) Protocol() protocol.Keymap {
	return protocol.Keymap{
		Format: protocol.KeymapXkbV1,
		Fd:     int(k.file.Fd()),
		Size:   k.size,
	}
}

// Size returns the keymap size including the terminating NUL.
func (k *Keymap) Size() uint32 {
	return k.size
}

// Close releases the file.
func (k *Keymap) Close() error {
	return k.file.Close()
}

// tempFile writes data to an unlinked temporary file and returns it
// reopened read-only.
func tempFile(data []byte) (*os.File, error) {
	w, err := os.CreateTemp("", "imbridge-keymap-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	name := w.Name()
	defer os.Remove(name)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	r, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("reopen temp file: %w", err)
	}
	return r, nil
}
