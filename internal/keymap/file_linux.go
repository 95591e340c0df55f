//go:build linux
// +build linux

package keymap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const seals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL

// newFile stores data in a sealed memfd. Kernels without memfd fall back
// to a temporary file.
func newFile(data []byte) (*os.File, error) {
	fd, err := unix.MemfdCreate("imbridge-keymap", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return tempFile(data)
	}
	f := os.NewFile(uintptr(fd), "imbridge-keymap")

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write memfd: %w", err)
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		f.Close()
		return nil, fmt.Errorf("seal memfd: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind memfd: %w", err)
	}
	return f, nil
}

// sealed reports whether the file can no longer change.
func (k *Keymap) sealed() bool {
	got, err := unix.FcntlInt(k.file.Fd(), unix.F_GET_SEALS, 0)
	return err == nil && got&seals == seals
}
