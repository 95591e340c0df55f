//go:build !linux
// +build !linux

package keymap

import "os"

func newFile(data []byte) (*os.File, error) {
	return tempFile(data)
}

func (k *Keymap) sealed() bool {
	return false
}
