// Copyright (c) 2025 A Bit of Help, Inc.

//go:build unix

package keystore

import (
	"os"

	"golang.org/x/sys/unix"
)

// restrictPermissions forces owner read/write only, independent of umask.
func restrictPermissions(f *os.File) error {
	return unix.Fchmod(int(f.Fd()), 0o600)
}

func permissionsTooBroad(path string) (bool, os.FileMode, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, 0, err
	}
	mode := os.FileMode(st.Mode & 0o777)
	return mode&0o077 != 0, mode, nil
}
