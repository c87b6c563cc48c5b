// Copyright (c) 2025 A Bit of Help, Inc.

//go:build !unix

package keystore

import "os"

// restrictPermissions is a no-op where POSIX permission bits do not exist.
// On these platforms the key file is protected only by the directory ACLs.
func restrictPermissions(*os.File) error {
	return nil
}

func permissionsTooBroad(string) (bool, os.FileMode, error) {
	return false, 0, nil
}
