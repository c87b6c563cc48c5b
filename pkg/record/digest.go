// Copyright (c) 2025 A Bit of Help, Inc.

package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashAlgorithm names the 256-bit digest used for the integrity hash.
type HashAlgorithm string

const (
	// SHA256 is the default and matches artifacts produced by earlier devices.
	SHA256 HashAlgorithm = "sha256"

	// BLAKE3 is faster on small ARM boards; readers must be configured to match.
	BLAKE3 HashAlgorithm = "blake3"
)

// ParseHashAlgorithm validates a configured algorithm name. Empty means SHA256.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch HashAlgorithm(name) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q (want %q or %q)", name, SHA256, BLAKE3)
	}
}

// Sum returns the lowercase hex digest of data.
func (a HashAlgorithm) Sum(data []byte) string {
	switch a {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}
