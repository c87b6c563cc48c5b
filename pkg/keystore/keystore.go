// Copyright (c) 2025 A Bit of Help, Inc.

// Package keystore loads or creates the device's symmetric encryption key.
//
// The key is 32 raw bytes stored in a single file. A missing file is created
// exactly once with owner-only permissions; an existing file is never
// overwritten. The in-memory Key redacts itself when formatted and should be
// zeroed with Zero once the run is over.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"go.uber.org/zap"
)

// KeySize is the length in bytes of the symmetric key (AES-256).
const KeySize = 32

// Key holds the raw key material.
type Key struct {
	b [KeySize]byte
}

// NewKey copies raw into a Key. raw must be exactly KeySize bytes.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, expected %d", customErrors.ErrKeyCorrupt, len(raw), KeySize)
	}
	k := &Key{}
	copy(k.b[:], raw)
	return k, nil
}

// Bytes returns the key material. The slice aliases the Key and is
// invalidated by Zero.
func (k *Key) Bytes() []byte {
	return k.b[:]
}

// Zero overwrites the key material.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	clear(k.b[:])
}

// String keeps key bytes out of logs and %v formatting.
func (k *Key) String() string {
	return "keystore.Key(redacted)"
}

// GoString keeps key bytes out of %#v formatting.
func (k *Key) GoString() string {
	return k.String()
}

// LoadOrCreate returns the key stored at path, generating and persisting a
// new one when the file does not exist.
func LoadOrCreate(logger *zap.Logger, path string) (*Key, error) {
	if path == "" {
		return nil, wrapIOError(errors.New("key path cannot be empty"), "validate_path", path)
	}

	key, err := load(path)
	if err == nil {
		warnIfExposed(logger, path)
		logger.Info("Loaded encryption key", zap.String("path", path))
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = create(path)
	if errors.Is(err, fs.ErrExist) {
		// Another process created the file between our stat and create.
		key, err = load(path)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Generated new encryption key", zap.String("path", path))
	return key, nil
}

// Load returns the key stored at path. Unlike LoadOrCreate it never creates a
// key; a missing file is an I/O error.
func Load(logger *zap.Logger, path string) (*Key, error) {
	key, err := load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, wrapIOError(err, "open_key_file", path)
	}
	if err != nil {
		return nil, err
	}
	warnIfExposed(logger, path)
	return key, nil
}

func load(path string) (*Key, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, wrapIOError(err, "open_key_file", path)
	}
	defer f.Close()

	var raw [KeySize]byte
	if _, err := io.ReadFull(f, raw[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, customErrors.NewPipelineError(
				fmt.Errorf("%w: key file shorter than %d bytes", customErrors.ErrKeyCorrupt, KeySize),
				"keystore", 0, "read_key_file", 0, path)
		}
		return nil, customErrors.NewPipelineError(
			fmt.Errorf("%w: %v", customErrors.ErrKeyCorrupt, err),
			"keystore", 0, "read_key_file", 0, path)
	}

	key, err := NewKey(raw[:])
	clear(raw[:])
	return key, err
}

func create(path string) (key *Key, err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, wrapIOError(err, "create_key_dir", dir)
		}
	}

	var raw [KeySize]byte
	defer clear(raw[:])
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return nil, wrapIOError(fmt.Errorf("generating key: %w", err), "generate_key", path)
	}

	// O_EXCL guarantees an existing key is never overwritten.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		return nil, wrapIOError(err, "create_key_file", path)
	}

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(path)
		}
	}()

	if err := restrictPermissions(f); err != nil {
		return nil, wrapIOError(err, "chmod_key_file", path)
	}
	if _, err := f.Write(raw[:]); err != nil {
		return nil, wrapIOError(err, "write_key_file", path)
	}
	if err := f.Sync(); err != nil {
		return nil, wrapIOError(err, "sync_key_file", path)
	}
	if err := f.Close(); err != nil {
		return nil, wrapIOError(err, "close_key_file", path)
	}

	success = true
	return NewKey(raw[:])
}

func warnIfExposed(logger *zap.Logger, path string) {
	exposed, mode, err := permissionsTooBroad(path)
	if err != nil || !exposed {
		return
	}
	logger.Warn("Encryption key file is readable by other users",
		zap.String("path", path),
		zap.String("mode", mode.String()))
}

func wrapIOError(err error, operation, path string) error {
	return customErrors.NewPipelineError(
		fmt.Errorf("%w: %v", customErrors.ErrIOFailure, err),
		"keystore",
		0,
		operation,
		0,
		path)
}
