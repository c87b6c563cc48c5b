// Copyright (c) 2025 A Bit of Help, Inc.

// Package encryption provides authenticated encryption of record payloads.
//
// This package implements the core encryption algorithms and utilities that can be used
// independently of the pipeline. It is context-aware but not pipeline-specific.
//
// Blobs are AES-256-GCM with a fresh random 96-bit nonce per call, laid out as
// nonce || ciphertext || tag and base64 (standard alphabet) encoded so they can be
// embedded in JSON artifacts.
//
// The corresponding package in the pipeline hierarchy is pkg/pipeline/encryptor,
// which integrates this core functionality into the pipeline architecture.
package encryption

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/dataprocessor"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/keystore"
	"github.com/google/tink/go/aead/subtle"
	"github.com/google/tink/go/tink"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = subtle.AESGCMIVSize

	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = subtle.AESGCMTagSize
)

// Cipher seals and opens blobs under one key. It holds no mutable state and
// is safe for concurrent use.
type Cipher struct {
	aead tink.AEAD
	key  []byte
}

// NewCipher builds a Cipher over a private copy of key, so the caller may
// zero key independently.
func NewCipher(key *keystore.Key) (*Cipher, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: key cannot be nil", customErrors.ErrKeyCorrupt)
	}
	material := bytes.Clone(key.Bytes())
	a, err := subtle.NewAESGCM(material)
	if err != nil {
		clear(material)
		return nil, fmt.Errorf("failed to create AEAD primitive: %w", err)
	}
	return &Cipher{aead: a, key: material}, nil
}

// Close zeroes the Cipher's copy of the key. The Cipher must not be used
// afterwards.
func (c *Cipher) Close() {
	clear(c.key)
}

// Encrypt seals plaintext and returns the encoded blob.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	// The primitive draws a new random nonce for every call and prepends it.
	sealed, err := c.aead.Encrypt(plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an encoded blob. It fails with ErrDecode when the blob is not
// valid base64 or is shorter than a nonce, and with ErrAuthenticationFailed
// when the tag does not verify.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", customErrors.ErrDecode, err)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("%w: blob is %d bytes, shorter than the %d byte nonce",
			customErrors.ErrDecode, len(raw), NonceSize)
	}

	plaintext, err := c.aead.Decrypt(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", customErrors.ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// Encrypt seals plaintext under key.
func Encrypt(plaintext []byte, key *keystore.Key) (string, error) {
	c, err := NewCipher(key)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Encrypt(plaintext)
}

// Decrypt opens blob under key.
func Decrypt(blob string, key *keystore.Key) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Decrypt(blob)
}

// EncryptDataWithContext encrypts data with context awareness
func EncryptDataWithContext(ctx context.Context, c *Cipher, data []byte) (string, error) {
	return dataprocessor.ProcessWithContext(ctx, c.Encrypt, data)
}
