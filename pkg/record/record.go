// Copyright (c) 2025 A Bit of Help, Inc.

// Package record turns samples into integrity-hashed, encrypted records and
// back again.
//
// A record's hash is computed over the exact canonical bytes that were
// encrypted, so a verifier that decrypts with the right key and re-hashes the
// plaintext detects any corruption or tampering.
package record

import (
	"context"
	"fmt"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/encryption"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/keystore"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/sample"
)

// Metadata is the plaintext part of a record, safe to inspect without the key.
type Metadata struct {
	DeviceID  string `json:"device_id"`
	Timestamp uint64 `json:"timestamp"`
	DataHash  string `json:"data_hash"`
}

// EncryptedRecord bundles metadata with the encoded ciphertext blob.
// Records are immutable once produced.
type EncryptedRecord struct {
	Metadata      Metadata `json:"metadata"`
	EncryptedData string   `json:"encrypted_data"`
}

// Batch is the on-disk layout of a batch artifact.
type Batch struct {
	Batch []EncryptedRecord `json:"batch"`
}

// Processor seals samples under one cipher.
type Processor struct {
	cipher    *encryption.Cipher
	algorithm HashAlgorithm
}

// NewProcessor returns a Processor using cipher and the given digest.
func NewProcessor(cipher *encryption.Cipher, algorithm HashAlgorithm) *Processor {
	if algorithm == "" {
		algorithm = SHA256
	}
	return &Processor{cipher: cipher, algorithm: algorithm}
}

// Algorithm reports the digest the Processor hashes with.
func (p *Processor) Algorithm() HashAlgorithm {
	return p.algorithm
}

// Process validates, serializes, hashes and encrypts s.
func (p *Processor) Process(ctx context.Context, s sample.Sample) (*EncryptedRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	plaintext, err := s.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serializing sample: %w", err)
	}

	blob, err := encryption.EncryptDataWithContext(ctx, p.cipher, plaintext)
	if err != nil {
		return nil, err
	}

	return &EncryptedRecord{
		Metadata: Metadata{
			DeviceID:  s.DeviceID,
			Timestamp: s.Timestamp,
			DataHash:  p.algorithm.Sum(plaintext),
		},
		EncryptedData: blob,
	}, nil
}

// Open decrypts rec, checks the plaintext against the recorded hash and the
// metadata, and returns the original sample. Decode and authentication
// failures propagate unchanged; a hash or metadata mismatch is ErrIntegrity.
func (p *Processor) Open(rec *EncryptedRecord) (sample.Sample, error) {
	plaintext, err := p.cipher.Decrypt(rec.EncryptedData)
	if err != nil {
		return sample.Sample{}, err
	}

	if got := p.algorithm.Sum(plaintext); got != rec.Metadata.DataHash {
		return sample.Sample{}, fmt.Errorf("%w: hash %s does not match recorded %s",
			customErrors.ErrIntegrity, got, rec.Metadata.DataHash)
	}

	s, err := sample.Unmarshal(plaintext)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: decrypted payload is not a sample: %v", customErrors.ErrIntegrity, err)
	}

	if s.DeviceID != rec.Metadata.DeviceID || s.Timestamp != rec.Metadata.Timestamp {
		return sample.Sample{}, fmt.Errorf("%w: metadata (%s, %d) does not match payload (%s, %d)",
			customErrors.ErrIntegrity, rec.Metadata.DeviceID, rec.Metadata.Timestamp, s.DeviceID, s.Timestamp)
	}
	return s, nil
}

// Process seals s under key with the default digest.
func Process(s sample.Sample, key *keystore.Key) (*EncryptedRecord, error) {
	cipher, err := encryption.NewCipher(key)
	if err != nil {
		return nil, err
	}
	defer cipher.Close()
	return NewProcessor(cipher, SHA256).Process(context.Background(), s)
}
