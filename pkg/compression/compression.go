// Copyright (c) 2025 A Bit of Help, Inc.

// Package compression provides data compression functionality.
//
// This package implements the core compression algorithms and utilities that can be used
// independently of the pipeline. It is context-aware but not pipeline-specific.
//
// The batch writer in pkg/pipeline/writer uses it to shrink artifacts when
// artifact compression is enabled, and pkg/verifier uses it to read them back.
package compression

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/dataprocessor"
	"github.com/andybalholm/brotli"
)

// Extension is appended to the name of every compressed artifact.
const Extension = ".br"

// compressData compresses data using Brotli compression
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	compressor := brotli.NewWriter(&buf)

	if _, err := compressor.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}

	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}

	return buf.Bytes(), nil
}

// CompressDataWithContext compresses data with context awareness
func CompressDataWithContext(ctx context.Context, data []byte) ([]byte, error) {
	return dataprocessor.ProcessWithContext(ctx, compressData, data)
}

// DecompressData reverses compressData.
func DecompressData(data []byte) ([]byte, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	return out, nil
}

// IsCompressedName reports whether a file name carries the compression extension.
func IsCompressedName(name string) bool {
	return strings.HasSuffix(name, Extension)
}
