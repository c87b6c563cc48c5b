// Copyright (c) 2025 A Bit of Help, Inc.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/compression"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/encryption"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/keystore"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/logger"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var batchName = regexp.MustCompile(`^iot_data_batch_(\d+)_timestamp_(\d+)\.json(\.br)?$`)

type artifact struct {
	index int
	path  string
	raw   string
}

// listArtifacts returns the batch artifacts in dir ordered by batch index.
func listArtifacts(t *testing.T, dir string) []artifact {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var artifacts []artifact
	for _, entry := range entries {
		m := batchName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		raw := strings.Replace(entry.Name(), "iot_data_batch_", "raw_data_batch_", 1)
		artifacts = append(artifacts, artifact{
			index: index,
			path:  filepath.Join(dir, entry.Name()),
			raw:   filepath.Join(dir, raw),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].index < artifacts[j].index })
	return artifacts
}

func readMetadata(t *testing.T, path string) []record.Metadata {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if compression.IsCompressedName(path) {
		data, err = compression.DecompressData(data)
		require.NoError(t, err)
	}
	var metadata []record.Metadata
	require.NoError(t, json.Unmarshal(data, &metadata))
	return metadata
}

func integrationOptions(t *testing.T) *options.PipelineOptions {
	t.Helper()
	dir := t.TempDir()
	opts := options.DefaultPipelineOptions()
	opts.KeyPath = filepath.Join(dir, "key", "encryption.key")
	opts.OutputDir = filepath.Join(dir, "output")
	opts.SampleInterval = time.Millisecond
	return opts
}

// TestIntegration_FullPipeline runs the simulated sensor and verifies every artifact it wrote
func TestIntegration_FullPipeline(t *testing.T) {
	log := logger.InitLogger("warn")
	defer func() { logger.SafeSync(log) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := integrationOptions(t)
	opts.BatchSize = 3
	opts.RunDuration = 60 * time.Millisecond

	pipelineStats, err := pipeline.Run(ctx, log, opts)
	require.NoError(t, err)
	require.NotNil(t, pipelineStats)

	artifacts := listArtifacts(t, opts.OutputDir)
	require.NotEmpty(t, artifacts)

	verified := 0
	for i, a := range artifacts {
		assert.Equal(t, i, a.index, "batch indices are gap-free from 0")

		report, err := verifier.VerifyBatchFile(ctx, log, a.path, opts)
		require.NoError(t, err, a.path)
		assert.LessOrEqual(t, report.Records, opts.BatchSize)
		if i < len(artifacts)-1 {
			assert.Equal(t, opts.BatchSize, report.Records, "only the last batch may be partial")
		}
		verified += report.Verified

		batch, err := verifier.ReadBatchFile(a.path)
		require.NoError(t, err)
		metadata := readMetadata(t, a.raw)
		require.Len(t, metadata, len(batch.Batch))
		for j := range metadata {
			assert.Equal(t, batch.Batch[j].Metadata, metadata[j])
		}
	}

	assert.Equal(t, int(pipelineStats.RecordsFlushed.Load()), verified)
	assert.Equal(t, pipelineStats.RecordsEnqueued.Load(), pipelineStats.RecordsFlushed.Load())
	assert.Zero(t, pipelineStats.RecordsLost.Load())
}

// TestIntegration_DeviceStream feeds a fixed device stream through a compressed, blake3 run
func TestIntegration_DeviceStream(t *testing.T) {
	opts := integrationOptions(t)
	opts.BatchSize = 3
	opts.RunDuration = 0
	opts.HashAlgorithm = "blake3"
	opts.CompressArtifacts = true
	opts.Sampler = options.SamplerDevice

	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf(`{"temperature":%.2f,"humidity":45,"pressure":1001}`, 18+float64(i)))
	}
	opts.DevicePath = filepath.Join(t.TempDir(), "device.ndjson")
	require.NoError(t, os.WriteFile(opts.DevicePath, []byte(strings.Join(lines, "\n")), 0o600))

	logger := zaptest.NewLogger(t)
	_, err := pipeline.Run(context.Background(), logger, opts)
	require.NoError(t, err)

	artifacts := listArtifacts(t, opts.OutputDir)
	require.Len(t, artifacts, 3)

	var sizes []int
	var temperatures []float64
	for _, a := range artifacts {
		assert.True(t, compression.IsCompressedName(a.path))
		report, err := verifier.VerifyBatchFile(context.Background(), logger, a.path, opts)
		require.NoError(t, err)
		sizes = append(sizes, report.Verified)
		for _, s := range report.Samples {
			temperatures = append(temperatures, s.Readings.Temperature)
		}
	}

	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, []float64{18, 19, 20, 21, 22, 23, 24}, temperatures, "records keep arrival order across batches")
}

// TestIntegration_LegacyArtifact checks that artifacts in the legacy firmware layout still verify
func TestIntegration_LegacyArtifact(t *testing.T) {
	logger := zaptest.NewLogger(t)
	opts := integrationOptions(t)

	key, err := keystore.LoadOrCreate(logger, opts.KeyPath)
	require.NoError(t, err)

	// Float fields written with a trailing .0, as legacy firmware does.
	plaintext := []byte(`{"device_id":"sensor-sim-001","timestamp":1700000000,"readings":{"temperature":20.0,"humidity":50.0,"pressure":1000.0}}`)
	blob, err := encryption.Encrypt(plaintext, key)
	require.NoError(t, err)
	sum := sha256.Sum256(plaintext)

	doc := fmt.Sprintf(`{
  "batch": [
    {
      "metadata": {
        "device_id": "sensor-sim-001",
        "timestamp": 1700000000,
        "data_hash": %q
      },
      "encrypted_data": %q
    }
  ]
}`, hex.EncodeToString(sum[:]), blob)

	require.NoError(t, os.MkdirAll(opts.OutputDir, 0o755))
	path := filepath.Join(opts.OutputDir, "iot_data_batch_0_timestamp_1700000000.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	report, err := verifier.VerifyBatchFile(context.Background(), logger, path, opts)
	require.NoError(t, err)
	require.Len(t, report.Samples, 1)
	assert.Equal(t, 20.0, report.Samples[0].Readings.Temperature)
	require.NotNil(t, report.Samples[0].Readings.Pressure)
	assert.Equal(t, 1000.0, *report.Samples[0].Readings.Pressure)
}

// TestIntegration_ErrorHandling checks that tampering and key mix-ups are never accepted
func TestIntegration_ErrorHandling(t *testing.T) {
	logger := zaptest.NewLogger(t)
	opts := integrationOptions(t)
	opts.BatchSize = 2
	opts.Sampler = options.SamplerDevice
	opts.DevicePath = filepath.Join(t.TempDir(), "device.ndjson")
	require.NoError(t, os.WriteFile(opts.DevicePath,
		[]byte("{\"temperature\":20,\"humidity\":40}\n{\"temperature\":21,\"humidity\":41}\n"), 0o600))

	_, err := pipeline.Run(context.Background(), logger, opts)
	require.NoError(t, err)

	artifacts := listArtifacts(t, opts.OutputDir)
	require.Len(t, artifacts, 1)

	t.Run("tampered hash", func(t *testing.T) {
		batch, err := verifier.ReadBatchFile(artifacts[0].path)
		require.NoError(t, err)
		batch.Batch[0].Metadata.DataHash = strings.Repeat("0", 64)

		data, err := json.MarshalIndent(batch, "", "  ")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "tampered.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		report, err := verifier.VerifyBatchFile(context.Background(), logger, path, opts)
		assert.True(t, customErrors.IsAuthenticationError(err))
		assert.Equal(t, 1, report.Verified)
	})

	t.Run("different key", func(t *testing.T) {
		other := *opts
		other.KeyPath = filepath.Join(t.TempDir(), "other.key")
		_, err := keystore.LoadOrCreate(logger, other.KeyPath)
		require.NoError(t, err)

		_, err = verifier.VerifyBatchFile(context.Background(), logger, artifacts[0].path, &other)
		assert.ErrorIs(t, err, customErrors.ErrAuthenticationFailed)
	})

	t.Run("corrupt key file", func(t *testing.T) {
		corrupt := *opts
		corrupt.KeyPath = filepath.Join(t.TempDir(), "short.key")
		require.NoError(t, os.WriteFile(corrupt.KeyPath, []byte("short"), 0o600))

		_, err := pipeline.Run(context.Background(), logger, &corrupt)
		assert.True(t, customErrors.IsKeyCorruptError(err))
	})
}
