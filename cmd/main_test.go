// Copyright (c) 2025 A Bit of Help, Inc.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/verifier"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// The signal watcher logs at debug level after run returns, so tests log at info.
func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
}

func defaultCLI() *cli {
	return &cli{opts: options.DefaultPipelineOptions()}
}

func failVerify(t *testing.T) VerifyFunc {
	return func(ctx context.Context, log *zap.Logger, path string, opts *options.PipelineOptions) (*verifier.Report, error) {
		t.Error("verify should not be called")
		return nil, nil
	}
}

func failRun(t *testing.T) RunFunc {
	return func(ctx context.Context, log *zap.Logger, opts *options.PipelineOptions) (*stats.Stats, error) {
		t.Error("run should not be called")
		return nil, nil
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	c, err := parseArgs(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, options.DefaultPipelineOptions(), c.opts)
	assert.Empty(t, c.configPath)
	assert.Empty(t, c.verifyPath)
}

func TestParseArgs_ConfigThenFlags(t *testing.T) {
	config := filepath.Join(t.TempDir(), "sensor.yaml")
	require.NoError(t, os.WriteFile(config, []byte("batch_size: 4\ndevice_id: lab-7\nrun_duration: 1m\n"), 0o600))

	// Flags may appear before --config and still win over the file.
	c, err := parseArgs([]string{"--batch-size", "8", "--config", config, "--sample-interval=2s"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, config, c.configPath)
	assert.Equal(t, 8, c.opts.BatchSize)
	assert.Equal(t, "lab-7", c.opts.DeviceID)
	assert.Equal(t, time.Minute, c.opts.RunDuration)
	assert.Equal(t, 2*time.Second, c.opts.SampleInterval)
}

func TestParseArgs_ShortConfigFlag(t *testing.T) {
	config := filepath.Join(t.TempDir(), "sensor.yaml")
	require.NoError(t, os.WriteFile(config, []byte("device_id: lab-9\n"), 0o600))

	c, err := parseArgs([]string{"-c", config}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "lab-9", c.opts.DeviceID)
}

func TestParseArgs_Errors(t *testing.T) {
	_, err := parseArgs([]string{"--no-such-flag"}, io.Discard)
	assert.Error(t, err)

	_, err = parseArgs([]string{"stray"}, io.Discard)
	assert.Error(t, err)

	_, err = parseArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	assert.Error(t, err)

	_, err = parseArgs([]string{"--help"}, io.Discard)
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestParseArgs_Verify(t *testing.T) {
	c, err := parseArgs([]string{"--verify", "output/iot_data_batch_0_timestamp_1.json", "--hash-algorithm", "blake3"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "output/iot_data_batch_0_timestamp_1.json", c.verifyPath)
	assert.Equal(t, "blake3", c.opts.HashAlgorithm)
}

func TestRun_PipelineError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"generic", errors.New("test error")},
		{"canceled", context.Canceled},
		{"key corrupt", fmt.Errorf("%w: short file", customErrors.ErrKeyCorrupt)},
		{"io", fmt.Errorf("%w: disk full", customErrors.ErrIOFailure)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exitCode := 0
			mockExit := func(code int) {
				exitCode = code
			}

			mockRun := func(ctx context.Context, log *zap.Logger, opts *options.PipelineOptions) (*stats.Stats, error) {
				return nil, tc.err
			}

			run(defaultCLI(), testLogger(t), mockExit, mockRun, failVerify(t))
			if exitCode != 1 {
				t.Errorf("Expected exit code 1, got %d", exitCode)
			}
		})
	}
}

func TestRun_Success(t *testing.T) {
	exitCode := 0
	mockExit := func(code int) {
		exitCode = code
	}

	var seen *options.PipelineOptions
	mockRun := func(ctx context.Context, log *zap.Logger, opts *options.PipelineOptions) (*stats.Stats, error) {
		seen = opts
		assert.NoError(t, ctx.Err())
		return stats.NewStats(), nil
	}

	c := defaultCLI()
	run(c, testLogger(t), mockExit, mockRun, failVerify(t))
	if exitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", exitCode)
	}
	assert.Same(t, c.opts, seen)
}

func TestRun_Verify(t *testing.T) {
	c := defaultCLI()
	c.verifyPath = "artifact.json"

	t.Run("ok", func(t *testing.T) {
		exitCode := 0
		mockVerify := func(ctx context.Context, log *zap.Logger, path string, opts *options.PipelineOptions) (*verifier.Report, error) {
			assert.Equal(t, "artifact.json", path)
			return &verifier.Report{Path: path, Records: 2, Verified: 2}, nil
		}
		run(c, testLogger(t), func(code int) { exitCode = code }, failRun(t), mockVerify)
		assert.Equal(t, 0, exitCode)
	})

	t.Run("authentication failure", func(t *testing.T) {
		exitCode := 0
		mockVerify := func(ctx context.Context, log *zap.Logger, path string, opts *options.PipelineOptions) (*verifier.Report, error) {
			return &verifier.Report{Path: path, Records: 2, Verified: 1}, customErrors.ErrAuthenticationFailed
		}
		run(c, testLogger(t), func(code int) { exitCode = code }, failRun(t), mockVerify)
		assert.Equal(t, 1, exitCode)
	})
}
