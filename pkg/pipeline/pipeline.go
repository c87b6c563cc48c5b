// Copyright (c) 2025 A Bit of Help, Inc.

// Package pipeline provides the main sensor pipeline for the application.
// It samples readings on a fixed interval, seals each one into an encrypted,
// integrity-hashed record and persists the records in batches.
//
// The pipeline architecture is designed to separate core functionality from pipeline integration:
//
//  1. Core packages in /pkg (like keystore, encryption, record, queue) implement
//     fundamental algorithms and data structures that can be used independently
//     of the pipeline.
//
//  2. Pipeline packages in /pkg/pipeline (like encryptor, writer, scheduler)
//     integrate these core functionalities into the pipeline, handling
//     pipeline-specific concerns like timing, batching, error handling, and
//     statistics.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/encryption"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/keystore"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/scheduler"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/writer"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/queue"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/sample"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"go.uber.org/zap"
)

// Run executes one sensor run with opts and blocks until it stops.
//
// Startup failures (invalid options, an unusable output directory or key file,
// a device that cannot be opened) are returned before any sampling happens,
// with nil stats. Once sampling has started, cancellation of ctx is a normal
// stop: the queue is drained and Run returns the collected statistics. A
// producer failure that ends the run early is returned together with them.
func Run(ctx context.Context, logger *zap.Logger, opts *options.PipelineOptions) (*stats.Stats, error) {
	if err := validateInputs(ctx, logger, opts); err != nil {
		return nil, err
	}

	if err := checkContext(ctx); err != nil {
		logger.Error("Pipeline context error", zap.Error(err), zap.String("output_dir", opts.OutputDir))
		return nil, wrapPipelineError(err, "check_context", "")
	}

	startTime := time.Now()
	pipelineStats := stats.NewStats()

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, wrapIOError(err, "create_output_dir", opts.OutputDir)
	}

	key, err := keystore.LoadOrCreate(logger, opts.KeyPath)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	cipher, err := encryption.NewCipher(key)
	if err != nil {
		return nil, wrapPipelineError(err, "init_encryption", opts.KeyPath)
	}
	defer cipher.Close()

	algorithm, err := record.ParseHashAlgorithm(opts.HashAlgorithm)
	if err != nil {
		return nil, wrapPipelineError(err, "init_digest", "")
	}

	sampler, closeSampler, err := openSampler(opts)
	if err != nil {
		return nil, err
	}
	defer closeSampler(logger)

	q := queue.New[*record.EncryptedRecord]()
	batchWriter := writer.New(writer.Config{
		Logger:    logger,
		OutputDir: opts.OutputDir,
		BatchSize: opts.BatchSize,
		Compress:  opts.CompressArtifacts,
		Stats:     pipelineStats,
	})

	sched := scheduler.New(scheduler.Config{
		Logger:      logger,
		Sampler:     sampler,
		Processor:   record.NewProcessor(cipher, algorithm),
		Queue:       q,
		Flusher:     batchWriter,
		Stats:       pipelineStats,
		BatchSize:   opts.BatchSize,
		Interval:    opts.SampleInterval,
		RunDuration: opts.RunDuration,
	})

	logger.Info("Pipeline started",
		zap.String("device_id", opts.DeviceID),
		zap.String("sampler", opts.Sampler),
		zap.String("output_dir", opts.OutputDir),
		zap.String("hash_algorithm", string(algorithm)),
		zap.Bool("compress_artifacts", opts.CompressArtifacts))

	runErr := sched.Run(ctx)
	pipelineStats.ProcessingTime = time.Since(startTime)

	if runErr != nil {
		logger.Error("Pipeline stopped early",
			zap.Error(runErr),
			zap.String("output_dir", opts.OutputDir),
			zap.Duration("duration", pipelineStats.ProcessingTime))
		return pipelineStats, wrapPipelineError(runErr, "run", opts.OutputDir)
	}

	logger.Info("Pipeline stopped",
		zap.Int("batches_written", sched.BatchIndex()),
		zap.Duration("duration", pipelineStats.ProcessingTime))
	return pipelineStats, nil
}

func validateInputs(ctx context.Context, logger *zap.Logger, opts *options.PipelineOptions) error {
	if ctx == nil {
		return customErrors.NewPipelineError(fmt.Errorf("context cannot be nil"), "pipeline", 0, "validate_inputs", 0, "")
	}
	if logger == nil {
		return customErrors.NewPipelineError(fmt.Errorf("logger cannot be nil"), "pipeline", 0, "validate_inputs", 0, "")
	}
	if opts == nil {
		return customErrors.NewPipelineError(fmt.Errorf("options cannot be nil"), "pipeline", 0, "validate_inputs", 0, "")
	}
	if err := opts.Validate(); err != nil {
		return customErrors.NewPipelineError(err, "pipeline", 0, "validate_inputs", 0, "")
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// openSampler builds the configured sampler and a function releasing it.
func openSampler(opts *options.PipelineOptions) (sample.Sampler, func(*zap.Logger), error) {
	noop := func(*zap.Logger) {}

	switch opts.Sampler {
	case options.SamplerDevice:
		f, err := os.Open(opts.DevicePath)
		if err != nil {
			return nil, noop, wrapIOError(err, "open_device", opts.DevicePath)
		}
		device := sample.NewDevice(opts.DeviceID, f)
		closeFile := closer(f, opts.DevicePath)
		return device, func(logger *zap.Logger) {
			device.Close()
			// Closing the file wakes a read still blocked on a quiet device.
			closeFile(logger)
		}, nil
	default:
		return sample.NewSimulated(opts.DeviceID, uint64(time.Now().UnixNano())), noop, nil
	}
}

func closer(c io.Closer, path string) func(*zap.Logger) {
	return func(logger *zap.Logger) {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close device", zap.String("path", path), zap.Error(err))
		}
	}
}

func wrapPipelineError(err error, operation, path string) error {
	return customErrors.NewPipelineError(err, "pipeline", 0, operation, 0, path)
}

func wrapIOError(err error, operation, path string) error {
	return customErrors.NewPipelineError(
		fmt.Errorf("%w: %v", customErrors.ErrIOFailure, err),
		"pipeline",
		0,
		operation,
		0,
		path)
}
