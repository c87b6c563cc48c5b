// Copyright (c) 2025 A Bit of Help, Inc.

// Package encryptor provides the producer stage for the sensor pipeline.
//
// This package integrates the core encryption functionality from pkg/record
// and pkg/encryption into the pipeline. It handles pipeline-specific concerns
// like panic recovery, error classification, and statistics, while the sealing
// itself stays in pkg/record.
package encryptor

import (
	"context"
	"fmt"
	"runtime/debug"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/queue"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/sample"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"go.uber.org/zap"
)

// Stage runs one producer tick: take a sample, seal it and push the record
// onto q. Nothing is pushed when an error is returned.
//
// Cancellation is only observed by the sampler. An invalid sample, whether
// rejected by the sampler or by validation, is counted and reported as
// ErrInvalidSample and is safe to skip;
// ErrSamplerExhausted means no further samples will arrive. A panic in the
// sampler or processor is recovered and returned as ErrPanic.
func Stage(
	ctx context.Context,
	logger *zap.Logger,
	sampler sample.Sampler,
	proc *record.Processor,
	q *queue.BatchQueue[*record.EncryptedRecord],
	pipelineStats *stats.Stats,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()

			baseErr := fmt.Errorf("%w: %v", customErrors.ErrPanic, r)
			err = customErrors.NewPipelineError(
				baseErr,
				"encryptor",
				0,
				"produce_record",
				0,
				"")

			logger.Error("Panic in encryptor stage",
				zap.String("stack", string(stack)),
				zap.Any("panic_value", r),
				zap.Error(err))
		}
	}()

	s, err := sampler.Sample(ctx)
	if err != nil {
		if customErrors.IsInvalidSampleError(err) {
			pipelineStats.IncrementSamplesTaken()
			pipelineStats.IncrementSamplesRejected()
		}
		return err
	}
	pipelineStats.IncrementSamplesTaken()

	// A reading already taken is sealed and queued even if a stop arrives now.
	rec, err := proc.Process(context.WithoutCancel(ctx), s)
	if err != nil {
		if customErrors.IsInvalidSampleError(err) {
			pipelineStats.IncrementSamplesRejected()
		}
		return customErrors.NewPipelineError(err, "encryptor", 0, "process_sample", 0, "")
	}

	q.Push(rec)
	pipelineStats.IncrementRecordsEnqueued()

	logger.Debug("Sample encrypted and queued",
		zap.String("device_id", rec.Metadata.DeviceID),
		zap.Uint64("timestamp", rec.Metadata.Timestamp),
		zap.String("data_hash", rec.Metadata.DataHash),
		zap.Int("queue_length", q.Len()))

	return nil
}
