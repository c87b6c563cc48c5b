// Copyright (c) 2025 A Bit of Help, Inc.

// Package verifier checks batch artifacts written by the pipeline: every
// record is decrypted, re-hashed and compared with its metadata.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/compression"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/dataprocessor"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/encryption"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/keystore"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/sample"
	"go.uber.org/zap"
)

// Report summarizes one verified artifact.
type Report struct {
	Path     string
	Records  int
	Verified int
	Samples  []sample.Sample
}

// ReadBatchFile reads a batch artifact, decompressing it first when its name
// carries the compression extension.
func ReadBatchFile(path string) (*record.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, customErrors.NewPipelineError(
			fmt.Errorf("%w: %v", customErrors.ErrIOFailure, err), "verifier", 0, "read_batch_file", 0, path)
	}

	if compression.IsCompressedName(path) {
		data, err = compression.DecompressData(data)
		if err != nil {
			return nil, customErrors.NewPipelineError(
				fmt.Errorf("%w: %v", customErrors.ErrDecode, err), "verifier", 0, "decompress_batch_file", 0, path)
		}
	}

	var batch record.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, customErrors.NewPipelineError(
			fmt.Errorf("%w: not a batch artifact: %v", customErrors.ErrDecode, err), "verifier", 0, "parse_batch_file", len(data), path)
	}
	return &batch, nil
}

// VerifyBatchFile verifies every record of the artifact at path using the key
// and digest named by opts. The key is loaded, never created.
//
// All records are checked even after a failure. If any record fails, the
// returned error is an ErrorCollector holding one PipelineError per failed
// record, and the report still counts the records that passed.
func VerifyBatchFile(ctx context.Context, logger *zap.Logger, path string, opts *options.PipelineOptions) (*Report, error) {
	algorithm, err := record.ParseHashAlgorithm(opts.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	key, err := keystore.Load(logger, opts.KeyPath)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	cipher, err := encryption.NewCipher(key)
	if err != nil {
		return nil, err
	}
	defer cipher.Close()

	batch, err := ReadBatchFile(path)
	if err != nil {
		return nil, err
	}

	report, err := Verify(ctx, record.NewProcessor(cipher, algorithm), batch)
	if report != nil {
		report.Path = path
	}
	if err != nil {
		logger.Error("Batch verification failed",
			zap.String("path", path),
			zap.Int("records", len(batch.Batch)),
			zap.Error(err))
		return report, err
	}

	logger.Info("Batch verified",
		zap.String("path", path),
		zap.Int("records", report.Verified),
		zap.String("hash_algorithm", string(algorithm)))
	return report, nil
}

// Verify opens every record of batch with proc.
func Verify(ctx context.Context, proc *record.Processor, batch *record.Batch) (*Report, error) {
	report := &Report{Records: len(batch.Batch)}
	collector := customErrors.NewErrorCollector()

	for i := range batch.Batch {
		if err := dataprocessor.CheckContext(ctx); err != nil {
			return report, err
		}

		s, err := proc.Open(&batch.Batch[i])
		if err != nil {
			collector.Add(customErrors.NewPipelineError(err, "verifier", i, "open_record", 1, ""))
			continue
		}
		report.Verified++
		report.Samples = append(report.Samples, s)
	}

	if collector.HasErrors() {
		return report, collector
	}
	return report, nil
}
