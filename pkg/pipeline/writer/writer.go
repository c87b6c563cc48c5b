// Copyright (c) 2025 A Bit of Help, Inc.

// Package writer provides the batch writer stage for the sensor pipeline.
//
// A flush drains up to one batch of records from the shared queue and persists
// it as two artifacts in the output directory: the encrypted batch and a
// plaintext listing of the record metadata. Each artifact is written to a
// temporary file, synced and renamed into place, so a reader never observes a
// partially written artifact.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/compression"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/queue"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"go.uber.org/zap"
)

// Config configures a Writer.
type Config struct {
	Logger    *zap.Logger
	OutputDir string
	BatchSize int

	// Compress brotli-compresses both artifacts and appends compression.Extension.
	Compress bool

	// Stats is optional.
	Stats *stats.Stats

	// Now stamps artifact names. Defaults to time.Now.
	Now func() time.Time
}

// Result describes one persisted batch.
type Result struct {
	Index     int
	Records   int
	Timestamp int64
	BatchPath string
	RawPath   string
	Bytes     uint64
}

// Writer persists batches. Flushes are serialized.
type Writer struct {
	mu  sync.Mutex
	cfg Config
}

// New returns a Writer for cfg.
func New(cfg Config) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{cfg: cfg}
}

// BatchFileName is the name of the encrypted batch artifact.
func BatchFileName(index int, timestamp int64) string {
	return fmt.Sprintf("iot_data_batch_%d_timestamp_%d.json", index, timestamp)
}

// RawFileName is the name of the metadata artifact.
func RawFileName(index int, timestamp int64) string {
	return fmt.Sprintf("raw_data_batch_%d_timestamp_%d.json", index, timestamp)
}

// Flush drains up to BatchSize records from q and persists them under index.
// It returns nil, nil when the queue is empty.
//
// Drained records are never put back. If persisting fails they are lost; the
// error is a PipelineError wrapping ErrPersist whose DataSize is the number of
// lost records, and their hashes are logged.
func (w *Writer) Flush(ctx context.Context, q *queue.BatchQueue[*record.EncryptedRecord], index int) (*Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	records := q.DrainUpTo(w.cfg.BatchSize)
	if len(records) == 0 {
		return nil, nil
	}

	timestamp := w.cfg.Now().Unix()
	batchPath := filepath.Join(w.cfg.OutputDir, BatchFileName(index, timestamp))
	rawPath := filepath.Join(w.cfg.OutputDir, RawFileName(index, timestamp))
	if w.cfg.Compress {
		batchPath += compression.Extension
		rawPath += compression.Extension
	}

	logger := w.cfg.Logger.With(zap.Int("batch_index", index), zap.Int("records", len(records)))

	written, err := w.persist(ctx, records, batchPath, rawPath)
	if err != nil {
		persistErr := customErrors.NewPipelineError(
			fmt.Errorf("%w: %v", customErrors.ErrPersist, err),
			"writer",
			index,
			"flush_batch",
			len(records),
			batchPath)

		logger.Error("Failed to persist batch, records lost",
			zap.Strings("lost_data_hashes", dataHashes(records)),
			zap.Error(persistErr))

		if w.cfg.Stats != nil {
			w.cfg.Stats.RecordBatchFailed(len(records))
		}
		return nil, persistErr
	}

	if w.cfg.Stats != nil {
		w.cfg.Stats.RecordBatchWritten(len(records), written)
	}

	logger.Info("Batch written",
		zap.String("batch_file", batchPath),
		zap.String("raw_file", rawPath),
		zap.Uint64("bytes", written))

	return &Result{
		Index:     index,
		Records:   len(records),
		Timestamp: timestamp,
		BatchPath: batchPath,
		RawPath:   rawPath,
		Bytes:     written,
	}, nil
}

// persist writes both artifacts. The pair is treated as a unit: if the
// metadata artifact cannot be written the batch artifact is removed again.
func (w *Writer) persist(ctx context.Context, records []*record.EncryptedRecord, batchPath, rawPath string) (uint64, error) {
	batch := record.Batch{Batch: make([]record.EncryptedRecord, len(records))}
	metadata := make([]record.Metadata, len(records))
	for i, rec := range records {
		batch.Batch[i] = *rec
		metadata[i] = rec.Metadata
	}

	batchData, err := w.encode(ctx, batch)
	if err != nil {
		return 0, err
	}
	rawData, err := w.encode(ctx, metadata)
	if err != nil {
		return 0, err
	}

	if err := writeFileAtomic(batchPath, batchData); err != nil {
		return 0, err
	}
	if err := writeFileAtomic(rawPath, rawData); err != nil {
		if rmErr := os.Remove(batchPath); rmErr != nil {
			w.cfg.Logger.Warn("Failed to remove orphaned batch artifact",
				zap.String("path", batchPath), zap.Error(rmErr))
		}
		return 0, err
	}
	syncDir(w.cfg.OutputDir, w.cfg.Logger)

	return uint64(len(batchData) + len(rawData)), nil
}

func (w *Writer) encode(ctx context.Context, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	if !w.cfg.Compress {
		return data, nil
	}
	return compression.CompressDataWithContext(ctx, data)
}

// writeFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temporary file: %v", customErrors.ErrIOFailure, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", customErrors.ErrIOFailure, tmp, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", customErrors.ErrIOFailure, tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", customErrors.ErrIOFailure, tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: renaming %s: %v", customErrors.ErrIOFailure, tmp, err)
	}
	return nil
}

// syncDir makes the renames durable. Not every platform can fsync a directory,
// so failures are only logged.
func syncDir(dir string, logger *zap.Logger) {
	d, err := os.Open(dir)
	if err != nil {
		logger.Debug("Could not open output directory for sync", zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.Debug("Could not sync output directory", zap.Error(err))
	}
}

func dataHashes(records []*record.EncryptedRecord) []string {
	hashes := make([]string, len(records))
	for i, rec := range records {
		hashes[i] = rec.Metadata.DataHash
	}
	return hashes
}
