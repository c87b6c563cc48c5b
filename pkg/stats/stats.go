// Copyright (c) 2025 A Bit of Help, Inc.

// Package stats provides functionality for tracking pipeline processing statistics
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Stats tracks pipeline processing statistics with thread-safe access methods
type Stats struct {
	// Producer side
	SamplesTaken    atomic.Uint64
	SamplesRejected atomic.Uint64
	RecordsEnqueued atomic.Uint64

	// Writer side
	RecordsFlushed atomic.Uint64
	RecordsLost    atomic.Uint64
	BatchesWritten atomic.Uint64
	BatchesFailed  atomic.Uint64
	BytesWritten   atomic.Uint64

	// ProcessingTime is the wall time of the run, set once it stops
	ProcessingTime time.Duration
}

// IncrementSamplesTaken counts a reading obtained from the sampler
func (s *Stats) IncrementSamplesTaken() {
	s.SamplesTaken.Add(1)
}

// IncrementSamplesRejected counts a reading discarded before encryption
func (s *Stats) IncrementSamplesRejected() {
	s.SamplesRejected.Add(1)
}

// IncrementRecordsEnqueued counts a record pushed onto the batch queue
func (s *Stats) IncrementRecordsEnqueued() {
	s.RecordsEnqueued.Add(1)
}

// RecordBatchWritten accounts for one persisted batch
func (s *Stats) RecordBatchWritten(records int, bytes uint64) {
	s.BatchesWritten.Add(1)
	s.RecordsFlushed.Add(uint64(records))
	s.BytesWritten.Add(bytes)
}

// RecordBatchFailed accounts for one batch whose records were drained but not persisted
func (s *Stats) RecordBatchFailed(records int) {
	s.BatchesFailed.Add(1)
	s.RecordsLost.Add(uint64(records))
}

// NewStats creates a new Stats instance with initialized fields
func NewStats() *Stats {
	return &Stats{}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds %dms", hours, minutes, seconds, milliseconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds %dms", minutes, seconds, milliseconds)
	} else if seconds > 0 {
		return fmt.Sprintf("%ds %dms", seconds, milliseconds)
	}
	return fmt.Sprintf("%dms", milliseconds)
}

// DeliveryRatio returns the share of enqueued records that reached an artifact,
// as a percentage. It is 100 when nothing was enqueued.
func (s *Stats) DeliveryRatio() float64 {
	enqueued := s.RecordsEnqueued.Load()
	if enqueued == 0 {
		return 100
	}
	return float64(s.RecordsFlushed.Load()) / float64(enqueued) * 100
}

// DisplaySummary prints and logs a summary of the run
func (s *Stats) DisplaySummary(logger *zap.Logger, deviceID, outputDir string) {
	timeFormatted := FormatDuration(s.ProcessingTime)

	samplesTaken := s.SamplesTaken.Load()
	samplesRejected := s.SamplesRejected.Load()
	recordsEnqueued := s.RecordsEnqueued.Load()
	recordsFlushed := s.RecordsFlushed.Load()
	recordsLost := s.RecordsLost.Load()
	batchesWritten := s.BatchesWritten.Load()
	batchesFailed := s.BatchesFailed.Load()
	bytesWritten := s.BytesWritten.Load()
	delivery := s.DeliveryRatio()

	fmt.Println("\n==================")
	fmt.Println("Simulation Summary")
	fmt.Println("==================")
	fmt.Printf("Device: %s\n", deviceID)
	fmt.Printf("Output directory: %s\n", outputDir)
	fmt.Println("------------------")
	fmt.Printf("Samples taken: %s\n", humanize.Comma(int64(samplesTaken)))
	fmt.Printf("Samples rejected: %s\n", humanize.Comma(int64(samplesRejected)))
	fmt.Printf("Records encrypted: %s\n", humanize.Comma(int64(recordsEnqueued)))
	fmt.Println("------------------")
	fmt.Printf("Batches written: %s (%s failed)\n", humanize.Comma(int64(batchesWritten)), humanize.Comma(int64(batchesFailed)))
	fmt.Printf("Records persisted: %s (%s lost)\n", humanize.Comma(int64(recordsFlushed)), humanize.Comma(int64(recordsLost)))
	fmt.Printf("Artifact bytes: %s (%d bytes)\n", humanize.Bytes(bytesWritten), bytesWritten)
	fmt.Printf("Delivered: %.2f%%\n", delivery)
	fmt.Println("------------------")
	fmt.Printf("Total run time: %s (%v)\n", timeFormatted, s.ProcessingTime)
	fmt.Println("==================")

	logger.Debug("Simulation completed",
		zap.String("device_id", deviceID),
		zap.String("output_dir", outputDir),
		zap.Uint64("samples_taken", samplesTaken),
		zap.Uint64("samples_rejected", samplesRejected),
		zap.Uint64("records_enqueued", recordsEnqueued),
		zap.Uint64("records_flushed", recordsFlushed),
		zap.Uint64("records_lost", recordsLost),
		zap.Uint64("batches_written", batchesWritten),
		zap.Uint64("batches_failed", batchesFailed),
		zap.Uint64("bytes_written", bytesWritten),
		zap.Float64("delivery_percent", delivery),
		zap.Duration("processing_time", s.ProcessingTime),
		zap.String("formatted_processing_time", timeFormatted))
}
