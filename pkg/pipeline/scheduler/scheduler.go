// Copyright (c) 2025 A Bit of Help, Inc.

// Package scheduler drives the sensor pipeline: it samples on a fixed interval,
// flushes whenever a full batch is queued and drains the queue on stop.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/encryptor"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/writer"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/queue"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/record"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/sample"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"go.uber.org/zap"
)

// State is the lifecycle phase of a Scheduler.
type State int32

const (
	// Running samples on every tick and flushes full batches.
	Running State = iota
	// Draining flushes what is still queued after the loop stopped.
	Draining
	// Stopped means Run has returned.
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Flusher persists one batch from the queue. *writer.Writer implements it.
type Flusher interface {
	Flush(ctx context.Context, q *queue.BatchQueue[*record.EncryptedRecord], index int) (*writer.Result, error)
}

// Config configures a Scheduler. Stats and Logger are optional.
type Config struct {
	Logger    *zap.Logger
	Sampler   sample.Sampler
	Processor *record.Processor
	Queue     *queue.BatchQueue[*record.EncryptedRecord]
	Flusher   Flusher
	Stats     *stats.Stats

	BatchSize int
	Interval  time.Duration

	// RunDuration stops the loop after this long. Zero runs until ctx is done.
	RunDuration time.Duration
}

// Scheduler owns the sampling loop. A Scheduler runs once.
type Scheduler struct {
	cfg   Config
	state atomic.Int32
	index atomic.Int64
}

// New returns a Scheduler for cfg.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewStats()
	}
	return &Scheduler{cfg: cfg}
}

// State reports the current lifecycle phase.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// BatchIndex is the index the next successful flush will use. It is safe to
// call while Run is in progress.
func (s *Scheduler) BatchIndex() int {
	return int(s.index.Load())
}

// Run samples immediately and then once per interval until ctx is done, the
// run duration elapses or the sampler is exhausted. It then flushes whatever
// is still queued and returns.
//
// Invalid samples and failed flushes are logged and do not stop the loop. Run
// returns an error only when the producer fails in a way that cannot be
// skipped, such as a sampler I/O error or a recovered panic; the queue is
// still drained first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.state.Store(int32(Running))
	defer s.state.Store(int32(Stopped))

	runCtx := ctx
	if s.cfg.RunDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunDuration)
		defer cancel()
	}

	s.cfg.Logger.Info("Sampling started",
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("run_duration", s.cfg.RunDuration))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		stop, err := s.tick(runCtx)
		if stop {
			runErr = err
			break
		}

		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			// A stop that raced with the tick wins.
			if runCtx.Err() != nil {
				break loop
			}
		}
	}

	reason := "sampler stopped"
	switch err := runCtx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "run duration elapsed"
	case errors.Is(err, context.Canceled):
		reason = "stop requested"
	}

	s.state.Store(int32(Draining))
	s.cfg.Logger.Info("Draining queue",
		zap.String("reason", reason),
		zap.Int("pending_records", s.cfg.Queue.Len()))
	s.drain(ctx)

	return runErr
}

// tick runs one producer step and flushes if a full batch is queued. It
// reports whether the loop must stop.
func (s *Scheduler) tick(ctx context.Context) (bool, error) {
	err := encryptor.Stage(ctx, s.cfg.Logger, s.cfg.Sampler, s.cfg.Processor, s.cfg.Queue, s.cfg.Stats)
	switch {
	case err == nil:
	case customErrors.IsInvalidSampleError(err):
		s.cfg.Logger.Warn("Sample rejected", zap.Error(err))
	case errors.Is(err, customErrors.ErrSamplerExhausted):
		s.cfg.Logger.Info("Sampler exhausted")
		return true, nil
	case customErrors.IsCancellationError(err), customErrors.IsTimeoutError(err):
		s.cfg.Logger.Debug("Sampling interrupted", zap.Error(err))
		return true, nil
	default:
		s.cfg.Logger.Error("Producer failed", zap.Error(err))
		return true, err
	}

	if s.cfg.Queue.Len() >= s.cfg.BatchSize {
		s.flush(ctx)
	}
	return false, nil
}

// drain flushes until the queue is empty. A flush removes records whether or
// not it succeeds; a flusher that makes no progress ends the drain.
func (s *Scheduler) drain(ctx context.Context) {
	for pending := s.cfg.Queue.Len(); pending > 0; {
		s.flush(ctx)
		remaining := s.cfg.Queue.Len()
		if remaining >= pending {
			s.cfg.Logger.Error("Flush made no progress, abandoning drain", zap.Int("pending_records", remaining))
			return
		}
		pending = remaining
	}
}

// flush persists one batch. Cancellation of ctx does not interrupt a flush
// that has already drained records.
func (s *Scheduler) flush(ctx context.Context) {
	index := s.BatchIndex()
	result, err := s.cfg.Flusher.Flush(context.WithoutCancel(ctx), s.cfg.Queue, index)
	if err != nil {
		s.cfg.Logger.Warn("Batch flush failed, continuing",
			zap.Int("batch_index", index),
			zap.Bool("persist_error", customErrors.IsPersistError(err)),
			zap.Error(err))
		return
	}
	if result != nil {
		s.index.Add(1)
	}
}
