// Copyright (c) 2025 A Bit of Help, Inc.

// Package utils provides utility functions for the application
package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExitFunc terminates the process. It is os.Exit outside of tests.
type ExitFunc func(code int)

// ShutdownConfig tunes SetupGracefulShutdown.
type ShutdownConfig struct {
	// Grace bounds the drain that follows the first signal. After it elapses
	// the process is terminated with exit code 1.
	Grace time.Duration

	// Exit defaults to os.Exit.
	Exit ExitFunc
}

// SetupGracefulShutdown configures signal handling for graceful shutdown.
// The first SIGINT, SIGTERM, SIGHUP or SIGQUIT calls cancel so the pipeline can
// drain; a second signal, or a drain that outlasts the grace period, forces
// exit(1). It returns a function that should be deferred to clean up signal
// handling; calling it also disarms the grace timer.
func SetupGracefulShutdown(cancel context.CancelFunc, logger *zap.Logger, cfg ShutdownConfig) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	// Create a channel to signal when the goroutine should exit
	done := make(chan struct{})

	go watchSignals(cancel, logger, sigChan, done, cfg)

	// Return a cleanup function
	return func() {
		// Signal the goroutine to exit
		close(done)

		// Stop signal notifications
		signal.Stop(sigChan)
		close(sigChan)

		logger.Debug("Signal handling cleaned up")
	}
}

func watchSignals(
	cancel context.CancelFunc,
	logger *zap.Logger,
	sigChan <-chan os.Signal,
	done <-chan struct{},
	cfg ShutdownConfig,
) {
	defer logger.Debug("Signal handling goroutine exited")

	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}

	// Create a channel to track if we've already received a signal
	signalReceived := make(chan struct{})

	for {
		select {
		case sig, ok := <-sigChan:
			if !ok {
				// sigChan was closed, exit goroutine
				return
			}

			select {
			case <-signalReceived:
				// Second signal received, force immediate exit
				logger.Warn("Received second signal, forcing immediate shutdown",
					zap.String("signal", sig.String()))
				cfg.Exit(1)
				return
			default:
				// First signal, try graceful shutdown
				logger.Info("Received signal, draining before shutdown",
					zap.String("signal", sig.String()),
					zap.Duration("grace", cfg.Grace))

				// Mark that we've received a signal
				close(signalReceived)

				// Start a timer for forced shutdown. The run context is
				// canceled below, so only cleanup disarms it.
				go func() {
					shutdownTimer := time.NewTimer(cfg.Grace)
					defer shutdownTimer.Stop()

					select {
					case <-shutdownTimer.C:
						logger.Warn("Graceful shutdown timed out, forcing exit",
							zap.Duration("grace", cfg.Grace))
						cfg.Exit(1)
					case <-done:
						// Drain finished in time
						return
					}
				}()

				// Trigger graceful shutdown
				cancel()
			}
		case <-done:
			// Signal to exit
			return
		}
	}
}
