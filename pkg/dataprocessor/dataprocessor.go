// Copyright (c) 2025 A Bit of Help, Inc.

// Package dataprocessor provides generic data processing functionality with context awareness.
//
// This package serves as a foundation for the core functionality packages in /pkg
// (encryption, compression). Cancellation is cooperative: a canceled context
// prevents an operation from starting, but an operation that has started always
// runs to completion so no record is left half-encrypted or half-written.
package dataprocessor

import (
	"context"
	"fmt"
	"runtime/debug"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
)

// ProcessWithContext executes a data processing function with context awareness
func ProcessWithContext[In, Out any](ctx context.Context, processFunc func(In) (Out, error), data In) (result Out, err error) {
	if err := CheckContext(ctx); err != nil {
		return result, err
	}

	defer func() {
		if r := recover(); r != nil {
			var zero Out
			result = zero
			err = fmt.Errorf("%w in data processing: %v\nstack: %s", customErrors.ErrPanic, r, debug.Stack())
		}
	}()

	return processFunc(data)
}

// CheckContext reports whether ctx still permits new work.
func CheckContext(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case err == context.Canceled:
		return fmt.Errorf("%w: %w", customErrors.ErrCanceled, err)
	case err == context.DeadlineExceeded:
		return fmt.Errorf("%w: %w", customErrors.ErrTimeout, err)
	default:
		return fmt.Errorf("context error: %w", err)
	}
}
