package calib

import (
	"fmt"

	"go.uber.org/multierr"
)

// WithFallback runs primary and, when it fails, fallback. The bool reports
// whether the fallback ran. If both fail the combined error wraps
// ErrOptimizationFailure.
func WithFallback[T any](primary, fallback func() (T, error), onFallback func(error)) (T, bool, error) {
	v, err := primary()
	if err == nil {
		return v, false, nil
	}
	if onFallback != nil {
		onFallback(err)
	}

	v, fallbackErr := fallback()
	if fallbackErr == nil {
		return v, true, nil
	}
	var zero T
	return zero, true, fmt.Errorf("%w: primary and fallback failed: %w",
		ErrOptimizationFailure, multierr.Append(err, fallbackErr))
}
