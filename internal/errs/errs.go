// Package errs defines the error kinds surfaced by mnemo operations.
//
// Every error returned across a package boundary wraps exactly one of the
// sentinels below, so callers classify with errors.Is and the HTTP layer
// maps kinds to status codes without string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: empty content, unknown sector,
	// out-of-range salience or confidence, bad namespace names.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an id that does not exist, or a fact with no
	// interval covering the requested time.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks a record that exists in a different namespace than
	// the caller asked for.
	ErrForbidden = errors.New("forbidden")

	// ErrEmbedding marks a provider failure or timeout. Nothing is persisted
	// when a write fails with this kind.
	ErrEmbedding = errors.New("embedding error")

	// ErrConsistency marks a broken internal invariant, such as an embedding
	// whose dimensionality disagrees with its partition.
	ErrConsistency = errors.New("consistency error")

	// ErrDecayEngine marks a failure inside a decay cycle. It is logged and
	// counted by the scheduler, never returned to foreground callers.
	ErrDecayEngine = errors.New("decay engine error")
)

// Validation returns an ErrValidation with a formatted detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing thing.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Forbidden returns an ErrForbidden for a cross-namespace access.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Consistency returns an ErrConsistency with a formatted detail.
func Consistency(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// Embedding wraps a provider error as ErrEmbedding, keeping the cause.
// An error that already carries ErrConsistency is returned unchanged.
func Embedding(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmbedding) || errors.Is(err, ErrConsistency) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbedding, err)
}

// Decay wraps a failure inside a decay cycle.
func Decay(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDecayEngine, err)
}

// Kind returns a short lowercase name for the error's kind, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrConsistency):
		return "consistency"
	case errors.Is(err, ErrDecayEngine):
		return "decay"
	default:
		return "internal"
	}
}
