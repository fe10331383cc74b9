package schedule

import (
	"errors"
	"fmt"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
)

var (
	// ErrValidation covers every request rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidScope is returned for a scope other than this, thisAndFuture or all.
	ErrInvalidScope = fmt.Errorf("%w: invalid scope", ErrValidation)
	// ErrInvalidRange is returned for inverted or oversized date ranges.
	ErrInvalidRange = fmt.Errorf("%w: invalid date range", ErrValidation)
	// ErrNotOccurrence is returned when a scoped mutation names a date the
	// series does not resolve to.
	ErrNotOccurrence = fmt.Errorf("%w: date is not an occurrence of the series", ErrValidation)

	// ErrNotFound is returned for unknown series or templates, including
	// ones owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateException is returned when the date already has an exception.
	ErrDuplicateException = errors.New("duplicate exception")
	// ErrConflict is returned when the series changed since the caller read it.
	ErrConflict = errors.New("conflict")
	// ErrPersistence wraps storage failures. Nothing was written.
	ErrPersistence = errors.New("persistence failure")
	// ErrPartialMutation is returned when committing a mutation of more than
	// one write failed with storage.ErrCommit, so the store could not confirm
	// a rollback. Operators may need to reconcile. A store that knows it
	// rolled back reports a plain error, which becomes ErrPersistence.
	ErrPartialMutation = errors.New("partial mutation failure")
)

// translate maps storage and recurrence errors onto the service taxonomy.
// writes is the number of documents the failed operation meant to write.
func translate(err error, writes int) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateException), errors.Is(err, ErrConflict),
		errors.Is(err, ErrPersistence), errors.Is(err, ErrPartialMutation):
		return err
	case errors.Is(err, recurrence.ErrInvalidRule), errors.Is(err, storage.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, storage.ErrDuplicateException):
		return fmt.Errorf("%w: %w", ErrDuplicateException, err)
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, storage.ErrCommit) && writes > 1:
		return fmt.Errorf("%w: %w", ErrPartialMutation, err)
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}
