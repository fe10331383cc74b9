package storage

import (
	"context"
	"errors"
)

// Storage connects a backend (memory, SQLite, ...) with the schedule
// service. Implementations must return the error values declared below so
// callers can tell failures apart with errors.Is.
type Storage interface {
	TemplateStore

	// GetSeries returns one series. A series owned by someone else is
	// reported as ErrNotFound.
	GetSeries(ctx context.Context, ownerID, seriesID string) (*Series, error)
	// ListSeries returns the owner's series filtered by opts, ordered with
	// SortSeries.
	ListSeries(ctx context.Context, ownerID string, opts *ListOptions) ([]*Series, error)
	// WithTx runs fn as one atomic unit. If fn returns an error, none of
	// its writes become visible. A failure of the commit step whose outcome
	// the backend cannot confirm is returned wrapped in ErrCommit; when the
	// backend knows nothing was applied it returns a plain error instead.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of Storage. Reads through a Tx observe its own
// uncommitted writes.
type Tx interface {
	GetSeries(ctx context.Context, ownerID, seriesID string) (*Series, error)
	// CreateSeries stores a new series. Version is set to 1 on success.
	CreateSeries(ctx context.Context, s *Series) error
	// UpdateSeries replaces a stored series when s.Version equals the
	// stored version, then bumps s.Version.
	UpdateSeries(ctx context.Context, s *Series) error
	// DeleteSeries removes a series together with its exceptions when
	// version matches the stored one.
	DeleteSeries(ctx context.Context, ownerID, seriesID string, version int64) error
}

// TemplateStore resolves day templates. The schedule engine never writes
// templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, ownerID, templateID string) (*Template, error)
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrAlreadyExists is returned when creating a resource whose id is taken
	ErrAlreadyExists = errors.New("resource already exists")
	// ErrConflict is returned when the stored version differs from the expected one
	ErrConflict = errors.New("resource conflict")
	// ErrDuplicateException is returned when a date already has an exception
	ErrDuplicateException = errors.New("duplicate exception")
	// ErrCommit is returned when committing a transaction failed and the
	// backend cannot tell whether its writes were applied
	ErrCommit = errors.New("commit failed")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Error pairs one of the sentinel values above with backend detail.
type Error struct {
	Type    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Type.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel Type.
func (e *Error) Is(target error) bool {
	return target == e.Type
}

func (e *Error) Unwrap() error {
	return e.Err
}
