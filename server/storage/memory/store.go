// memory based implementation for testing and single-process deployments
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cod31nvictus/eterny/server/storage"
)

// Store implements storage.Storage interface using in-memory maps
type Store struct {
	mu        sync.RWMutex
	series    map[string]*storage.Series   // key: series id
	templates map[string]*storage.Template // key: ownerID/templateID

	now    func() time.Time
	commit func() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for Created and Modified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCommitHook installs a function that runs right before staged writes
// are applied. A non-nil error aborts the commit and nothing is applied.
// The hook stands in for a durable commit step, so its error is reported
// as storage.ErrCommit the way a disk-backed store would report it.
func WithCommitHook(fn func() error) Option {
	return func(s *Store) {
		s.commit = fn
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		series:    make(map[string]*storage.Series),
		templates: make(map[string]*storage.Template),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) templateKey(ownerID, templateID string) string {
	return fmt.Sprintf("%s/%s", ownerID, templateID)
}

// Template operations

// AddTemplate registers a template. Templates live outside this engine, so
// this is how callers seed them.
func (s *Store) AddTemplate(t *storage.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.templateKey(t.OwnerID, t.ID)
	if _, exists := s.templates[key]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "template already exists",
		}
	}
	tc := *t
	s.templates[key] = &tc
	return nil
}

// PutTemplate inserts or replaces a template.
func (s *Store) PutTemplate(_ context.Context, t *storage.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc := *t
	s.templates[s.templateKey(t.OwnerID, t.ID)] = &tc
	return nil
}

func (s *Store) GetTemplate(_ context.Context, ownerID, templateID string) (*storage.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[s.templateKey(ownerID, templateID)]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "template not found",
		}
	}
	tc := *t
	return &tc, nil
}

// Series operations

func (s *Store) GetSeries(_ context.Context, ownerID, seriesID string) (*storage.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lookup(s.series[seriesID], ownerID)
}

func (s *Store) ListSeries(_ context.Context, ownerID string, opts *storage.ListOptions) ([]*storage.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*storage.Series
	for _, ser := range s.series {
		if ser.OwnerID == ownerID && opts.Matches(ser) {
			list = append(list, ser.Clone())
		}
	}
	storage.SortSeries(list)
	return list, nil
}

// WithTx stages every write made by fn and applies them together once fn
// returns nil. Transactions are serialized.
func (s *Store) WithTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, writes: make(map[string]*storage.Series)}
	if err := fn(t); err != nil {
		return err
	}

	if s.commit != nil {
		if err := s.commit(); err != nil {
			return &storage.Error{
				Type:    storage.ErrCommit,
				Message: "memory commit aborted",
				Err:     err,
			}
		}
	}

	for _, id := range t.order {
		if ser := t.writes[id]; ser == nil {
			delete(s.series, id)
		} else {
			s.series[id] = ser
		}
	}
	return nil
}

func lookup(ser *storage.Series, ownerID string) (*storage.Series, error) {
	if ser == nil || ser.OwnerID != ownerID {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "series not found",
		}
	}
	return ser.Clone(), nil
}

type tx struct {
	store *Store
	// writes holds the staged state per series id; nil marks a delete.
	writes map[string]*storage.Series
	order  []string
}

func (t *tx) current(seriesID string) *storage.Series {
	if ser, staged := t.writes[seriesID]; staged {
		return ser
	}
	return t.store.series[seriesID]
}

func (t *tx) stage(seriesID string, ser *storage.Series) {
	if _, staged := t.writes[seriesID]; !staged {
		t.order = append(t.order, seriesID)
	}
	t.writes[seriesID] = ser
}

func (t *tx) GetSeries(_ context.Context, ownerID, seriesID string) (*storage.Series, error) {
	return lookup(t.current(seriesID), ownerID)
}

func (t *tx) CreateSeries(_ context.Context, ser *storage.Series) error {
	if err := ser.Validate(); err != nil {
		return err
	}
	if t.current(ser.ID) != nil {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "series already exists",
		}
	}

	now := t.store.now()
	if ser.Created.IsZero() {
		ser.Created = now
	}
	ser.Modified = now
	ser.Version = 1
	t.stage(ser.ID, ser.Clone())
	return nil
}

func (t *tx) UpdateSeries(_ context.Context, ser *storage.Series) error {
	if err := ser.Validate(); err != nil {
		return err
	}
	stored, err := lookup(t.current(ser.ID), ser.OwnerID)
	if err != nil {
		return err
	}
	if stored.Version != ser.Version {
		return &storage.Error{
			Type:    storage.ErrConflict,
			Message: fmt.Sprintf("series %s is at version %d, not %d", ser.ID, stored.Version, ser.Version),
		}
	}

	ser.Version++
	ser.Created = stored.Created
	ser.Modified = t.store.now()
	t.stage(ser.ID, ser.Clone())
	return nil
}

func (t *tx) DeleteSeries(_ context.Context, ownerID, seriesID string, version int64) error {
	stored, err := lookup(t.current(seriesID), ownerID)
	if err != nil {
		return err
	}
	if stored.Version != version {
		return &storage.Error{
			Type:    storage.ErrConflict,
			Message: fmt.Sprintf("series %s is at version %d, not %d", seriesID, stored.Version, version),
		}
	}
	t.stage(seriesID, nil)
	return nil
}
