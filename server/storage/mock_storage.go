package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing. WithTx runs the
// callback against Tx, so expectations for writes are set on the MockTx.
type MockStorage struct {
	mock.Mock
	Tx *MockTx
}

// NewMockStorage returns a MockStorage wired to a fresh MockTx.
func NewMockStorage() *MockStorage {
	return &MockStorage{Tx: &MockTx{}}
}

func (m *MockStorage) GetTemplate(ctx context.Context, ownerID, templateID string) (*Template, error) {
	args := m.Called(ctx, ownerID, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Template), args.Error(1)
}

func (m *MockStorage) GetSeries(ctx context.Context, ownerID, seriesID string) (*Series, error) {
	args := m.Called(ctx, ownerID, seriesID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Series), args.Error(1)
}

func (m *MockStorage) ListSeries(ctx context.Context, ownerID string, opts *ListOptions) ([]*Series, error) {
	args := m.Called(ctx, ownerID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Series), args.Error(1)
}

// WithTx runs fn against m.Tx and then returns the error configured for
// the "WithTx" call, which stands in for the commit result.
func (m *MockStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	args := m.Called(ctx)
	if err := fn(m.Tx); err != nil {
		return err
	}
	return args.Error(0)
}

// MockTx implements the Tx interface for testing.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) GetSeries(ctx context.Context, ownerID, seriesID string) (*Series, error) {
	args := m.Called(ctx, ownerID, seriesID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Series), args.Error(1)
}

func (m *MockTx) CreateSeries(ctx context.Context, s *Series) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockTx) UpdateSeries(ctx context.Context, s *Series) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockTx) DeleteSeries(ctx context.Context, ownerID, seriesID string, version int64) error {
	args := m.Called(ctx, ownerID, seriesID, version)
	return args.Error(0)
}
