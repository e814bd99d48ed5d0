package domain

import (
	"context"

	"github.com/opensource-security/shrike/internal/frame"
)

// FeatureStore persists feature matrices as typed columnar tables.
// SaveFeatures then LoadFeatures on the same set name must return an
// equal frame: same shape, same column order, same values.
type FeatureStore interface {
	// SaveFeatures stores a matrix under a set name, replacing any
	// previous matrix with that name.
	SaveFeatures(ctx context.Context, name string, f *frame.Frame) error

	// LoadFeatures retrieves a previously saved matrix. Returns
	// ErrNotFound if no set with that name exists.
	LoadFeatures(ctx context.Context, name string) (*frame.Frame, error)

	// ListFeatureSets returns the saved set names.
	ListFeatureSets(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
