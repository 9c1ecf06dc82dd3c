// Package store persists the latest snapshot of each dataset.
// A save atomically replaces the previous snapshot of the same kind; readers see
// either the old or the new snapshot, never a mix.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyseavey/mtg-finder/internal/models"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// ErrNotFound matches any NotFoundError with errors.Is
var ErrNotFound = errors.New("snapshot not found")

// NotFoundError is returned by Load when a dataset has never been saved
type NotFoundError struct {
	Kind models.DatasetKind
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s snapshot has been saved", e.Kind)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Store keeps one snapshot per dataset kind
type Store interface {
	// Load returns the latest snapshot of kind. The result is shared and must not be modified.
	Load(ctx context.Context, kind models.DatasetKind) (*models.Snapshot, error)
	// Save validates snap, stamps it with the store clock and replaces the previous snapshot.
	Save(ctx context.Context, snap models.Snapshot) (time.Time, error)
	// Status reports existence and age without acting on staleness.
	Status(ctx context.Context, kind models.DatasetKind) (models.DatasetStatus, error)
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Backend    string        // "file" or "sqlite"
	DataDir    string        // file backend directory
	Format     string        // file backend codec: "json" or "msgpack"
	DBPath     string        // sqlite backend database file
	StaleAfter time.Duration // age after which Status reports a dataset as stale
}

type options struct {
	now func() time.Time
}

// Option customizes a store
type Option func(*options)

// WithClock replaces the clock used to stamp snapshots and compute staleness
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open creates the configured backend
func Open(cfg Config, log zerolog.Logger, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg, log, opts...)
	case BackendSQLite:
		return NewSQLiteStore(cfg, log, opts...)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func missingStatus(kind models.DatasetKind) models.DatasetStatus {
	return models.DatasetStatus{Kind: kind}
}
