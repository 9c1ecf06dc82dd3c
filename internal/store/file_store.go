package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/codyseavey/mtg-finder/internal/models"
)

type codec struct {
	ext       string
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

var codecs = map[string]codec{
	FormatJSON:    {ext: ".json", marshal: json.Marshal, unmarshal: json.Unmarshal},
	FormatMsgpack: {ext: ".msgpack", marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal},
}

type cachedSnapshot struct {
	modTime time.Time
	size    int64
	snap    *models.Snapshot
}

// FileStore keeps one file per dataset kind in a directory.
// Saves go through a temp file and a rename so a crash never leaves a partial snapshot.
type FileStore struct {
	dir        string
	codec      codec
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger

	saveMu sync.Map // models.DatasetKind -> *sync.Mutex

	cacheMu sync.RWMutex
	cache   map[models.DatasetKind]cachedSnapshot
}

// NewFileStore creates a file-backed store in cfg.DataDir
func NewFileStore(cfg Config, log zerolog.Logger, opts ...Option) (*FileStore, error) {
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	c, ok := codecs[format]
	if !ok {
		return nil, fmt.Errorf("unknown snapshot format %q", cfg.Format)
	}
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	o := buildOptions(opts)
	return &FileStore{
		dir:        cfg.DataDir,
		codec:      c,
		staleAfter: cfg.StaleAfter,
		now:        o.now,
		log:        log.With().Str("component", "file_store").Logger(),
		cache:      make(map[models.DatasetKind]cachedSnapshot),
	}, nil
}

func (s *FileStore) path(kind models.DatasetKind) string {
	return filepath.Join(s.dir, string(kind)+"_snapshot"+s.codec.ext)
}

func (s *FileStore) lockFor(kind models.DatasetKind) *sync.Mutex {
	mu, _ := s.saveMu.LoadOrStore(kind, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Load returns the latest snapshot of kind
func (s *FileStore) Load(ctx context.Context, kind models.DatasetKind) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.path(kind)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	s.cacheMu.RLock()
	cached, ok := s.cache[kind]
	s.cacheMu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.snap, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := s.codec.unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", kind, err)
	}
	if snap.Kind != kind {
		return nil, fmt.Errorf("snapshot file %s holds %q data", filepath.Base(path), snap.Kind)
	}

	s.cacheMu.Lock()
	s.cache[kind] = cachedSnapshot{modTime: info.ModTime(), size: info.Size(), snap: &snap}
	s.cacheMu.Unlock()

	return &snap, nil
}

// Save validates and atomically replaces the snapshot of snap.Kind
func (s *FileStore) Save(ctx context.Context, snap models.Snapshot) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if err := snap.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("invalid %s snapshot: %w", snap.Kind, err)
	}

	mu := s.lockFor(snap.Kind)
	mu.Lock()
	defer mu.Unlock()

	snap.CollectedAt = s.now().UTC()
	data, err := s.codec.marshal(&snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := s.path(snap.Kind)
	if err := writeFileAtomic(path, data); err != nil {
		return time.Time{}, err
	}

	if info, err := os.Stat(path); err == nil {
		stored := snap
		s.cacheMu.Lock()
		s.cache[snap.Kind] = cachedSnapshot{modTime: info.ModTime(), size: info.Size(), snap: &stored}
		s.cacheMu.Unlock()
	}

	s.log.Info().
		Str("dataset", string(snap.Kind)).
		Int("entries", snap.Len()).
		Str("path", path).
		Msg("Saved snapshot")
	return snap.CollectedAt, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Status reports the age and size of the snapshot of kind
func (s *FileStore) Status(ctx context.Context, kind models.DatasetKind) (models.DatasetStatus, error) {
	snap, err := s.Load(ctx, kind)
	if errors.Is(err, ErrNotFound) {
		return missingStatus(kind), nil
	}
	if err != nil {
		return models.DatasetStatus{}, err
	}
	return models.NewDatasetStatus(kind, snap.CollectedAt, snap.Len(), s.now(), s.staleAfter), nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error { return nil }
