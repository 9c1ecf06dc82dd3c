package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/codyseavey/mtg-finder/internal/database"
	"github.com/codyseavey/mtg-finder/internal/models"
)

const insertBatchSize = 500

// SQLiteStore keeps snapshots in SQLite. Each save replaces all rows of a kind and its
// header inside one transaction.
type SQLiteStore struct {
	db         *gorm.DB
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger

	saveMu sync.Map // models.DatasetKind -> *sync.Mutex
}

// NewSQLiteStore opens (and migrates) the database at cfg.DBPath
func NewSQLiteStore(cfg Config, log zerolog.Logger, opts ...Option) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := database.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &SQLiteStore{
		db:         db,
		staleAfter: cfg.StaleAfter,
		now:        o.now,
		log:        log.With().Str("component", "sqlite_store").Logger(),
	}, nil
}

func (s *SQLiteStore) lockFor(kind models.DatasetKind) *sync.Mutex {
	mu, _ := s.saveMu.LoadOrStore(kind, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *SQLiteStore) header(ctx context.Context, tx *gorm.DB, kind models.DatasetKind) (*database.SnapshotHeader, error) {
	var h database.SnapshotHeader
	err := tx.WithContext(ctx).Where("kind = ?", string(kind)).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s snapshot header: %w", kind, err)
	}
	return &h, nil
}

// Load returns the latest snapshot of kind
func (s *SQLiteStore) Load(ctx context.Context, kind models.DatasetKind) (*models.Snapshot, error) {
	var snap *models.Snapshot

	// Read header and rows in one transaction so a concurrent save is never seen half-way
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := s.header(ctx, tx, kind)
		if err != nil {
			return err
		}
		snap = &models.Snapshot{Kind: kind, CollectedAt: h.CollectedAt.UTC()}

		switch kind {
		case models.DatasetRetailer:
			var rows []database.ListingRow
			if err := tx.Order("id").Find(&rows).Error; err != nil {
				return fmt.Errorf("failed to read listings: %w", err)
			}
			snap.Listings = make([]models.CardListing, len(rows))
			for i, r := range rows {
				snap.Listings[i] = models.CardListing{
					RawName:       r.RawName,
					CanonicalName: r.CanonicalName,
					LocalPrice:    r.LocalPrice,
					PurchaseURL:   r.PurchaseURL,
					RetailerID:    r.RetailerID,
					InStock:       r.InStock,
				}
			}
		case models.DatasetMarket:
			var rows []database.MarketPriceRow
			if err := tx.Order("id").Find(&rows).Error; err != nil {
				return fmt.Errorf("failed to read market prices: %w", err)
			}
			snap.MarketPrices = make([]models.MarketPriceEntry, len(rows))
			for i, r := range rows {
				snap.MarketPrices[i] = models.MarketPriceEntry{
					CanonicalName: r.CanonicalName,
					Name:          r.Name,
					LowestPrice:   r.LowestPrice,
					SourceID:      r.SourceID,
				}
			}
		default:
			return fmt.Errorf("unknown dataset kind %q", kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save validates and replaces the snapshot of snap.Kind in one transaction
func (s *SQLiteStore) Save(ctx context.Context, snap models.Snapshot) (time.Time, error) {
	if err := snap.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("invalid %s snapshot: %w", snap.Kind, err)
	}

	mu := s.lockFor(snap.Kind)
	mu.Lock()
	defer mu.Unlock()

	collectedAt := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})

		switch snap.Kind {
		case models.DatasetRetailer:
			if err := all.Delete(&database.ListingRow{}).Error; err != nil {
				return fmt.Errorf("failed to clear listings: %w", err)
			}
			rows := make([]database.ListingRow, len(snap.Listings))
			for i, l := range snap.Listings {
				rows[i] = database.ListingRow{
					RawName:       l.RawName,
					CanonicalName: l.CanonicalName,
					LocalPrice:    l.LocalPrice,
					PurchaseURL:   l.PurchaseURL,
					RetailerID:    l.RetailerID,
					InStock:       l.InStock,
				}
			}
			if len(rows) > 0 {
				if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
					return fmt.Errorf("failed to insert listings: %w", err)
				}
			}
		case models.DatasetMarket:
			if err := all.Delete(&database.MarketPriceRow{}).Error; err != nil {
				return fmt.Errorf("failed to clear market prices: %w", err)
			}
			rows := make([]database.MarketPriceRow, len(snap.MarketPrices))
			for i, e := range snap.MarketPrices {
				rows[i] = database.MarketPriceRow{
					CanonicalName: e.CanonicalName,
					Name:          e.Name,
					LowestPrice:   e.LowestPrice,
					SourceID:      e.SourceID,
				}
			}
			if len(rows) > 0 {
				if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
					return fmt.Errorf("failed to insert market prices: %w", err)
				}
			}
		}

		header := database.SnapshotHeader{
			Kind:        string(snap.Kind),
			CollectedAt: collectedAt,
			EntryCount:  snap.Len(),
		}
		if err := tx.Save(&header).Error; err != nil {
			return fmt.Errorf("failed to write snapshot header: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	s.log.Info().Str("dataset", string(snap.Kind)).Int("entries", snap.Len()).Msg("Saved snapshot")
	return collectedAt, nil
}

// Status reads only the header row
func (s *SQLiteStore) Status(ctx context.Context, kind models.DatasetKind) (models.DatasetStatus, error) {
	h, err := s.header(ctx, s.db, kind)
	if errors.Is(err, ErrNotFound) {
		return missingStatus(kind), nil
	}
	if err != nil {
		return models.DatasetStatus{}, err
	}
	return models.NewDatasetStatus(kind, h.CollectedAt.UTC(), h.EntryCount, s.now(), s.staleAfter), nil
}

// Close releases the database connection
func (s *SQLiteStore) Close() error {
	return database.Close(s.db)
}
