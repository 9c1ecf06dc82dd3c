package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SnapshotHeader is one row per dataset kind, written last in the save transaction
type SnapshotHeader struct {
	Kind        string    `gorm:"primaryKey"`
	CollectedAt time.Time `gorm:"not null"`
	EntryCount  int       `gorm:"not null"`
	UpdatedAt   time.Time
}

// ListingRow stores one retailer listing of the current retailer snapshot
type ListingRow struct {
	ID            uint            `gorm:"primaryKey"`
	RawName       string          `gorm:"not null"`
	CanonicalName string          `gorm:"not null;index"`
	LocalPrice    decimal.Decimal `gorm:"type:text;not null"`
	PurchaseURL   string          `gorm:"not null"`
	RetailerID    string
	InStock       bool
}

// MarketPriceRow stores the lowest market price for one canonical name
type MarketPriceRow struct {
	ID            uint            `gorm:"primaryKey"`
	CanonicalName string          `gorm:"not null;uniqueIndex:idx_market_canonical"`
	Name          string          `gorm:"not null"`
	LowestPrice   decimal.Decimal `gorm:"type:text;not null"`
	SourceID      string          `gorm:"not null"`
}

// Open connects to the SQLite file at dbPath and brings the schema up to date
func Open(dbPath string, log zerolog.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log.Debug().Str("path", dbPath).Msg("Database connected")

	if err := cleanupDuplicateMarketRows(db, log); err != nil {
		return nil, fmt.Errorf("failed to clean up market rows: %w", err)
	}

	if err := db.AutoMigrate(&SnapshotHeader{}, &ListingRow{}, &MarketPriceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := RunMigrations(db, log); err != nil {
		return nil, err
	}

	log.Debug().Msg("Database migration completed")
	return db, nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
