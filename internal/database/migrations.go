package database

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/codyseavey/mtg-finder/internal/models"
)

// cleanupDuplicateMarketRows removes duplicate market rows before the unique index is added.
// This runs BEFORE AutoMigrate to prevent constraint violations. The cheapest row wins.
func cleanupDuplicateMarketRows(db *gorm.DB, log zerolog.Logger) error {
	if !db.Migrator().HasTable("market_price_rows") {
		return nil
	}

	result := db.Exec(`
		DELETE FROM market_price_rows
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY canonical_name
					ORDER BY CAST(lowest_price AS REAL) ASC, id ASC
				) AS rn
				FROM market_price_rows
			) WHERE rn = 1
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Info().Int64("rows", result.RowsAffected).Msg("Cleaned up duplicate market price rows")
	}
	return nil
}

// RunMigrations runs data fixes after schema changes. Safe to run multiple times.
func RunMigrations(db *gorm.DB, log zerolog.Logger) error {
	return reconcileEntryCounts(db, log)
}

// reconcileEntryCounts repairs header counts that disagree with the stored rows,
// e.g. after the duplicate cleanup above removed market rows.
func reconcileEntryCounts(db *gorm.DB, log zerolog.Logger) error {
	counts := map[models.DatasetKind]string{
		models.DatasetRetailer: "listing_rows",
		models.DatasetMarket:   "market_price_rows",
	}
	for kind, table := range counts {
		result := db.Exec(`
			UPDATE snapshot_headers
			SET entry_count = (SELECT COUNT(*) FROM `+table+`)
			WHERE kind = ? AND entry_count <> (SELECT COUNT(*) FROM `+table+`)
		`, string(kind))
		if result.Error != nil {
			log.Warn().Err(result.Error).Str("dataset", string(kind)).Msg("Failed to reconcile snapshot entry count")
			continue
		}
		if result.RowsAffected > 0 {
			log.Info().Str("dataset", string(kind)).Msg("Reconciled snapshot entry count")
		}
	}
	return nil
}
