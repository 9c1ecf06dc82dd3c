package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/mtg-finder/internal/metrics"
	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/store"
)

// RetailerAcquirer produces the full retailer catalog
type RetailerAcquirer interface {
	Acquire(ctx context.Context) (*AcquisitionResult, error)
}

// MarketIndexer produces the market price index
type MarketIndexer interface {
	FetchPriceIndex(ctx context.Context, minPrice decimal.Decimal) (*PriceIndexResult, error)
}

// UpdateResult summarizes one dataset refresh
type UpdateResult struct {
	Dataset      models.DatasetKind `json:"dataset"`
	RunID        uuid.UUID          `json:"run_id"`
	Entries      int                `json:"entries"`
	CollectedAt  time.Time          `json:"collected_at"`
	PagesFetched int                `json:"pages_fetched"`
	PagesFailed  int                `json:"pages_failed"`
	Warnings     []string           `json:"warnings,omitempty"`
	Truncated    bool               `json:"truncated"`
	Duration     time.Duration      `json:"duration"`
}

// UpdateService acquires datasets and replaces their snapshots in the store
type UpdateService struct {
	retailer RetailerAcquirer
	market   MarketIndexer
	store    store.Store
	minPrice decimal.Decimal
	log      zerolog.Logger

	mu      sync.Mutex
	running map[models.DatasetKind]bool
}

// NewUpdateService creates an update orchestrator. minPrice is the market index floor.
func NewUpdateService(retailer RetailerAcquirer, market MarketIndexer, st store.Store, minPrice decimal.Decimal, log zerolog.Logger) *UpdateService {
	return &UpdateService{
		retailer: retailer,
		market:   market,
		store:    st,
		minPrice: minPrice,
		log:      log.With().Str("component", "updater").Logger(),
		running:  make(map[models.DatasetKind]bool),
	}
}

// IsRunning returns whether an update of kind is in progress
func (s *UpdateService) IsRunning(kind models.DatasetKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[kind]
}

func (s *UpdateService) begin(kind models.DatasetKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[kind] {
		return fmt.Errorf("%s: %w", kind, ErrUpdateInProgress)
	}
	s.running[kind] = true
	return nil
}

func (s *UpdateService) end(kind models.DatasetKind) {
	s.mu.Lock()
	s.running[kind] = false
	s.mu.Unlock()
}

// Update refreshes one dataset
func (s *UpdateService) Update(ctx context.Context, kind models.DatasetKind) (*UpdateResult, error) {
	switch kind {
	case models.DatasetRetailer:
		return s.UpdateRetailer(ctx)
	case models.DatasetMarket:
		return s.UpdateMarket(ctx)
	default:
		return nil, fmt.Errorf("unknown dataset %q", kind)
	}
}

// UpdateRetailer crawls the retailer catalog and saves it as the new retailer snapshot.
// Out-of-stock listings are kept; queries filter them.
func (s *UpdateService) UpdateRetailer(ctx context.Context) (*UpdateResult, error) {
	if err := s.begin(models.DatasetRetailer); err != nil {
		return nil, err
	}
	defer s.end(models.DatasetRetailer)

	acq, err := s.retailer.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	snap := models.Snapshot{Kind: models.DatasetRetailer, Listings: acq.Listings}
	collectedAt, err := s.save(ctx, snap)
	if err != nil {
		return nil, err
	}

	return &UpdateResult{
		Dataset:      models.DatasetRetailer,
		RunID:        acq.RunID,
		Entries:      len(acq.Listings),
		CollectedAt:  collectedAt,
		PagesFetched: acq.PagesFetched,
		PagesFailed:  acq.PagesFailed,
		Warnings:     warningStrings(acq.Warnings),
		Truncated:    acq.Truncated,
		Duration:     acq.Duration,
	}, nil
}

// UpdateMarket rebuilds the market price index and saves it as the new market snapshot
func (s *UpdateService) UpdateMarket(ctx context.Context) (*UpdateResult, error) {
	if err := s.begin(models.DatasetMarket); err != nil {
		return nil, err
	}
	defer s.end(models.DatasetMarket)

	idx, err := s.market.FetchPriceIndex(ctx, s.minPrice)
	if err != nil {
		return nil, err
	}

	entries := idx.Entries()
	snap := models.Snapshot{Kind: models.DatasetMarket, MarketPrices: entries}
	collectedAt, err := s.save(ctx, snap)
	if err != nil {
		return nil, err
	}

	return &UpdateResult{
		Dataset:      models.DatasetMarket,
		RunID:        idx.RunID,
		Entries:      len(entries),
		CollectedAt:  collectedAt,
		PagesFetched: idx.PagesFetched,
		Warnings:     warningStrings(idx.Warnings),
		Truncated:    idx.Truncated,
		Duration:     idx.Duration,
	}, nil
}

func (s *UpdateService) save(ctx context.Context, snap models.Snapshot) (time.Time, error) {
	collectedAt, err := s.store.Save(ctx, snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to save %s snapshot: %w", snap.Kind, err)
	}
	metrics.SnapshotEntries.WithLabelValues(string(snap.Kind)).Set(float64(snap.Len()))
	metrics.SnapshotCollectedAt.WithLabelValues(string(snap.Kind)).Set(float64(collectedAt.Unix()))
	return collectedAt, nil
}

// UpdateAll refreshes both datasets concurrently. Each dataset succeeds or fails on its own;
// the returned results hold the successful updates and the error joins the failures.
func (s *UpdateService) UpdateAll(ctx context.Context) ([]*UpdateResult, error) {
	kinds := models.AllDatasetKinds()
	results := make([]*UpdateResult, len(kinds))
	errs := make([]error, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			results[i], errs[i] = s.Update(ctx, kind)
			if errs[i] != nil {
				s.log.Error().Err(errs[i]).Str("dataset", string(kind)).Msg("Dataset update failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	var done []*UpdateResult
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}
	return done, errors.Join(errs...)
}

// EnsureInitialized acquires every dataset that has no snapshot yet
func (s *UpdateService) EnsureInitialized(ctx context.Context) error {
	var errs []error
	for _, kind := range models.AllDatasetKinds() {
		status, err := s.store.Status(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to check %s snapshot: %w", kind, err))
			continue
		}
		if status.Exists {
			s.log.Debug().Str("dataset", string(kind)).Int("entries", status.EntryCount).Msg("Snapshot present")
			continue
		}

		s.log.Info().Str("dataset", string(kind)).Msg("No snapshot found, running first acquisition")
		if _, err := s.Update(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func warningStrings(warnings []PartialAcquisitionWarning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Error()
	}
	return out
}

// UpdateJob runs a full dataset update on a schedule
type UpdateJob struct {
	updater *UpdateService
	timeout time.Duration
	log     zerolog.Logger
}

// NewUpdateJob creates a scheduled update job. timeout bounds one run, 0 means none.
func NewUpdateJob(updater *UpdateService, timeout time.Duration, log zerolog.Logger) *UpdateJob {
	return &UpdateJob{
		updater: updater,
		timeout: timeout,
		log:     log.With().Str("job", UpdateJobName).Logger(),
	}
}

// UpdateJobName is the scheduler name of the weekly update
const UpdateJobName = "dataset_update"

// Name returns the job name
func (j *UpdateJob) Name() string {
	return UpdateJobName
}

// Run updates both datasets
func (j *UpdateJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	results, err := j.updater.UpdateAll(ctx)
	for _, r := range results {
		j.log.Info().
			Str("dataset", string(r.Dataset)).
			Int("entries", r.Entries).
			Int("warnings", len(r.Warnings)).
			Msg("Dataset updated")
	}
	return err
}
