package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/store"
)

type fakeRetailer struct {
	calls    atomic.Int32
	listings []models.CardListing
	warnings []PartialAcquisitionWarning
	err      error
	block    chan struct{}
}

func (f *fakeRetailer) Acquire(ctx context.Context) (*AcquisitionResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &AcquisitionResult{
		RunID:        uuid.New(),
		Listings:     f.listings,
		PagesFetched: 1,
		PagesFailed:  len(f.warnings),
		Warnings:     f.warnings,
	}, nil
}

type fakeMarket struct {
	calls   atomic.Int32
	entries []models.MarketPriceEntry
	err     error
	floor   decimal.Decimal
}

func (f *fakeMarket) FetchPriceIndex(ctx context.Context, minPrice decimal.Decimal) (*PriceIndexResult, error) {
	f.calls.Add(1)
	f.floor = minPrice
	if f.err != nil {
		return nil, f.err
	}
	return &PriceIndexResult{RunID: uuid.New(), Index: IndexMarketPrices(f.entries), PagesFetched: 1}, nil
}

func newTestStore(t *testing.T, now time.Time) store.Store {
	t.Helper()
	st, err := store.NewFileStore(store.Config{DataDir: t.TempDir(), StaleAfter: 7 * 24 * time.Hour}, zerolog.Nop(), store.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var testNow = time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)

func TestUpdateService_UpdateRetailer(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{
		listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")},
		warnings: []PartialAcquisitionWarning{{Dataset: models.DatasetRetailer, Page: 5, Err: errors.New("status 500")}},
	}
	svc := NewUpdateService(retailer, &fakeMarket{}, st, mustDecimal("0.5"), zerolog.Nop())

	result, err := svc.UpdateRetailer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entries != 1 || result.PagesFailed != 1 || len(result.Warnings) != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if !result.CollectedAt.Equal(testNow) {
		t.Errorf("expected collected at %s, got %s", testNow, result.CollectedAt)
	}

	snap, err := st.Load(context.Background(), models.DatasetRetailer)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.Listings) != 1 || snap.Listings[0].CanonicalName != "sol ring" {
		t.Errorf("unexpected snapshot listings %+v", snap.Listings)
	}
}

func TestUpdateService_UpdateMarketPassesFloor(t *testing.T) {
	st := newTestStore(t, testNow)
	market := &fakeMarket{entries: []models.MarketPriceEntry{marketEntry("Sol Ring", "4"), marketEntry("Mana Crypt", "100")}}
	svc := NewUpdateService(&fakeRetailer{}, market, st, mustDecimal("0.5"), zerolog.Nop())

	result, err := svc.Update(context.Background(), models.DatasetMarket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", result.Entries)
	}
	if !market.floor.Equal(mustDecimal("0.5")) {
		t.Errorf("expected price floor 0.5, got %s", market.floor)
	}
}

func TestUpdateService_RejectsConcurrentUpdate(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{
		listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")},
		block:    make(chan struct{}),
	}
	svc := NewUpdateService(retailer, &fakeMarket{}, st, decimal.Zero, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.UpdateRetailer(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !svc.IsRunning(models.DatasetRetailer) {
		if time.Now().After(deadline) {
			t.Fatal("first update never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.UpdateRetailer(context.Background()); !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("expected ErrUpdateInProgress, got %v", err)
	}
	if svc.IsRunning(models.DatasetMarket) {
		t.Error("market update should not be marked running")
	}

	close(retailer.block)
	if err := <-done; err != nil {
		t.Errorf("first update failed: %v", err)
	}
	if svc.IsRunning(models.DatasetRetailer) {
		t.Error("expected running flag to be cleared")
	}
}

func TestUpdateService_FailedUpdateKeepsPreviousSnapshot(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}}
	svc := NewUpdateService(retailer, &fakeMarket{}, st, decimal.Zero, zerolog.Nop())

	if _, err := svc.UpdateRetailer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retailer.err = &AcquisitionError{Dataset: models.DatasetRetailer, Err: errors.New("no listings collected")}
	if _, err := svc.UpdateRetailer(context.Background()); err == nil {
		t.Fatal("expected failed update")
	}

	snap, err := st.Load(context.Background(), models.DatasetRetailer)
	if err != nil {
		t.Fatalf("previous snapshot should survive a failed update: %v", err)
	}
	if len(snap.Listings) != 1 {
		t.Errorf("expected previous snapshot with 1 listing, got %d", len(snap.Listings))
	}
}

func TestUpdateService_UpdateAllReportsEachDataset(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}}
	market := &fakeMarket{err: &AcquisitionError{Dataset: models.DatasetMarket, Err: errors.New("scryfall down")}}
	svc := NewUpdateService(retailer, market, st, decimal.Zero, zerolog.Nop())

	results, err := svc.UpdateAll(context.Background())
	if len(results) != 1 || results[0].Dataset != models.DatasetRetailer {
		t.Errorf("expected only the retailer result, got %+v", results)
	}
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Dataset != models.DatasetMarket {
		t.Errorf("expected market AcquisitionError, got %v", err)
	}
}

func TestUpdateService_EnsureInitialized(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}}
	market := &fakeMarket{entries: []models.MarketPriceEntry{marketEntry("Sol Ring", "4")}}
	svc := NewUpdateService(retailer, market, st, decimal.Zero, zerolog.Nop())

	if _, err := svc.UpdateRetailer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retailer.calls.Load() != 1 {
		t.Errorf("existing retailer snapshot should not be re-acquired, got %d calls", retailer.calls.Load())
	}
	if market.calls.Load() != 1 {
		t.Errorf("missing market snapshot should be acquired once, got %d calls", market.calls.Load())
	}

	if err := svc.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if market.calls.Load() != 1 {
		t.Errorf("second call should be a no-op, got %d market calls", market.calls.Load())
	}
}

func TestUpdateJob(t *testing.T) {
	st := newTestStore(t, testNow)
	retailer := &fakeRetailer{listings: []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}}
	market := &fakeMarket{entries: []models.MarketPriceEntry{marketEntry("Sol Ring", "4")}}
	job := NewUpdateJob(NewUpdateService(retailer, market, st, decimal.Zero, zerolog.Nop()), time.Minute, zerolog.Nop())

	if job.Name() != UpdateJobName {
		t.Errorf("expected job name %q, got %q", UpdateJobName, job.Name())
	}
	if err := job.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, kind := range models.AllDatasetKinds() {
		status, err := st.Status(context.Background(), kind)
		if err != nil || !status.Exists {
			t.Errorf("expected %s snapshot after job run, got %+v %v", kind, status, err)
		}
	}
}
