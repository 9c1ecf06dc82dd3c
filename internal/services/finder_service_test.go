package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/store"
)

type staticRate decimal.Decimal

func (r staticRate) LocalPerReference(ctx context.Context) decimal.Decimal {
	return decimal.Decimal(r)
}

type fakeRecommendations struct {
	calls    atomic.Int32
	entries  []models.RecommendationEntry
	err      error
	lastURL  string
	lastTier models.BudgetTier
}

func (f *fakeRecommendations) Fetch(ctx context.Context, commanderURL string, limit int, tier models.BudgetTier) ([]models.RecommendationEntry, error) {
	f.calls.Add(1)
	f.lastURL = commanderURL
	f.lastTier = tier
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

type fakeCommanderSearch []string

func (f fakeCommanderSearch) SearchCommanders(ctx context.Context, query string) ([]string, error) {
	return f, nil
}

func seedSnapshots(t *testing.T, st store.Store, listings []models.CardListing, prices []models.MarketPriceEntry) {
	t.Helper()
	ctx := context.Background()
	if listings != nil {
		if _, err := st.Save(ctx, models.Snapshot{Kind: models.DatasetRetailer, Listings: listings}); err != nil {
			t.Fatalf("failed to seed retailer snapshot: %v", err)
		}
	}
	if prices != nil {
		if _, err := st.Save(ctx, models.Snapshot{Kind: models.DatasetMarket, MarketPrices: prices}); err != nil {
			t.Fatalf("failed to seed market snapshot: %v", err)
		}
	}
}

func newTestFinder(st store.Store, recs RecommendationSource, cache *RecommendationCache) *FinderService {
	return NewFinderService(st, staticRate(mustDecimal("11")), recs, fakeCommanderSearch{"Atraxa, Praetors' Voice"}, cache, FinderConfig{
		MinLocalPrice:     mustDecimal("5"),
		BudgetMaxPrice:    mustDecimal("20"),
		ExpensiveMinPrice: mustDecimal("200"),
	}, zerolog.Nop())
}

func TestFinder_Underpriced(t *testing.T) {
	st := newTestStore(t, testNow)
	outOfStock := listing("Mana Crypt", "500", "/mana-crypt")
	outOfStock.InStock = false
	seedSnapshots(t, st,
		[]models.CardListing{
			listing("Sol Ring", "15", "/sol-ring"),
			listing("Cultivate", "20", "/cultivate"),
			outOfStock,
		},
		[]models.MarketPriceEntry{
			marketEntry("Sol Ring", "4"),
			marketEntry("Cultivate", "2"),
			marketEntry("Mana Crypt", "100"),
		},
	)

	result, err := newTestFinder(st, &fakeRecommendations{}, nil).Underpriced(context.Background(), 1.3, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Count != 1 || result.Cards[0].Name != "Sol Ring" {
		t.Errorf("expected only Sol Ring, got %+v", result.Cards)
	}
	if result.Sort != SortByRatio {
		t.Errorf("expected default sort ratio, got %s", result.Sort)
	}
	if !result.ExchangeRate.Equal(mustDecimal("11")) {
		t.Errorf("expected rate 11 in result, got %s", result.ExchangeRate)
	}
	if len(result.Missing) != 0 {
		t.Errorf("expected no missing datasets, got %v", result.Missing)
	}
}

func TestFinder_Underpriced_FloorAppliesBeforeCheapestListing(t *testing.T) {
	st := newTestStore(t, testNow)
	seedSnapshots(t, st,
		[]models.CardListing{
			listing("Sol Ring", "3", "/sol-ring-damaged"),
			listing("Sol Ring", "15", "/sol-ring"),
		},
		[]models.MarketPriceEntry{marketEntry("Sol Ring", "4")},
	)

	result, err := newTestFinder(st, &fakeRecommendations{}, nil).Underpriced(context.Background(), 1.3, SortByRatio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("expected the 15 NOK listing to be reported, got %+v", result.Cards)
	}
	card := result.Cards[0]
	if !card.LocalPrice.Equal(mustDecimal("15")) || card.PurchaseURL != "/sol-ring" {
		t.Errorf("expected the listing above the floor, got %s at %s", card.LocalPrice, card.PurchaseURL)
	}
	if card.Ratio != 2.93 {
		t.Errorf("expected ratio 2.93, got %.2f", card.Ratio)
	}
}

func TestFinder_Underpriced_MissingSnapshots(t *testing.T) {
	st := newTestStore(t, testNow)
	seedSnapshots(t, st, []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}, nil)

	result, err := newTestFinder(st, &fakeRecommendations{}, nil).Underpriced(context.Background(), 1.3, SortByName)
	if err != nil {
		t.Fatalf("missing snapshot should not be an error, got %v", err)
	}
	if result.Cards == nil || len(result.Cards) != 0 {
		t.Errorf("expected empty non-nil cards, got %v", result.Cards)
	}
	if diff := cmp.Diff([]models.DatasetKind{models.DatasetMarket}, result.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestFinder_Underpriced_InvalidThreshold(t *testing.T) {
	st := newTestStore(t, testNow)
	_, err := newTestFinder(st, &fakeRecommendations{}, nil).Underpriced(context.Background(), 0.9, SortByRatio)
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold, got %v", err)
	}
}

func commanderFixture(n int) ([]models.CardListing, []models.RecommendationEntry) {
	var listings []models.CardListing
	var recs []models.RecommendationEntry
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("Card %02d", i)
		listings = append(listings, listing(name, "10", "/"+CommanderSlug(name)))
		recs = append(recs, models.RecommendationEntry{
			CanonicalName:     NormalizeCardName(name),
			Name:              name,
			SynergyPercentage: float64(100 - i),
			Rank:              i,
		})
	}
	return listings, recs
}

func TestFinder_CommanderSearch_Paging(t *testing.T) {
	st := newTestStore(t, testNow)
	listings, recs := commanderFixture(20)
	listings = append(listings, listing("Expensive Card", "300", "/expensive"))
	recs = append(recs, models.RecommendationEntry{CanonicalName: "expensive card", Name: "Expensive Card", SynergyPercentage: 99.5, Rank: 21})
	seedSnapshots(t, st, listings, nil)

	finder := newTestFinder(st, &fakeRecommendations{entries: recs}, nil)
	result, err := finder.CommanderSearch(context.Background(), CommanderQuery{
		URL:      "https://edhrec.com/commanders/atraxa-praetors-voice",
		MaxPrice: mustDecimal("25"),
		Limit:    9,
		Page:     2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for _, c := range result.Cards {
		got = append(got, c.Name)
	}
	want := []string{"Card 10", "Card 11", "Card 12", "Card 13", "Card 14", "Card 15", "Card 16", "Card 17", "Card 18"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("page 2 mismatch (-want +got):\n%s", diff)
	}
	if result.Total != 20 {
		t.Errorf("expected 20 affordable cards, got %d", result.Total)
	}
	if !result.HasMore {
		t.Error("expected more results after page 2")
	}
	if result.Tier != models.BudgetTierAny {
		t.Errorf("expected tier any, got %s", result.Tier)
	}

	last, err := finder.CommanderSearch(context.Background(), CommanderQuery{
		URL:      "https://edhrec.com/commanders/atraxa-praetors-voice",
		MaxPrice: mustDecimal("25"),
		Limit:    9,
		Page:     3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(last.Cards) != 2 || last.HasMore {
		t.Errorf("expected final page of 2 without more, got %d cards has_more=%v", len(last.Cards), last.HasMore)
	}

	far, err := finder.CommanderSearch(context.Background(), CommanderQuery{
		URL:      "https://edhrec.com/commanders/atraxa-praetors-voice",
		MaxPrice: mustDecimal("25"),
		Limit:    9,
		Page:     math.MaxInt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(far.Cards) != 0 || far.HasMore {
		t.Errorf("expected an empty page far past the end, got %d cards has_more=%v", len(far.Cards), far.HasMore)
	}
}

func TestFinder_CommanderSearch_CachesRecommendations(t *testing.T) {
	st := newTestStore(t, testNow)
	listings, entries := commanderFixture(3)
	seedSnapshots(t, st, listings, nil)

	recs := &fakeRecommendations{entries: entries}
	finder := newTestFinder(st, recs, NewRecommendationCache(8, time.Hour))

	q := CommanderQuery{Name: "Atraxa, Praetors' Voice", MaxPrice: decimal.Zero}
	for i := 0; i < 3; i++ {
		if _, err := finder.CommanderSearch(context.Background(), q); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if recs.calls.Load() != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", recs.calls.Load())
	}
	if recs.lastURL != "https://edhrec.com/commanders/atraxa-praetors-voice" {
		t.Errorf("expected url built from name, got %s", recs.lastURL)
	}

	q.Tier = models.BudgetTierBudget
	if _, err := finder.CommanderSearch(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs.calls.Load() != 2 {
		t.Errorf("a different tier should miss the cache, got %d fetches", recs.calls.Load())
	}
}

func TestFinder_CommanderSearch_AutoTier(t *testing.T) {
	st := newTestStore(t, testNow)
	listings, entries := commanderFixture(2)
	seedSnapshots(t, st, listings, nil)

	recs := &fakeRecommendations{entries: entries}
	result, err := newTestFinder(st, recs, nil).CommanderSearch(context.Background(), CommanderQuery{
		Name:     "Krenko, Mob Boss",
		MaxPrice: mustDecimal("15"),
		AutoTier: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tier != models.BudgetTierBudget || recs.lastTier != models.BudgetTierBudget {
		t.Errorf("expected budget tier for a 15 ceiling, got result %s fetch %s", result.Tier, recs.lastTier)
	}
}

func TestFinder_CommanderSearch_Errors(t *testing.T) {
	st := newTestStore(t, testNow)

	t.Run("missing commander", func(t *testing.T) {
		_, err := newTestFinder(st, &fakeRecommendations{}, nil).CommanderSearch(context.Background(), CommanderQuery{})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := newTestFinder(st, &fakeRecommendations{}, nil).CommanderSearch(context.Background(), CommanderQuery{URL: "https://example.com/x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown commander", func(t *testing.T) {
		recs := &fakeRecommendations{err: &NotFoundError{Resource: "commander", Key: "x"}}
		_, err := newTestFinder(st, recs, nil).CommanderSearch(context.Background(), CommanderQuery{Name: "Nobody"})
		if !IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("missing retailer snapshot", func(t *testing.T) {
		_, entries := commanderFixture(2)
		result, err := newTestFinder(st, &fakeRecommendations{entries: entries}, nil).CommanderSearch(context.Background(), CommanderQuery{Name: "Krenko"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Cards) != 0 || len(result.Missing) != 1 || result.Missing[0] != models.DatasetRetailer {
			t.Errorf("expected empty result with retailer missing, got %+v", result)
		}
	})
}

func TestFinder_DatabaseStatus(t *testing.T) {
	st := newTestStore(t, testNow)
	seedSnapshots(t, st, []models.CardListing{listing("Sol Ring", "15", "/sol-ring")}, nil)

	next := testNow.Add(48 * time.Hour)
	finder := NewFinderService(st, staticRate(mustDecimal("11")), &fakeRecommendations{}, nil, nil, FinderConfig{
		AutoUpdate: true,
		NextUpdate: func() (time.Time, bool) { return next, true },
	}, zerolog.Nop())

	status, err := finder.DatabaseStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Datasets[models.DatasetRetailer].Exists || status.Datasets[models.DatasetRetailer].EntryCount != 1 {
		t.Errorf("unexpected retailer status %+v", status.Datasets[models.DatasetRetailer])
	}
	if status.Datasets[models.DatasetMarket].Exists {
		t.Error("expected market dataset to be missing")
	}
	if status.NextScheduledUpdate == nil || !status.NextScheduledUpdate.Equal(next) {
		t.Errorf("expected next update %s, got %v", next, status.NextScheduledUpdate)
	}

	suggestions, err := finder.SearchCommanders(context.Background(), "atr")
	if err != nil || len(suggestions) != 0 {
		t.Errorf("expected no suggestions without a searcher, got %v %v", suggestions, err)
	}
}
