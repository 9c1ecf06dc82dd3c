package services

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
)

func marketPairs(t *testing.T, listings []models.CardListing, entries ...models.MarketPriceEntry) []models.MatchedPair[models.MarketPriceEntry] {
	t.Helper()
	return Match(listings, IndexMarketPrices(entries))
}

func TestComparator_Underpriced_SolRing(t *testing.T) {
	pairs := marketPairs(t,
		[]models.CardListing{
			listing("Sol Ring", "15", "https://www.outland.no/sol-ring"),
			listing("Sol Ring", "22", "https://www.outland.no/sol-ring-foil"),
		},
		marketEntry("Sol Ring", "4"),
	)
	if len(pairs) != 1 {
		t.Fatalf("expected one pair per canonical name, got %d", len(pairs))
	}

	engine := NewComparatorEngine(mustDecimal("11"))
	cards, err := engine.Underpriced(pairs, UnderpricedOptions{Threshold: 1.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []models.UnderpricedCard{{
		Name:             "Sol Ring",
		CanonicalName:    "sol ring",
		LocalPrice:       mustDecimal("15"),
		MarketPrice:      mustDecimal("4"),
		MarketPriceLocal: mustDecimal("44"),
		Ratio:            2.93,
		Savings:          mustDecimal("29.00"),
		PurchaseURL:      "https://www.outland.no/sol-ring",
	}}
	if diff := cmp.Diff(want, cards, decimalComparer); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestComparator_Underpriced_ThresholdIsMonotonic(t *testing.T) {
	pairs := marketPairs(t,
		[]models.CardListing{
			listing("Sol Ring", "15", "/a"),      // 44 / 15 = 2.93
			listing("Arcane Signet", "10", "/b"), // 16.5 / 10 = 1.65
			listing("Cultivate", "20", "/c"),     // 22 / 20 = 1.10
			listing("Swords to Plowshares", "11", "/d"),
		},
		marketEntry("Sol Ring", "4"),
		marketEntry("Arcane Signet", "1.5"),
		marketEntry("Cultivate", "2"),
		marketEntry("Swords to Plowshares", "2"), // 22 / 11 = 2.00 exactly
	)
	engine := NewComparatorEngine(mustDecimal("11"))

	loose, err := engine.Underpriced(pairs, UnderpricedOptions{Threshold: 1.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	strict, err := engine.Underpriced(pairs, UnderpricedOptions{Threshold: 2.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(loose) != 3 {
		t.Errorf("expected 3 cards at 1.3, got %d", len(loose))
	}
	if len(strict) != 2 {
		t.Errorf("expected 2 cards at 2.0 (boundary inclusive), got %d", len(strict))
	}

	inLoose := map[string]bool{}
	for _, c := range loose {
		inLoose[c.CanonicalName] = true
	}
	for _, c := range strict {
		if !inLoose[c.CanonicalName] {
			t.Errorf("%s passes the strict threshold but not the loose one", c.Name)
		}
		if c.Ratio < 2.0 {
			t.Errorf("%s has ratio %.2f below threshold", c.Name, c.Ratio)
		}
	}
}

func TestComparator_Underpriced_Sorting(t *testing.T) {
	pairs := marketPairs(t,
		[]models.CardListing{
			listing("Sol Ring", "15", "/a"),      // ratio 2.93, savings 29
			listing("Mana Crypt", "500", "/b"),   // ratio 2.20, savings 600
			listing("Arcane Signet", "10", "/c"), // ratio 1.65, savings 6.5
		},
		marketEntry("Sol Ring", "4"),
		marketEntry("Mana Crypt", "100"),
		marketEntry("Arcane Signet", "1.5"),
	)
	engine := NewComparatorEngine(mustDecimal("11"))

	tests := []struct {
		sort SortKey
		want []string
	}{
		{SortByRatio, []string{"Sol Ring", "Mana Crypt", "Arcane Signet"}},
		{"", []string{"Sol Ring", "Mana Crypt", "Arcane Signet"}},
		{SortBySavings, []string{"Mana Crypt", "Sol Ring", "Arcane Signet"}},
		{SortByName, []string{"Arcane Signet", "Mana Crypt", "Sol Ring"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			cards, err := engine.Underpriced(pairs, UnderpricedOptions{Threshold: 1.3, Sort: tt.sort})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []string
			for _, c := range cards {
				got = append(got, c.Name)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComparator_Underpriced_SortsOnUnroundedRatio(t *testing.T) {
	pairs := marketPairs(t,
		[]models.CardListing{
			listing("Arcane Signet", "1000", "/a"), // 2.931
			listing("Sol Ring", "1000", "/b"),      // 2.934
		},
		marketEntry("Arcane Signet", "2931"),
		marketEntry("Sol Ring", "2934"),
	)

	cards, err := NewComparatorEngine(decimal.NewFromInt(1)).Underpriced(pairs, UnderpricedOptions{Threshold: 1.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].Name != "Sol Ring" || cards[1].Name != "Arcane Signet" {
		t.Errorf("expected the higher true ratio first, got %s then %s", cards[0].Name, cards[1].Name)
	}
	if cards[0].Ratio != 2.93 || cards[1].Ratio != 2.93 {
		t.Errorf("expected both ratios reported as 2.93, got %.3f and %.3f", cards[0].Ratio, cards[1].Ratio)
	}
}

func TestComparator_Underpriced_MinLocalPrice(t *testing.T) {
	pairs := marketPairs(t,
		[]models.CardListing{
			listing("Sol Ring", "15", "/a"),
			listing("Llanowar Elves", "2", "/b"),
		},
		marketEntry("Sol Ring", "4"),
		marketEntry("Llanowar Elves", "1"),
	)
	engine := NewComparatorEngine(mustDecimal("11"))

	cards, err := engine.Underpriced(pairs, UnderpricedOptions{Threshold: 1.3, MinLocalPrice: mustDecimal("5")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cards) != 1 || cards[0].Name != "Sol Ring" {
		t.Errorf("expected only Sol Ring above the price floor, got %+v", cards)
	}
}

func TestValidateThreshold(t *testing.T) {
	tests := []struct {
		threshold float64
		valid     bool
	}{
		{1.3, true},
		{1.0001, true},
		{50, true},
		{1.0, false},
		{0.5, false},
		{-2, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, tt := range tests {
		err := ValidateThreshold(tt.threshold)
		if tt.valid && err != nil {
			t.Errorf("ValidateThreshold(%v): unexpected error %v", tt.threshold, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("ValidateThreshold(%v): expected ErrInvalidThreshold, got %v", tt.threshold, err)
		}
	}
}

func TestComparator_Underpriced_RejectsBadInput(t *testing.T) {
	engine := NewComparatorEngine(mustDecimal("11"))
	if _, err := engine.Underpriced(nil, UnderpricedOptions{Threshold: 1.0}); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold, got %v", err)
	}

	zero := NewComparatorEngine(decimal.Zero)
	if _, err := zero.Underpriced(nil, UnderpricedOptions{Threshold: 1.5}); err == nil {
		t.Error("expected error for a zero exchange rate")
	}
}

func TestComparator_Commander(t *testing.T) {
	listings := []models.CardListing{
		listing("Sol Ring", "15", "/a"),
		listing("Smothering Tithe", "250", "/b"),
		listing("Esper Sentinel", "20", "/c"),
		listing("Arcane Signet", "10", "/d"),
	}
	recs := IndexRecommendations([]models.RecommendationEntry{
		{CanonicalName: "smothering tithe", Name: "Smothering Tithe", SynergyPercentage: 40, Rank: 1},
		{CanonicalName: "esper sentinel", Name: "Esper Sentinel", SynergyPercentage: 35, Rank: 2},
		{CanonicalName: "sol ring", Name: "Sol Ring", SynergyPercentage: 5, Rank: 3},
		{CanonicalName: "arcane signet", Name: "Arcane Signet", SynergyPercentage: 5, Rank: 4},
	})
	engine := NewComparatorEngine(mustDecimal("11"))

	cards := engine.Commander(Match(listings, recs), mustDecimal("25"))
	var got []string
	for _, c := range cards {
		got = append(got, c.Name)
	}
	want := []string{"Esper Sentinel", "Arcane Signet", "Sol Ring"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	all := engine.Commander(Match(listings, recs), decimal.Zero)
	if len(all) != 4 {
		t.Errorf("expected no ceiling with zero max price, got %d cards", len(all))
	}
	if all[0].Name != "Smothering Tithe" || all[0].Rank != 1 {
		t.Errorf("expected Smothering Tithe first, got %+v", all[0])
	}
}

func TestPaginate(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i + 1
	}

	tests := []struct {
		name  string
		limit int
		page  int
		want  []int
	}{
		{"first page", 9, 1, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"second page", 9, 2, []int{10, 11, 12, 13, 14, 15, 16, 17, 18}},
		{"last partial page", 9, 3, []int{19, 20, 21, 22, 23, 24, 25}},
		{"past the end", 9, 4, []int{}},
		{"page below one", 9, 0, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"page whose offset wraps to zero", 4, 1<<62 + 1, []int{}},
		{"page whose offset wraps negative", 4, 1<<61 + 2, []int{}},
		{"max int page", 9, math.MaxInt, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Paginate(items, tt.limit, tt.page)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("page mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if got := Paginate(items, 0, 1); len(got) != 25 {
		t.Errorf("expected all items with no limit, got %d", len(got))
	}
}

func TestHasMorePages(t *testing.T) {
	tests := []struct {
		name               string
		total, limit, page int
		want               bool
	}{
		{"first of three pages", 20, 9, 1, true},
		{"second of three pages", 20, 9, 2, true},
		{"last page", 20, 9, 3, false},
		{"exact fit", 18, 9, 2, false},
		{"empty", 0, 9, 1, false},
		{"no limit", 20, 0, 1, false},
		{"max int page", 20, 9, math.MaxInt, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasMorePages(tt.total, tt.limit, tt.page); got != tt.want {
				t.Errorf("HasMorePages(%d, %d, %d) = %v, want %v", tt.total, tt.limit, tt.page, got, tt.want)
			}
		})
	}
}

func TestParseSortKey(t *testing.T) {
	for in, want := range map[string]SortKey{"": SortByRatio, "Ratio": SortByRatio, "savings": SortBySavings, " name ": SortByName} {
		got, err := ParseSortKey(in)
		if err != nil || got != want {
			t.Errorf("ParseSortKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseSortKey("price"); err == nil {
		t.Error("expected error for unknown sort key")
	}
}
