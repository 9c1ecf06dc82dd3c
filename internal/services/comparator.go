package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
)

// SortKey selects the order of underpriced results
type SortKey string

const (
	SortByRatio   SortKey = "ratio"
	SortBySavings SortKey = "savings"
	SortByName    SortKey = "name"
)

// ParseSortKey maps user input to a SortKey. Empty input means ratio.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ratio":
		return SortByRatio, nil
	case "savings":
		return SortBySavings, nil
	case "name":
		return SortByName, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// UnderpricedOptions filters and orders an underpriced comparison
type UnderpricedOptions struct {
	Threshold     float64
	Sort          SortKey
	MinLocalPrice decimal.Decimal // listings at or below this local price are ignored
}

// ComparatorEngine ranks matched pairs. The conversion factor is fixed for the lifetime
// of the engine so every pair in one query is converted at the same rate.
type ComparatorEngine struct {
	LocalPerReference decimal.Decimal
}

// NewComparatorEngine creates an engine converting reference prices at rate
func NewComparatorEngine(rate decimal.Decimal) *ComparatorEngine {
	return &ComparatorEngine{LocalPerReference: rate}
}

// ValidateThreshold rejects thresholds that are not finite numbers above 1.0
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 1.0 {
		return ErrInvalidThreshold
	}
	return nil
}

// Underpriced keeps pairs whose market price, converted to local currency, is at least
// threshold times the local price.
func (e *ComparatorEngine) Underpriced(pairs []models.MatchedPair[models.MarketPriceEntry], opts UnderpricedOptions) ([]models.UnderpricedCard, error) {
	if err := ValidateThreshold(opts.Threshold); err != nil {
		return nil, err
	}
	if !e.LocalPerReference.IsPositive() {
		return nil, fmt.Errorf("exchange rate must be positive, got %s", e.LocalPerReference)
	}

	ranked := make([]rankedCard, 0)
	for _, p := range pairs {
		local := p.Listing.LocalPrice
		if !local.IsPositive() || local.LessThanOrEqual(opts.MinLocalPrice) {
			continue
		}
		if !p.Counterpart.LowestPrice.IsPositive() {
			continue
		}

		marketLocal := p.Counterpart.LowestPrice.Mul(e.LocalPerReference)
		ratio, _ := marketLocal.Div(local).Float64()
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio < opts.Threshold {
			continue
		}

		ranked = append(ranked, rankedCard{ratio: ratio, card: models.UnderpricedCard{
			Name:             p.Listing.RawName,
			CanonicalName:    p.CanonicalName,
			LocalPrice:       local,
			MarketPrice:      p.Counterpart.LowestPrice,
			MarketPriceLocal: marketLocal.Round(2),
			Ratio:            math.Round(ratio*100) / 100,
			Savings:          marketLocal.Sub(local).Round(2),
			PurchaseURL:      p.Listing.PurchaseURL,
		}})
	}

	sortUnderpriced(ranked, opts.Sort)
	cards := make([]models.UnderpricedCard, len(ranked))
	for i, r := range ranked {
		cards[i] = r.card
	}
	return cards, nil
}

// rankedCard keeps the unrounded ratio next to the card so ordering never sees rounding ties
type rankedCard struct {
	ratio float64
	card  models.UnderpricedCard
}

func sortUnderpriced(ranked []rankedCard, key SortKey) {
	byName := func(a, b models.UnderpricedCard) bool {
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.PurchaseURL < b.PurchaseURL
	}

	switch key {
	case SortByName:
		sort.SliceStable(ranked, func(i, j int) bool { return byName(ranked[i].card, ranked[j].card) })
	case SortBySavings:
		sort.SliceStable(ranked, func(i, j int) bool {
			if c := ranked[i].card.Savings.Cmp(ranked[j].card.Savings); c != 0 {
				return c > 0
			}
			return byName(ranked[i].card, ranked[j].card)
		})
	default:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].ratio != ranked[j].ratio {
				return ranked[i].ratio > ranked[j].ratio
			}
			return byName(ranked[i].card, ranked[j].card)
		})
	}
}

// Commander keeps recommended cards priced at or under maxPrice, highest synergy first.
// A non-positive maxPrice disables the ceiling.
func (e *ComparatorEngine) Commander(pairs []models.MatchedPair[models.RecommendationEntry], maxPrice decimal.Decimal) []models.CommanderCard {
	cards := make([]models.CommanderCard, 0, len(pairs))
	for _, p := range pairs {
		local := p.Listing.LocalPrice
		if !local.IsPositive() {
			continue
		}
		if maxPrice.IsPositive() && local.GreaterThan(maxPrice) {
			continue
		}
		cards = append(cards, models.CommanderCard{
			Name:          p.Listing.RawName,
			CanonicalName: p.CanonicalName,
			LocalPrice:    local,
			Synergy:       p.Counterpart.SynergyPercentage,
			Rank:          p.Counterpart.Rank,
			PurchaseURL:   p.Listing.PurchaseURL,
		})
	}

	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Synergy != cards[j].Synergy {
			return cards[i].Synergy > cards[j].Synergy
		}
		return cards[i].Name < cards[j].Name
	})
	return cards
}

// Paginate returns the 1-based page of items. Pages past the end are empty.
// A non-positive limit returns everything on page 1.
func Paginate[T any](items []T, limit, page int) []T {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		if page == 1 {
			return items
		}
		return items[:0]
	}
	// Compare page numbers rather than offsets so a huge page cannot overflow start
	if len(items) == 0 || page-1 > (len(items)-1)/limit {
		return items[:0]
	}
	start := (page - 1) * limit
	end := min(start+limit, len(items))
	return items[start:end]
}

// HasMorePages reports whether items remain after the given 1-based page
func HasMorePages(total, limit, page int) bool {
	if total <= 0 || limit <= 0 {
		return false
	}
	return max(page, 1) <= (total-1)/limit
}
