package services

import (
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
)

// Match joins retailer listings against a reference keyed by canonical name.
// Listings without a reference entry, or without a positive price, are dropped.
// When several listings share a canonical name the cheapest one wins and ties keep
// the first seen. Pairs come out in the order each name first appears in listings.
func Match[T any](listings []models.CardListing, reference map[string]T) []models.MatchedPair[T] {
	if len(listings) == 0 || len(reference) == 0 {
		return []models.MatchedPair[T]{}
	}

	pairs := make([]models.MatchedPair[T], 0, min(len(listings), len(reference)))
	slot := make(map[string]int, len(reference))

	for _, l := range listings {
		if !l.LocalPrice.IsPositive() {
			continue
		}
		canonical := l.CanonicalName
		if canonical == "" {
			canonical = NormalizeCardName(l.RawName)
		}
		counterpart, ok := reference[canonical]
		if !ok {
			continue
		}

		if i, seen := slot[canonical]; seen {
			if l.LocalPrice.LessThan(pairs[i].Listing.LocalPrice) {
				pairs[i].Listing = l
			}
			continue
		}
		slot[canonical] = len(pairs)
		pairs = append(pairs, models.MatchedPair[T]{
			CanonicalName: canonical,
			Listing:       l,
			Counterpart:   counterpart,
		})
	}
	return pairs
}

// InStock returns the listings currently available to buy
func InStock(listings []models.CardListing) []models.CardListing {
	out := make([]models.CardListing, 0, len(listings))
	for _, l := range listings {
		if l.InStock {
			out = append(out, l)
		}
	}
	return out
}

// AbovePrice returns the listings priced strictly above floor. A non-positive floor keeps every listing.
func AbovePrice(listings []models.CardListing, floor decimal.Decimal) []models.CardListing {
	if !floor.IsPositive() {
		return listings
	}
	out := make([]models.CardListing, 0, len(listings))
	for _, l := range listings {
		if l.LocalPrice.GreaterThan(floor) {
			out = append(out, l)
		}
	}
	return out
}

// IndexMarketPrices keys market entries by canonical name, keeping the lowest price
func IndexMarketPrices(entries []models.MarketPriceEntry) map[string]models.MarketPriceEntry {
	index := make(map[string]models.MarketPriceEntry, len(entries))
	for _, e := range entries {
		if existing, ok := index[e.CanonicalName]; ok && !e.LowestPrice.LessThan(existing.LowestPrice) {
			continue
		}
		index[e.CanonicalName] = e
	}
	return index
}

// IndexRecommendations keys recommendations by canonical name, keeping the best ranked
func IndexRecommendations(entries []models.RecommendationEntry) map[string]models.RecommendationEntry {
	index := make(map[string]models.RecommendationEntry, len(entries))
	for _, e := range entries {
		if _, ok := index[e.CanonicalName]; ok {
			continue
		}
		index[e.CanonicalName] = e
	}
	return index
}
