package models

import (
	"github.com/shopspring/decimal"
)

// MatchedPair joins a retailer listing with its counterpart from another dataset.
// Pairs are derived per query and never persisted.
type MatchedPair[T any] struct {
	CanonicalName string
	Listing       CardListing
	Counterpart   T
}

// UnderpricedCard is a retailer listing cheaper than its market reference
type UnderpricedCard struct {
	Name             string          `json:"name"`
	CanonicalName    string          `json:"canonical_name"`
	LocalPrice       decimal.Decimal `json:"local_price"`
	MarketPrice      decimal.Decimal `json:"market_price"`
	MarketPriceLocal decimal.Decimal `json:"market_price_local"`
	Ratio            float64         `json:"ratio"`
	Savings          decimal.Decimal `json:"savings"`
	PurchaseURL      string          `json:"purchase_url"`
}

// CommanderCard is a recommended card the retailer stocks under the price ceiling
type CommanderCard struct {
	Name          string          `json:"name"`
	CanonicalName string          `json:"canonical_name"`
	LocalPrice    decimal.Decimal `json:"local_price"`
	Synergy       float64         `json:"synergy"`
	Rank          int             `json:"rank"`
	PurchaseURL   string          `json:"purchase_url"`
}
