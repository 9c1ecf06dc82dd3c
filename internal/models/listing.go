package models

import (
	"github.com/shopspring/decimal"
)

// RetailerOutland identifies listings scraped from the Outland storefront.
const RetailerOutland = "outland"

// CardListing is a single purchasable product from the retailer catalog.
// RawName is kept for display only; CanonicalName is the join key.
type CardListing struct {
	RawName       string          `json:"raw_name" msgpack:"raw_name"`
	CanonicalName string          `json:"canonical_name" msgpack:"canonical_name"`
	LocalPrice    decimal.Decimal `json:"local_price" msgpack:"local_price"` // NOK
	PurchaseURL   string          `json:"purchase_url" msgpack:"purchase_url"`
	RetailerID    string          `json:"retailer_id" msgpack:"retailer_id"`
	InStock       bool            `json:"in_stock" msgpack:"in_stock"`
}

// MarketPriceEntry is the lowest observed market price for one canonical name.
type MarketPriceEntry struct {
	CanonicalName string          `json:"canonical_name" msgpack:"canonical_name"`
	Name          string          `json:"name" msgpack:"name"`
	LowestPrice   decimal.Decimal `json:"lowest_price" msgpack:"lowest_price"` // USD
	SourceID      string          `json:"source_id" msgpack:"source_id"`
}
