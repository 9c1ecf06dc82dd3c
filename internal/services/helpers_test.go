package services

import (
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
)

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func listing(name, price, href string) models.CardListing {
	return models.CardListing{
		RawName:       name,
		CanonicalName: NormalizeCardName(name),
		LocalPrice:    mustDecimal(price),
		PurchaseURL:   href,
		RetailerID:    models.RetailerOutland,
		InStock:       true,
	}
}

func marketEntry(name, usd string) models.MarketPriceEntry {
	return models.MarketPriceEntry{
		CanonicalName: NormalizeCardName(name),
		Name:          name,
		LowestPrice:   mustDecimal(usd),
		SourceID:      "id-" + NormalizeCardName(name),
	}
}
