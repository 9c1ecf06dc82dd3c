package models

import (
	"fmt"
	"time"
)

// DatasetKind names one of the independently acquired datasets
type DatasetKind string

const (
	DatasetRetailer DatasetKind = "retailer"
	DatasetMarket   DatasetKind = "market"
)

// AllDatasetKinds returns every dataset the store knows about
func AllDatasetKinds() []DatasetKind {
	return []DatasetKind{DatasetRetailer, DatasetMarket}
}

// ParseDatasetKind accepts the dataset names used by the CLI and the API,
// including the upstream names ("outland", "scryfall").
func ParseDatasetKind(s string) (DatasetKind, error) {
	switch s {
	case "retailer", "outland":
		return DatasetRetailer, nil
	case "market", "scryfall":
		return DatasetMarket, nil
	default:
		return "", fmt.Errorf("unknown dataset %q", s)
	}
}

// Snapshot is an immutable, timestamped full copy of one dataset.
// Exactly one of Listings or MarketPrices is populated, matching Kind.
type Snapshot struct {
	Kind         DatasetKind        `json:"kind" msgpack:"kind"`
	CollectedAt  time.Time          `json:"collected_at" msgpack:"collected_at"`
	Listings     []CardListing      `json:"listings,omitempty" msgpack:"listings,omitempty"`
	MarketPrices []MarketPriceEntry `json:"market_prices,omitempty" msgpack:"market_prices,omitempty"`
}

// Len returns the number of entries in the snapshot payload
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	switch s.Kind {
	case DatasetRetailer:
		return len(s.Listings)
	case DatasetMarket:
		return len(s.MarketPrices)
	}
	return 0
}

// Validate checks every row before the snapshot is persisted.
func (s *Snapshot) Validate() error {
	switch s.Kind {
	case DatasetRetailer:
		if len(s.MarketPrices) > 0 {
			return fmt.Errorf("retailer snapshot carries %d market price rows", len(s.MarketPrices))
		}
		for i, l := range s.Listings {
			if err := validateListing(l); err != nil {
				return fmt.Errorf("listing %d: %w", i, err)
			}
		}
	case DatasetMarket:
		if len(s.Listings) > 0 {
			return fmt.Errorf("market snapshot carries %d listing rows", len(s.Listings))
		}
		for i, e := range s.MarketPrices {
			if err := validateMarketPrice(e); err != nil {
				return fmt.Errorf("market price %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown dataset kind %q", s.Kind)
	}
	return nil
}

func validateListing(l CardListing) error {
	switch {
	case l.RawName == "":
		return fmt.Errorf("raw name is empty")
	case l.CanonicalName == "":
		return fmt.Errorf("canonical name is empty for %q", l.RawName)
	case !l.LocalPrice.IsPositive():
		return fmt.Errorf("price %s for %q is not positive", l.LocalPrice, l.RawName)
	case l.PurchaseURL == "":
		return fmt.Errorf("purchase url is empty for %q", l.RawName)
	}
	return nil
}

func validateMarketPrice(e MarketPriceEntry) error {
	switch {
	case e.CanonicalName == "":
		return fmt.Errorf("canonical name is empty")
	case !e.LowestPrice.IsPositive():
		return fmt.Errorf("price %s for %q is not positive", e.LowestPrice, e.CanonicalName)
	case e.SourceID == "":
		return fmt.Errorf("source id is empty for %q", e.CanonicalName)
	}
	return nil
}

// DatasetStatus reports whether a dataset exists and how old it is.
type DatasetStatus struct {
	Kind            DatasetKind `json:"kind"`
	Exists          bool        `json:"exists"`
	CollectedAt     *time.Time  `json:"last_updated"`
	EntryCount      int         `json:"count"`
	DaysSinceUpdate *float64    `json:"days_since_update"`
	Stale           bool        `json:"stale"`
}

// IsStale reports whether a snapshot collected at collectedAt is older than threshold at now.
// A non-positive threshold disables staleness.
func IsStale(collectedAt, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(collectedAt) > threshold
}

// NewDatasetStatus builds the status for an existing snapshot
func NewDatasetStatus(kind DatasetKind, collectedAt time.Time, count int, now time.Time, threshold time.Duration) DatasetStatus {
	days := now.Sub(collectedAt).Hours() / 24
	at := collectedAt
	return DatasetStatus{
		Kind:            kind,
		Exists:          true,
		CollectedAt:     &at,
		EntryCount:      count,
		DaysSinceUpdate: &days,
		Stale:           IsStale(collectedAt, now, threshold),
	}
}
