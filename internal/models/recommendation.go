package models

import (
	"fmt"
	"strings"
)

// BudgetTier is the upstream price bucket a recommendation list was drawn from
type BudgetTier string

const (
	BudgetTierAny       BudgetTier = "any"
	BudgetTierBudget    BudgetTier = "budget"
	BudgetTierExpensive BudgetTier = "expensive"
)

// ParseBudgetTier maps user input to a BudgetTier. Empty input means any.
func ParseBudgetTier(s string) (BudgetTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return BudgetTierAny, nil
	case "budget":
		return BudgetTierBudget, nil
	case "expensive":
		return BudgetTierExpensive, nil
	default:
		return "", fmt.Errorf("unknown budget tier %q", s)
	}
}

// RecommendationEntry is one card recommended for a commander.
// Rank is the 1-based position in the source list; the list order is significant.
type RecommendationEntry struct {
	CanonicalName     string     `json:"canonical_name"`
	Name              string     `json:"name"`
	SynergyPercentage float64    `json:"synergy_percentage"` // 0-100
	BudgetTier        BudgetTier `json:"budget_tier"`
	Rank              int        `json:"rank"`
}
