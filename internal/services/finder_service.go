package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/metrics"
	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/store"
)

const (
	DefaultThreshold      = 1.3
	DefaultCommanderLimit = 25
	maxCommanderLimit     = 200
)

// RateProvider supplies the reference-to-local conversion factor for one query
type RateProvider interface {
	LocalPerReference(ctx context.Context) decimal.Decimal
}

// RecommendationSource fetches ranked recommendations for a commander page
type RecommendationSource interface {
	Fetch(ctx context.Context, commanderURL string, limit int, tier models.BudgetTier) ([]models.RecommendationEntry, error)
}

// CommanderSearcher suggests commander names
type CommanderSearcher interface {
	SearchCommanders(ctx context.Context, query string) ([]string, error)
}

// RecommendationCache holds fetched recommendation lists keyed by url, tier and limit
type RecommendationCache = expirable.LRU[string, []models.RecommendationEntry]

// NewRecommendationCache creates a bounded cache whose entries expire after ttl
func NewRecommendationCache(size int, ttl time.Duration) *RecommendationCache {
	if size <= 0 {
		size = 64
	}
	return expirable.NewLRU[string, []models.RecommendationEntry](size, nil, ttl)
}

// FinderConfig tunes the query side
type FinderConfig struct {
	RecommendationLimit int             // recommendations fetched per commander, 0 = all
	MinLocalPrice       decimal.Decimal // underpriced search ignores listings at or below this price
	BudgetMaxPrice      decimal.Decimal // auto tier: ceilings at or under this use the budget list
	ExpensiveMinPrice   decimal.Decimal // auto tier: ceilings at or over this use the expensive list
	AutoUpdate          bool
	NextUpdate          func() (time.Time, bool)
}

// FinderService answers underpriced and commander queries against the stored snapshots.
// A missing snapshot yields an empty result with the dataset listed in Missing.
type FinderService struct {
	store      store.Store
	rates      RateProvider
	recs       RecommendationSource
	commanders CommanderSearcher
	cache      *RecommendationCache
	cfg        FinderConfig
	log        zerolog.Logger
}

// NewFinderService creates a query service. cache may be nil to disable caching.
func NewFinderService(st store.Store, rates RateProvider, recs RecommendationSource, commanders CommanderSearcher, cache *RecommendationCache, cfg FinderConfig, log zerolog.Logger) *FinderService {
	return &FinderService{
		store:      st,
		rates:      rates,
		recs:       recs,
		commanders: commanders,
		cache:      cache,
		cfg:        cfg,
		log:        log.With().Str("component", "finder").Logger(),
	}
}

// UnderpricedResult is the answer to an underpriced search
type UnderpricedResult struct {
	Cards        []models.UnderpricedCard `json:"cards"`
	Count        int                      `json:"count"`
	Threshold    float64                  `json:"threshold"`
	Sort         SortKey                  `json:"sort"`
	ExchangeRate decimal.Decimal          `json:"exchange_rate"`
	Missing      []models.DatasetKind     `json:"missing,omitempty"`
}

// Underpriced lists in-stock retailer cards whose market price, converted to local
// currency, is at least threshold times their local price.
func (s *FinderService) Underpriced(ctx context.Context, threshold float64, sortKey SortKey) (*UnderpricedResult, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if sortKey == "" {
		sortKey = SortByRatio
	}

	result := &UnderpricedResult{
		Cards:     []models.UnderpricedCard{},
		Threshold: threshold,
		Sort:      sortKey,
	}

	retailer, err := s.loadSnapshot(ctx, models.DatasetRetailer, &result.Missing)
	if err != nil {
		return nil, err
	}
	market, err := s.loadSnapshot(ctx, models.DatasetMarket, &result.Missing)
	if err != nil {
		return nil, err
	}
	if retailer == nil || market == nil {
		return result, nil
	}

	// The factor is fixed here once for every pair in this query
	rate := s.rates.LocalPerReference(ctx)
	result.ExchangeRate = rate
	engine := NewComparatorEngine(rate)

	// The floor applies per listing, before the cheapest listing of each card is chosen
	listings := AbovePrice(InStock(retailer.Listings), s.cfg.MinLocalPrice)
	pairs := Match(listings, IndexMarketPrices(market.MarketPrices))
	cards, err := engine.Underpriced(pairs, UnderpricedOptions{
		Threshold:     threshold,
		Sort:          sortKey,
		MinLocalPrice: s.cfg.MinLocalPrice,
	})
	if err != nil {
		return nil, err
	}

	result.Cards = cards
	result.Count = len(cards)
	metrics.QueryResultsTotal.WithLabelValues("underpriced").Add(float64(len(cards)))

	s.log.Debug().
		Float64("threshold", threshold).
		Int("matched", len(pairs)).
		Int("underpriced", len(cards)).
		Msg("Underpriced search")
	return result, nil
}

// CommanderQuery selects a commander and a page of its affordable recommendations
type CommanderQuery struct {
	URL      string // EDHREC commander page; takes precedence over Name
	Name     string
	MaxPrice decimal.Decimal // local currency, non-positive means no ceiling
	Limit    int
	Page     int
	Tier     models.BudgetTier
	AutoTier bool // pick the tier from MaxPrice instead of Tier
}

// CommanderResult is one page of a commander search
type CommanderResult struct {
	Commander string                 `json:"commander"`
	Tier      models.BudgetTier      `json:"tier"`
	Cards     []models.CommanderCard `json:"cards"`
	Page      int                    `json:"page"`
	Limit     int                    `json:"limit"`
	Total     int                    `json:"total"`
	HasMore   bool                   `json:"has_more"`
	Missing   []models.DatasetKind   `json:"missing,omitempty"`
}

// CommanderSearch matches the commander's recommendations against the retailer catalog,
// keeps those at or under the price ceiling, and returns the requested page ordered by synergy.
func (s *FinderService) CommanderSearch(ctx context.Context, q CommanderQuery) (*CommanderResult, error) {
	commanderURL, err := s.resolveCommanderURL(q)
	if err != nil {
		return nil, err
	}

	tier := q.Tier
	if tier == "" {
		tier = models.BudgetTierAny
	}
	if q.AutoTier {
		tier = TierForMaxPrice(q.MaxPrice, s.cfg.BudgetMaxPrice, s.cfg.ExpensiveMinPrice)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultCommanderLimit
	}
	limit = min(limit, maxCommanderLimit)
	page := max(q.Page, 1)

	result := &CommanderResult{
		Commander: commanderURL,
		Tier:      tier,
		Cards:     []models.CommanderCard{},
		Page:      page,
		Limit:     limit,
	}

	recs, err := s.recommendations(ctx, commanderURL, tier)
	if err != nil {
		return nil, err
	}

	retailer, err := s.loadSnapshot(ctx, models.DatasetRetailer, &result.Missing)
	if err != nil {
		return nil, err
	}
	if retailer == nil {
		return result, nil
	}

	// Commander mode does not convert currency; the engine factor is unused here
	engine := NewComparatorEngine(decimal.NewFromInt(1))
	pairs := Match(InStock(retailer.Listings), IndexRecommendations(recs))
	all := engine.Commander(pairs, q.MaxPrice)

	result.Total = len(all)
	result.Cards = append(result.Cards, Paginate(all, limit, page)...)
	result.HasMore = HasMorePages(len(all), limit, page)
	metrics.QueryResultsTotal.WithLabelValues("commander").Add(float64(len(result.Cards)))

	s.log.Debug().
		Str("commander", commanderURL).
		Str("tier", string(tier)).
		Int("recommendations", len(recs)).
		Int("affordable", len(all)).
		Int("page", page).
		Msg("Commander search")
	return result, nil
}

func (s *FinderService) resolveCommanderURL(q CommanderQuery) (string, error) {
	switch {
	case strings.TrimSpace(q.URL) != "":
		if _, err := ValidateCommanderURL(q.URL); err != nil {
			return "", err
		}
		return strings.TrimSpace(q.URL), nil
	case strings.TrimSpace(q.Name) != "":
		if CommanderSlug(q.Name) == "" {
			return "", fmt.Errorf("%w: commander name %q has no usable characters", ErrInvalidInput, q.Name)
		}
		return CommanderURL(q.Name, models.BudgetTierAny), nil
	default:
		return "", fmt.Errorf("%w: commander url or name is required", ErrInvalidInput)
	}
}

func (s *FinderService) recommendations(ctx context.Context, commanderURL string, tier models.BudgetTier) ([]models.RecommendationEntry, error) {
	slug, _ := ValidateCommanderURL(commanderURL)
	key := fmt.Sprintf("%s|%s|%d", slug, tier, s.cfg.RecommendationLimit)

	if s.cache != nil {
		if recs, ok := s.cache.Get(key); ok {
			metrics.RecommendationCacheHits.Inc()
			return recs, nil
		}
		metrics.RecommendationCacheMisses.Inc()
	}

	recs, err := s.recs.Fetch(ctx, commanderURL, s.cfg.RecommendationLimit, tier)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, recs)
	}
	return recs, nil
}

// SearchCommanders returns commander name suggestions for autocomplete
func (s *FinderService) SearchCommanders(ctx context.Context, query string) ([]string, error) {
	if s.commanders == nil {
		return []string{}, nil
	}
	return s.commanders.SearchCommanders(ctx, query)
}

// DatabaseStatus reports every dataset plus the update schedule
type DatabaseStatus struct {
	Datasets            map[models.DatasetKind]models.DatasetStatus `json:"datasets"`
	NextScheduledUpdate *time.Time                                  `json:"next_scheduled_update"`
	AutoUpdateEnabled   bool                                        `json:"auto_update_enabled"`
}

// DatabaseStatus reports existence and age of every dataset
func (s *FinderService) DatabaseStatus(ctx context.Context) (*DatabaseStatus, error) {
	status := &DatabaseStatus{
		Datasets:          make(map[models.DatasetKind]models.DatasetStatus),
		AutoUpdateEnabled: s.cfg.AutoUpdate,
	}
	for _, kind := range models.AllDatasetKinds() {
		ds, err := s.store.Status(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s status: %w", kind, err)
		}
		status.Datasets[kind] = ds
	}
	if s.cfg.AutoUpdate && s.cfg.NextUpdate != nil {
		if next, ok := s.cfg.NextUpdate(); ok {
			status.NextScheduledUpdate = &next
		}
	}
	return status, nil
}

// loadSnapshot returns nil and records kind in missing when no snapshot exists
func (s *FinderService) loadSnapshot(ctx context.Context, kind models.DatasetKind, missing *[]models.DatasetKind) (*models.Snapshot, error) {
	snap, err := s.store.Load(ctx, kind)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Str("dataset", string(kind)).Msg("No snapshot available, returning empty result")
		*missing = append(*missing, kind)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}
	return snap, nil
}
