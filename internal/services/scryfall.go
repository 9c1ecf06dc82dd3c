package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/metrics"
	"github.com/codyseavey/mtg-finder/internal/models"
)

const (
	scryfallBaseURL = "https://api.scryfall.com"

	// maxCommanderSuggestions caps the autocomplete list
	maxCommanderSuggestions = 20
)

// ScryfallConfig controls market price acquisition
type ScryfallConfig struct {
	BaseURL  string
	EURToUSD decimal.Decimal // fixed rate used to fold EUR prices into USD
	Timeout  time.Duration   // wall-clock limit for one index run, 0 = none
}

// ScryfallService builds the market price index from Scryfall's card search
type ScryfallService struct {
	fetcher *Fetcher
	cfg     ScryfallConfig
	log     zerolog.Logger
}

type scryfallSearchResponse struct {
	Data       []scryfallCard `json:"data"`
	Object     string         `json:"object"`
	TotalCards int            `json:"total_cards"`
	HasMore    bool           `json:"has_more"`
	NextPage   string         `json:"next_page"`
}

type scryfallCard struct {
	Prices scryfallPrices `json:"prices"`
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Set    string         `json:"set"`
}

type scryfallPrices struct {
	USD *string `json:"usd"`
	EUR *string `json:"eur"`
}

// PriceIndexResult is the outcome of one market index run
type PriceIndexResult struct {
	RunID        uuid.UUID                          `json:"run_id"`
	Index        map[string]models.MarketPriceEntry `json:"-"`
	PagesFetched int                                `json:"pages_fetched"`
	Warnings     []PartialAcquisitionWarning        `json:"warnings,omitempty"`
	Truncated    bool                               `json:"truncated"`
	Duration     time.Duration                      `json:"duration"`
}

// Entries returns the index as a slice ordered by canonical name
func (r *PriceIndexResult) Entries() []models.MarketPriceEntry {
	entries := make([]models.MarketPriceEntry, 0, len(r.Index))
	for _, e := range r.Index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CanonicalName < entries[j].CanonicalName
	})
	return entries
}

// NewScryfallService creates a market price index client
func NewScryfallService(fetcher *Fetcher, cfg ScryfallConfig, log zerolog.Logger) *ScryfallService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = scryfallBaseURL
	}
	if !cfg.EURToUSD.IsPositive() {
		cfg.EURToUSD = decimal.RequireFromString("1.05")
	}
	return &ScryfallService{
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With().Str("component", "scryfall").Logger(),
	}
}

// FetchPriceIndex pulls every printing priced at or above minPrice, following the
// next_page cursor, and keeps the lowest price per canonical name.
// Only a failure on the first page is an error; later failures truncate the index.
func (s *ScryfallService) FetchPriceIndex(ctx context.Context, minPrice decimal.Decimal) (*PriceIndexResult, error) {
	start := time.Now()
	result := &PriceIndexResult{
		RunID: uuid.New(),
		Index: make(map[string]models.MarketPriceEntry),
	}
	log := s.log.With().Str("run_id", result.RunID.String()).Logger()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	query := fmt.Sprintf("usd>=%s or eur>=%s", minPrice.String(), minPrice.String())
	params := url.Values{}
	params.Set("q", query)
	params.Set("unique", "prints")
	params.Set("order", "usd")
	next := fmt.Sprintf("%s/cards/search?%s", s.cfg.BaseURL, params.Encode())

	log.Info().Str("query", query).Msg("Starting market price index")

	names := NewNameCache()
	page := 0
	for next != "" {
		page++
		resp, err := s.fetchSearchPage(ctx, next)
		if err != nil {
			if page == 1 {
				metrics.AcquisitionRunsTotal.WithLabelValues(string(models.DatasetMarket), "failed").Inc()
				return nil, &AcquisitionError{Dataset: models.DatasetMarket, Err: err}
			}
			if isCancellation(err) || ctx.Err() != nil {
				result.Truncated = true
				log.Warn().Err(err).Int("page", page).Msg("Market index timed out, keeping partial index")
				break
			}
			result.Warnings = append(result.Warnings, PartialAcquisitionWarning{Dataset: models.DatasetMarket, Page: page, Err: err})
			result.Truncated = true
			metrics.AcquisitionPagesTotal.WithLabelValues(string(models.DatasetMarket), "failed").Inc()
			log.Warn().Err(err).Int("page", page).Msg("Market index page failed after retries, truncating index")
			break
		}

		result.PagesFetched++
		metrics.AcquisitionPagesTotal.WithLabelValues(string(models.DatasetMarket), "ok").Inc()
		for _, card := range resp.Data {
			s.addToIndex(result.Index, card, minPrice, names)
		}
		log.Debug().Int("page", page).Int("index_size", len(result.Index)).Msg("Fetched market page")

		next = ""
		if resp.HasMore {
			next = resp.NextPage
		}
	}

	result.Duration = time.Since(start)
	metrics.AcquisitionDuration.WithLabelValues(string(models.DatasetMarket)).Observe(result.Duration.Seconds())

	if len(result.Index) == 0 {
		metrics.AcquisitionRunsTotal.WithLabelValues(string(models.DatasetMarket), "failed").Inc()
		return nil, &AcquisitionError{Dataset: models.DatasetMarket, Err: errors.New("no priced cards above the floor")}
	}

	outcome := "complete"
	if result.Truncated {
		outcome = "partial"
	}
	metrics.AcquisitionRunsTotal.WithLabelValues(string(models.DatasetMarket), outcome).Inc()

	log.Info().
		Int("cards", len(result.Index)).
		Int("pages_fetched", result.PagesFetched).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Market price index finished")

	return result, nil
}

func (s *ScryfallService) fetchSearchPage(ctx context.Context, pageURL string) (*scryfallSearchResponse, error) {
	body, err := s.fetcher.Get(ctx, pageURL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	var resp scryfallSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode scryfall response: %w", err)
	}
	return &resp, nil
}

// addToIndex folds one printing into the index. On collision the lowest price wins.
func (s *ScryfallService) addToIndex(index map[string]models.MarketPriceEntry, card scryfallCard, minPrice decimal.Decimal, names *NameCache) {
	price, ok := s.referencePrice(card.Prices)
	if !ok || price.LessThan(minPrice) {
		return
	}
	canonical := names.Normalize(card.Name)
	if canonical == "" {
		return
	}
	if existing, found := index[canonical]; found && !price.LessThan(existing.LowestPrice) {
		return
	}
	index[canonical] = models.MarketPriceEntry{
		CanonicalName: canonical,
		Name:          card.Name,
		LowestPrice:   price,
		SourceID:      card.ID,
	}
}

// referencePrice is the lower of the USD price and the EUR price converted to USD
func (s *ScryfallService) referencePrice(p scryfallPrices) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	if d, ok := parseScryfallPrice(p.USD); ok {
		best, found = d, true
	}
	if d, ok := parseScryfallPrice(p.EUR); ok {
		usd := d.Mul(s.cfg.EURToUSD).Round(2)
		if !found || usd.LessThan(best) {
			best, found = usd, true
		}
	}
	return best, found
}

func parseScryfallPrice(v *string) (decimal.Decimal, bool) {
	if v == nil || *v == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(*v)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// SearchCommanders returns names of legal commanders matching query, for autocomplete.
// Queries shorter than two characters return no suggestions.
func (s *ScryfallService) SearchCommanders(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return []string{}, nil
	}

	params := url.Values{}
	params.Set("q", fmt.Sprintf("is:commander %s", query))
	params.Set("order", "edhrec")
	reqURL := fmt.Sprintf("%s/cards/search?%s", s.cfg.BaseURL, params.Encode())

	resp, err := s.fetchSearchPage(ctx, reqURL)
	if err != nil {
		if IsNotFound(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to search commanders: %w", err)
	}

	names := make([]string, 0, min(len(resp.Data), maxCommanderSuggestions))
	for _, card := range resp.Data {
		if len(names) == maxCommanderSuggestions {
			break
		}
		names = append(names, card.Name)
	}
	return names, nil
}
