package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/mtg-finder/internal/metrics"
)

const (
	exchangeRateURL      = "https://open.er-api.com/v6/latest/USD"
	defaultRateTTL       = 12 * time.Hour
	defaultRateBackoff   = 15 * time.Minute
	defaultLocalCurrency = "NOK"
)

// ExchangeRateConfig controls the reference-to-local conversion factor
type ExchangeRateConfig struct {
	URL        string
	Currency   string          // local currency code looked up in the rates table
	StaticRate decimal.Decimal // used when no live rate was ever fetched
	TTL        time.Duration
	Backoff    time.Duration // wait after a failed refresh before asking the source again
}

// ExchangeRateService provides local currency units per reference currency unit.
// It never fails: a live rate is cached for TTL, then the last known rate, then the
// static rate are used in turn.
type ExchangeRateService struct {
	fetcher *Fetcher
	cfg     ExchangeRateConfig
	log     zerolog.Logger
	now     func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	rate        decimal.Decimal
	nextRefresh time.Time
}

type exchangeRateResponse struct {
	Result string             `json:"result"`
	Base   string             `json:"base_code"`
	Rates  map[string]float64 `json:"rates"`
}

// NewExchangeRateService creates a rate provider. A nil fetcher always uses the static rate.
func NewExchangeRateService(fetcher *Fetcher, cfg ExchangeRateConfig, log zerolog.Logger) *ExchangeRateService {
	if cfg.URL == "" {
		cfg.URL = exchangeRateURL
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultLocalCurrency
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultRateTTL
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = min(defaultRateBackoff, cfg.TTL)
	}
	if !cfg.StaticRate.IsPositive() {
		cfg.StaticRate = decimal.NewFromInt(11)
	}
	return &ExchangeRateService{
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With().Str("component", "exchange_rate").Logger(),
		now:     time.Now,
	}
}

// LocalPerReference returns the conversion factor to apply for one query.
// At most one refresh is in flight; a failed refresh is not retried until Backoff has passed.
func (s *ExchangeRateService) LocalPerReference(ctx context.Context) decimal.Decimal {
	s.mu.Lock()
	due := s.fetcher != nil && !s.now().Before(s.nextRefresh)
	s.mu.Unlock()

	if due {
		s.group.Do("refresh", func() (any, error) {
			s.refresh(ctx)
			return nil, nil
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate.IsPositive() {
		return s.rate
	}
	metrics.ExchangeRate.Set(s.cfg.StaticRate.InexactFloat64())
	return s.cfg.StaticRate
}

func (s *ExchangeRateService) refresh(ctx context.Context) {
	s.mu.Lock()
	stillDue := !s.now().Before(s.nextRefresh)
	s.mu.Unlock()
	if !stillDue {
		return
	}

	rate, err := s.fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.nextRefresh = s.now().Add(s.cfg.Backoff)
		metrics.ExchangeRateFallbacksTotal.Inc()
		s.log.Warn().Err(err).Dur("retry_in", s.cfg.Backoff).Msg("Exchange rate unavailable, using fallback")
		return
	}
	s.rate = rate
	s.nextRefresh = s.now().Add(s.cfg.TTL)
	metrics.ExchangeRate.Set(rate.InexactFloat64())
	s.log.Info().Str("rate", rate.String()).Str("currency", s.cfg.Currency).Msg("Updated exchange rate")
}

func (s *ExchangeRateService) fetch(ctx context.Context) (decimal.Decimal, error) {
	body, err := s.fetcher.Get(ctx, s.cfg.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return decimal.Zero, err
	}
	var resp exchangeRateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode exchange rates: %w", err)
	}
	if resp.Result != "" && resp.Result != "success" {
		return decimal.Zero, fmt.Errorf("exchange rate source returned %q", resp.Result)
	}
	v, ok := resp.Rates[s.cfg.Currency]
	if !ok || v <= 0 {
		return decimal.Zero, fmt.Errorf("no %s rate in response", s.cfg.Currency)
	}
	return decimal.NewFromFloat(v).Round(6), nil
}
