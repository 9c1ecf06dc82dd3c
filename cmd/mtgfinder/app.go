package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyseavey/mtg-finder/internal/config"
	"github.com/codyseavey/mtg-finder/internal/logger"
	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/scheduler"
	"github.com/codyseavey/mtg-finder/internal/services"
	"github.com/codyseavey/mtg-finder/internal/store"
)

// app holds the wired services shared by every subcommand
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	updater *services.UpdateService
	finder  *services.FinderService
	sched   *scheduler.Scheduler
}

// newApp loads configuration and wires the services. The scheduler is created but not started.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	st, err := store.Open(store.Config{
		Backend:    cfg.StoreBackend,
		DataDir:    cfg.DataDir,
		Format:     cfg.Format,
		DBPath:     cfg.DBPath,
		StaleAfter: cfg.StalenessThreshold,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policy := services.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      services.DefaultRetryPolicy().Jitter,
	}
	fetcher := func(upstream string, rps float64) *services.Fetcher {
		return services.NewFetcher(services.FetcherOptions{
			Upstream:          upstream,
			RequestsPerSecond: rps,
			Burst:             max(1, int(rps)),
			UserAgent:         cfg.UserAgent,
			Policy:            policy,
		}, log)
	}

	outland := services.NewOutlandService(fetcher("outland", cfg.RetailerRPS), services.OutlandConfig{
		BaseURL:  cfg.RetailerBaseURL,
		MaxPages: cfg.RetailerMaxPages,
		FanOut:   cfg.RetailerFanOut,
		Timeout:  cfg.AcquisitionTimeout,
	}, log)

	scryfallFetcher := fetcher("scryfall", cfg.MarketRPS)
	scryfall := services.NewScryfallService(scryfallFetcher, services.ScryfallConfig{
		BaseURL:  cfg.MarketBaseURL,
		EURToUSD: cfg.Decimal(cfg.EURToUSD),
		Timeout:  cfg.AcquisitionTimeout,
	}, log)

	edhrec := services.NewEDHRECService(fetcher("edhrec", 2), services.EDHRECConfig{
		BaseURL: cfg.EDHRECBaseURL,
	}, log)

	// Queries wait on the rate, so its source gets a short leash before falling back
	rateFetcher := services.NewFetcher(services.FetcherOptions{
		Upstream:          "exchange_rate",
		RequestsPerSecond: 1,
		Burst:             1,
		Timeout:           5 * time.Second,
		UserAgent:         cfg.UserAgent,
		Policy: services.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    time.Second,
		},
	}, log)
	rates := services.NewExchangeRateService(rateFetcher, services.ExchangeRateConfig{
		URL:        cfg.ExchangeRateURL,
		StaticRate: cfg.Decimal(cfg.NOKPerUSD),
		TTL:        cfg.RateTTL,
	}, log)

	updater := services.NewUpdateService(outland, scryfall, st, cfg.Decimal(cfg.MarketMinPrice), log)

	sched := scheduler.New(log, nil)
	nextUpdate := func() (time.Time, bool) {
		if next, ok := sched.Next(services.UpdateJobName); ok {
			return next, true
		}
		next, err := scheduler.NextAfter(cfg.UpdateSchedule, time.Now())
		return next, err == nil
	}

	finder := services.NewFinderService(st, rates, edhrec, scryfall,
		services.NewRecommendationCache(128, cfg.RecommendationCacheTTL),
		services.FinderConfig{
			RecommendationLimit: cfg.RecommendationLimit,
			MinLocalPrice:       cfg.Decimal(cfg.MinLocalPrice),
			BudgetMaxPrice:      cfg.Decimal(cfg.BudgetMaxPrice),
			ExpensiveMinPrice:   cfg.Decimal(cfg.ExpensiveMinPrice),
			AutoUpdate:          cfg.AutoUpdate,
			NextUpdate:          nextUpdate,
		}, log)

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		updater: updater,
		finder:  finder,
		sched:   sched,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close store")
	}
}

func missingNote(missing []models.DatasetKind) string {
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("No %v snapshot yet; run 'mtgfinder update' first.", missing)
}
