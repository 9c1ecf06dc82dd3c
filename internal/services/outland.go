package services

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/mtg-finder/internal/metrics"
	"github.com/codyseavey/mtg-finder/internal/models"
)

const (
	outlandBaseURL = "https://www.outland.no/samlekort-og-kortspill/magic-the-gathering/singles"

	defaultOutlandMaxPages = 500
	defaultOutlandFanOut   = 8

	// outlandSingleSuffix is appended to every single-card product title
	outlandSingleSuffix = "(Enkeltkort)"
)

// OutlandConfig controls how the retailer catalog is crawled
type OutlandConfig struct {
	BaseURL  string
	MaxPages int           // safety ceiling against endless pagination
	FanOut   int           // concurrent page fetches
	Timeout  time.Duration // wall-clock limit for one acquisition run, 0 = none
}

// OutlandService acquires the full singles catalog from the Outland storefront
type OutlandService struct {
	fetcher *Fetcher
	cfg     OutlandConfig
	log     zerolog.Logger
}

// AcquisitionResult is the outcome of one retailer acquisition run.
// Listing order is not significant.
type AcquisitionResult struct {
	RunID        uuid.UUID                   `json:"run_id"`
	Listings     []models.CardListing        `json:"-"`
	PagesFetched int                         `json:"pages_fetched"`
	PagesFailed  int                         `json:"pages_failed"`
	Warnings     []PartialAcquisitionWarning `json:"warnings,omitempty"`
	Truncated    bool                        `json:"truncated"`
	Duration     time.Duration               `json:"duration"`
}

// NewOutlandService creates a retailer acquirer
func NewOutlandService(fetcher *Fetcher, cfg OutlandConfig, log zerolog.Logger) *OutlandService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = outlandBaseURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultOutlandMaxPages
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = defaultOutlandFanOut
	}
	return &OutlandService{
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With().Str("component", "outland").Logger(),
	}
}

type outlandPage struct {
	listings []models.CardListing
	err      error
}

// Acquire crawls listing pages until an empty or repeated page, or the page ceiling.
// Pages are fetched in waves of FanOut; a page that keeps failing after retries is
// skipped with a warning. Only a run that yields no listings at all is an error.
func (s *OutlandService) Acquire(ctx context.Context) (*AcquisitionResult, error) {
	start := time.Now()
	result := &AcquisitionResult{RunID: uuid.New()}
	log := s.log.With().Str("run_id", result.RunID.String()).Logger()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	log.Info().Int("max_pages", s.cfg.MaxPages).Int("fan_out", s.cfg.FanOut).Msg("Starting retailer acquisition")

	names := NewNameCache()
	var prevPageKey string
	done := false
	page := 1

	for !done && page <= s.cfg.MaxPages {
		wave := min(s.cfg.FanOut, s.cfg.MaxPages-page+1)
		pages := make([]outlandPage, wave)

		// Each goroutine writes only its own slot; slots are merged below in page order
		var g errgroup.Group
		g.SetLimit(s.cfg.FanOut)
		for i := 0; i < wave; i++ {
			pageNum := page + i
			slot := &pages[i]
			g.Go(func() error {
				slot.listings, slot.err = s.fetchPage(ctx, pageNum, names)
				return nil
			})
		}
		_ = g.Wait()

		for i, p := range pages {
			pageNum := page + i
			if p.err != nil {
				if isCancellation(p.err) || ctx.Err() != nil {
					result.Truncated = true
					continue
				}
				warning := PartialAcquisitionWarning{Dataset: models.DatasetRetailer, Page: pageNum, Err: p.err}
				result.Warnings = append(result.Warnings, warning)
				result.PagesFailed++
				metrics.AcquisitionPagesTotal.WithLabelValues(string(models.DatasetRetailer), "failed").Inc()
				log.Warn().Err(p.err).Int("page", pageNum).Msg("Skipping retailer page after retries")
				continue
			}

			if len(p.listings) == 0 {
				log.Debug().Int("page", pageNum).Msg("Empty page, end of catalog")
				done = true
				break
			}
			key := pageKey(p.listings)
			if key == prevPageKey {
				log.Debug().Int("page", pageNum).Msg("Page repeats previous page, end of catalog")
				done = true
				break
			}
			prevPageKey = key

			result.PagesFetched++
			result.Listings = append(result.Listings, p.listings...)
			metrics.AcquisitionPagesTotal.WithLabelValues(string(models.DatasetRetailer), "ok").Inc()
		}

		if ctx.Err() != nil {
			result.Truncated = true
			done = true
			log.Warn().Err(ctx.Err()).Int("pages_fetched", result.PagesFetched).Msg("Acquisition timed out, keeping partial catalog")
		}
		page += wave
	}

	if !done && page > s.cfg.MaxPages {
		log.Warn().Int("max_pages", s.cfg.MaxPages).Msg("Page ceiling reached before end of catalog")
	}

	result.Duration = time.Since(start)
	metrics.AcquisitionDuration.WithLabelValues(string(models.DatasetRetailer)).Observe(result.Duration.Seconds())

	if len(result.Listings) == 0 {
		metrics.AcquisitionRunsTotal.WithLabelValues(string(models.DatasetRetailer), "failed").Inc()
		err := fmt.Errorf("no listings collected (%d pages failed)", result.PagesFailed)
		if ctx.Err() != nil {
			err = fmt.Errorf("no listings collected before deadline: %w", ctx.Err())
		}
		return nil, &AcquisitionError{Dataset: models.DatasetRetailer, Err: err}
	}

	outcome := "complete"
	if result.PagesFailed > 0 || result.Truncated {
		outcome = "partial"
	}
	metrics.AcquisitionRunsTotal.WithLabelValues(string(models.DatasetRetailer), outcome).Inc()

	log.Info().
		Int("listings", len(result.Listings)).
		Int("pages_fetched", result.PagesFetched).
		Int("pages_failed", result.PagesFailed).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Retailer acquisition finished")

	return result, nil
}

func (s *OutlandService) fetchPage(ctx context.Context, page int, names *NameCache) ([]models.CardListing, error) {
	pageURL, err := s.pageURL(page)
	if err != nil {
		return nil, err
	}
	if page%25 == 0 {
		s.log.Debug().Int("page", page).Msg("Scraping page")
	}

	body, err := s.fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		return nil, err
	}
	return parseOutlandPage(body, pageURL, names)
}

func (s *OutlandService) pageURL(page int) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid retailer base url: %w", err)
	}
	q := u.Query()
	q.Set("p", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseOutlandPage extracts product tiles from one listing page.
// Tiles without a name or a positive price are skipped.
func parseOutlandPage(body []byte, pageURL string, names *NameCache) ([]models.CardListing, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	tiles := findAll(doc, byTagClass(atom.Li, "product-item"))
	listings := make([]models.CardListing, 0, len(tiles))
	for _, tile := range tiles {
		nameLink := findFirst(tile, byTagClass(atom.A, "product-item-link"))
		if nameLink == nil {
			continue
		}
		rawName := cleanOutlandName(nodeText(nameLink))
		if rawName == "" {
			continue
		}

		priceNode := findFirst(tile, byTagClass(atom.Span, "price"))
		if priceNode == nil {
			continue
		}
		price, err := ParseLocalPrice(nodeText(priceNode))
		if err != nil || !price.IsPositive() {
			continue
		}

		href := ""
		if photo := findFirst(tile, byTagClass(atom.A, "product-item-photo")); photo != nil {
			href = getAttr(photo, "href")
		}
		if href == "" {
			href = getAttr(nameLink, "href")
		}
		if href == "" {
			continue
		}

		listings = append(listings, models.CardListing{
			RawName:       rawName,
			CanonicalName: names.Normalize(rawName),
			LocalPrice:    price,
			PurchaseURL:   resolveURL(base, href),
			RetailerID:    models.RetailerOutland,
			InStock:       !isOutOfStock(tile),
		})
	}
	return listings, nil
}

func cleanOutlandName(name string) string {
	name = strings.ReplaceAll(name, outlandSingleSuffix, "")
	return strings.Join(strings.Fields(name), " ")
}

func isOutOfStock(tile *html.Node) bool {
	return findFirst(tile, func(n *html.Node) bool {
		return (hasClass(n, "stock") && hasClass(n, "unavailable")) || hasClass(n, "out-of-stock")
	}) != nil
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// pageKey identifies a page by its product links so a repeated page can be detected
func pageKey(listings []models.CardListing) string {
	urls := make([]string, len(listings))
	for i, l := range listings {
		urls[i] = l.PurchaseURL
	}
	return strings.Join(urls, "\n")
}
