package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/codyseavey/mtg-finder/internal/models"
)

const (
	edhrecBaseURL      = "https://edhrec.com"
	edhrecCommanderDir = "/commanders/"
)

var (
	edhrecHosts = map[string]bool{"edhrec.com": true, "www.edhrec.com": true}

	// synergyPattern matches the "+45%" synergy badge in rendered card tiles
	synergyPattern = regexp.MustCompile(`\+\s*(-?\d+(?:\.\d+)?)\s*%`)

	// card container class fragments used by the rendered page, newest first
	edhrecCardClasses = []string{"Card_container", "card-container", "CardView", "recommendation-tile"}
)

// EDHRECConfig controls recommendation fetching
type EDHRECConfig struct {
	BaseURL string
}

// EDHRECService scrapes ranked card recommendations for a commander from EDHREC.
// The page is an opaque parser boundary, not an API contract.
type EDHRECService struct {
	fetcher *Fetcher
	cfg     EDHRECConfig
	log     zerolog.Logger
}

// NewEDHRECService creates a recommendation fetcher
func NewEDHRECService(fetcher *Fetcher, cfg EDHRECConfig, log zerolog.Logger) *EDHRECService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = edhrecBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &EDHRECService{
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With().Str("component", "edhrec").Logger(),
	}
}

// ValidateCommanderURL checks that raw is an EDHREC commander page and returns its slug.
// A trailing budget/expensive segment is accepted and dropped.
func ValidateCommanderURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid commander url %q", ErrInvalidInput, raw)
	}
	if !edhrecHosts[strings.ToLower(u.Host)] {
		return "", fmt.Errorf("%w: commander url must point to edhrec.com, got %q", ErrInvalidInput, u.Host)
	}
	if !strings.HasPrefix(u.Path, edhrecCommanderDir) {
		return "", fmt.Errorf("%w: commander url must be under %s, got %q", ErrInvalidInput, edhrecCommanderDir, u.Path)
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(u.Path, edhrecCommanderDir), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("%w: commander url %q has no commander", ErrInvalidInput, raw)
	}
	if len(parts) > 2 || (len(parts) == 2 && parts[1] != string(models.BudgetTierBudget) && parts[1] != string(models.BudgetTierExpensive)) {
		return "", fmt.Errorf("%w: commander url %q has unexpected path", ErrInvalidInput, raw)
	}
	return parts[0], nil
}

// CommanderSlug converts a commander name into an EDHREC page slug
func CommanderSlug(name string) string {
	return strings.ReplaceAll(NormalizeCardName(name), " ", "-")
}

// CommanderURL builds the EDHREC page URL for a commander name and tier
func CommanderURL(name string, tier models.BudgetTier) string {
	u := edhrecBaseURL + edhrecCommanderDir + CommanderSlug(name)
	if tier == models.BudgetTierBudget || tier == models.BudgetTierExpensive {
		u += "/" + string(tier)
	}
	return u
}

// TierForMaxPrice picks the upstream budget tier that fits a price ceiling.
// Ceilings at or under budgetMax use the budget list, at or over expensiveMin the expensive list.
func TierForMaxPrice(maxPrice, budgetMax, expensiveMin decimal.Decimal) models.BudgetTier {
	switch {
	case budgetMax.IsPositive() && maxPrice.LessThanOrEqual(budgetMax):
		return models.BudgetTierBudget
	case expensiveMin.IsPositive() && maxPrice.GreaterThanOrEqual(expensiveMin):
		return models.BudgetTierExpensive
	default:
		return models.BudgetTierAny
	}
}

// Fetch returns the commander's recommendations in source rank order.
// The tier is passed through to EDHREC's own partitioning; limit > 0 caps the result.
func (s *EDHRECService) Fetch(ctx context.Context, commanderURL string, limit int, tier models.BudgetTier) ([]models.RecommendationEntry, error) {
	slug, err := ValidateCommanderURL(commanderURL)
	if err != nil {
		return nil, err
	}

	pageURL := s.cfg.BaseURL + edhrecCommanderDir + url.PathEscape(slug)
	if tier == models.BudgetTierBudget || tier == models.BudgetTierExpensive {
		pageURL += "/" + string(tier)
	}

	body, err := s.fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Resource: "commander", Key: commanderURL}
		}
		return nil, fmt.Errorf("failed to fetch recommendations: %w", err)
	}

	cards, err := parseEDHRECPage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recommendations: %w", err)
	}
	if len(cards) == 0 {
		return nil, &NotFoundError{Resource: "commander", Key: commanderURL}
	}

	entries := make([]models.RecommendationEntry, 0, len(cards))
	seen := make(map[string]bool, len(cards))
	for _, c := range cards {
		canonical := NormalizeCardName(c.name)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		entries = append(entries, models.RecommendationEntry{
			CanonicalName:     canonical,
			Name:              c.name,
			SynergyPercentage: c.synergy,
			BudgetTier:        tier,
			Rank:              len(entries) + 1,
		})
		if limit > 0 && len(entries) == limit {
			break
		}
	}

	s.log.Info().Str("commander", slug).Str("tier", string(tier)).Int("cards", len(entries)).Msg("Fetched recommendations")
	return entries, nil
}

type edhrecCard struct {
	name    string
	synergy float64
}

type edhrecNextData struct {
	Props struct {
		PageProps struct {
			Data struct {
				Container struct {
					JSONDict struct {
						CardLists []struct {
							Header    string `json:"header"`
							CardViews []struct {
								Name    string   `json:"name"`
								Synergy *float64 `json:"synergy"`
							} `json:"cardviews"`
						} `json:"cardlists"`
					} `json:"json_dict"`
				} `json:"container"`
			} `json:"data"`
		} `json:"pageProps"`
	} `json:"props"`
}

// parseEDHRECPage prefers the page's embedded JSON payload and falls back to scanning
// the rendered card tiles.
func parseEDHRECPage(body []byte) ([]edhrecCard, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	script := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Script && getAttr(n, "id") == "__NEXT_DATA__"
	})
	if script != nil {
		cards, err := parseEDHRECNextData(rawText(script))
		if err == nil && len(cards) > 0 {
			return cards, nil
		}
	}

	return parseEDHRECTiles(doc), nil
}

func parseEDHRECNextData(payload string) ([]edhrecCard, error) {
	var data edhrecNextData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, err
	}
	lists := data.Props.PageProps.Data.Container.JSONDict.CardLists
	if len(lists) == 0 {
		return nil, errors.New("no card lists in page data")
	}

	var cards []edhrecCard
	for _, list := range lists {
		for _, cv := range list.CardViews {
			if strings.TrimSpace(cv.Name) == "" {
				continue
			}
			synergy := 0.0
			if cv.Synergy != nil {
				synergy = clampSynergy(*cv.Synergy * 100)
			}
			cards = append(cards, edhrecCard{name: strings.TrimSpace(cv.Name), synergy: synergy})
		}
	}
	return cards, nil
}

func parseEDHRECTiles(doc *html.Node) []edhrecCard {
	var tiles []*html.Node
	for _, class := range edhrecCardClasses {
		tiles = findAll(doc, func(n *html.Node) bool {
			return (n.DataAtom == atom.Div || n.DataAtom == atom.Article) && classContains(n, class)
		})
		if len(tiles) > 0 {
			break
		}
	}
	if len(tiles) == 0 {
		tiles = findAll(doc, func(n *html.Node) bool {
			return (n.DataAtom == atom.Div || n.DataAtom == atom.Article) &&
				(getAttr(n, "data-component") == "card" || getAttr(n, "data-card-id") != "")
		})
	}

	cards := make([]edhrecCard, 0, len(tiles))
	for _, tile := range tiles {
		name := tileName(tile)
		if name == "" {
			continue
		}
		cards = append(cards, edhrecCard{name: name, synergy: tileSynergy(tile)})
	}
	return cards
}

func tileName(tile *html.Node) string {
	nameNode := findFirst(tile, func(n *html.Node) bool {
		if n == tile {
			return false
		}
		switch n.DataAtom {
		case atom.H3, atom.Span, atom.Div, atom.A:
		default:
			return false
		}
		class := strings.ToLower(getAttr(n, "class"))
		return strings.Contains(class, "name") || strings.Contains(class, "title") || strings.Contains(class, "header")
	})
	if nameNode != nil {
		if name := nodeText(nameNode); name != "" {
			return name
		}
	}

	// No labelled element; take the first text that does not look like a stat badge
	for _, text := range strings.Split(collectTexts(tile), "\n") {
		text = strings.TrimSpace(text)
		if len(text) > 3 && !strings.HasPrefix(text, "+") && !strings.HasSuffix(text, "%") && !strings.HasPrefix(text, "$") {
			return text
		}
	}
	return ""
}

func tileSynergy(tile *html.Node) float64 {
	m := synergyPattern.FindStringSubmatch(nodeText(tile))
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return clampSynergy(v)
}

// collectTexts returns each non-empty text node of n on its own line
func collectTexts(n *html.Node) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(lines, "\n")
}

func clampSynergy(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v*100) / 100
}
