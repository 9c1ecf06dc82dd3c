package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/services"
)

type FinderHandler struct {
	finder *services.FinderService
}

func NewFinderHandler(finder *services.FinderService) *FinderHandler {
	return &FinderHandler{
		finder: finder,
	}
}

// GetUnderpriced lists retailer cards priced below the market
func (h *FinderHandler) GetUnderpriced(c *gin.Context) {
	threshold := services.DefaultThreshold
	if v := c.Query("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a number"})
			return
		}
		threshold = parsed
	}

	sortKey, err := services.ParseSortKey(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.finder.Underpriced(c.Request.Context(), threshold, sortKey)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type commanderRequest struct {
	CommanderURL string      `json:"commander_url" form:"url"`
	Name         string      `json:"name" form:"name"`
	MaxPrice     json.Number `json:"max_price" form:"max_price"` // number or numeric string
	Limit        int         `json:"limit" form:"limit"`
	Page         int         `json:"page" form:"page"`
	Tier         string      `json:"tier" form:"tier"`
}

// SearchCommander returns a page of affordable recommendations for a commander.
// Accepts query parameters (GET) or a JSON body (POST).
func (h *FinderHandler) SearchCommander(c *gin.Context) {
	var req commanderRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	query, err := req.toQuery()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.finder.CommanderSearch(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r commanderRequest) toQuery() (services.CommanderQuery, error) {
	q := services.CommanderQuery{
		URL:   r.CommanderURL,
		Name:  r.Name,
		Limit: r.Limit,
		Page:  r.Page,
	}
	if r.Limit < 0 || r.Page < 0 {
		return q, errBadParam("limit and page must not be negative")
	}

	if r.MaxPrice != "" {
		maxPrice, err := decimal.NewFromString(strings.TrimSpace(r.MaxPrice.String()))
		if err != nil {
			return q, errBadParam("max_price must be a number")
		}
		q.MaxPrice = maxPrice
	}

	if strings.EqualFold(strings.TrimSpace(r.Tier), "auto") {
		q.AutoTier = true
		return q, nil
	}
	tier, err := models.ParseBudgetTier(r.Tier)
	if err != nil {
		return q, err
	}
	q.Tier = tier
	return q, nil
}

type errBadParam string

func (e errBadParam) Error() string { return string(e) }

// SearchCommanders suggests commander names for autocomplete
func (h *FinderHandler) SearchCommanders(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	names, err := h.finder.SearchCommanders(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commanders": names,
		"count":      len(names),
	})
}
