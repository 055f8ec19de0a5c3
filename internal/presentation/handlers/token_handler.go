package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/guptarohit/asciigraph"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

const (
	chartHeight = 12
	chartWidth  = 60
)

// TokenHandler handles HTTP requests for token lookup, the recent token
// list and charts
type TokenHandler struct {
	catalog *services.CatalogService
	charts  *services.ChartService
	logger  *zap.Logger
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(catalog *services.CatalogService, charts *services.ChartService, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		catalog: catalog,
		charts:  charts,
		logger:  logger,
	}
}

// RegisterRoutes registers the token routes
func (h *TokenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tokens/resolve", h.Resolve)
	r.Get("/tokens/recent", h.GetRecent)
	r.Post("/tokens/recent", h.RecordRecent)
	r.Get("/tokens/{address}/logo", h.GetLogo)
	r.Get("/tokens/{address}/chart", h.GetChart)
}

// TokenListResponse wraps a list of tokens
type TokenListResponse struct {
	Tokens []entities.TokenDescriptor `json:"tokens"`
}

// LogoResponse is the logo of a token
type LogoResponse struct {
	Address string `json:"address"`
	LogoURL string `json:"logo_url"`
}

type recordRecentRequest struct {
	Address string `json:"address"`
}

// Resolve handles GET /api/v1/tokens/resolve?q=
func (h *TokenHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.catalog.Resolve(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, TokenListResponse{Tokens: tokens})
}

// GetRecent handles GET /api/v1/tokens/recent
func (h *TokenHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.catalog.Recent(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, TokenListResponse{Tokens: tokens})
}

// RecordRecent handles POST /api/v1/tokens/recent
func (h *TokenHandler) RecordRecent(w http.ResponseWriter, r *http.Request) {
	var req recordRecentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	token, err := describeToken(r.Context(), h.catalog, req.Address, h.logger)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	tokens, err := h.catalog.RecordUsage(r.Context(), token)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, TokenListResponse{Tokens: tokens})
}

// GetLogo handles GET /api/v1/tokens/{address}/logo
func (h *TokenHandler) GetLogo(w http.ResponseWriter, r *http.Request) {
	token, err := describeToken(r.Context(), h.catalog, chi.URLParam(r, "address"), h.logger)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, LogoResponse{
		Address: token.Address,
		LogoURL: h.catalog.LogoURL(r.Context(), token),
	})
}

// GetChart handles GET /api/v1/tokens/{address}/chart?timeframe=&format=
func (h *TokenHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = string(entities.Timeframe1D)
	}

	series, err := h.charts.FetchSeries(r.Context(), chi.URLParam(r, "address"), timeframe)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		respondJSON(w, http.StatusOK, series)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Chart-Synthetic", strconv.FormatBool(series.Synthetic))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(renderChart(series)))
	default:
		respondError(w, h.logger, entities.Wrapf(entities.ErrInvalidInput, "unknown format %q", r.URL.Query().Get("format")))
	}
}

func renderChart(series *entities.Series) string {
	if len(series.Points) == 0 {
		return "No price data available.\n"
	}

	prices := make([]float64, len(series.Points))
	for i, p := range series.Points {
		prices[i] = p.Price
	}

	caption := fmt.Sprintf("%s %s (USD)", series.Token, series.Timeframe)
	if series.Synthetic {
		caption += " [illustrative]"
	}

	return asciigraph.Plot(prices,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	) + "\n"
}
