package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

// maxTokensPerPriceRequest bounds the contract list of one price request
const maxTokensPerPriceRequest = 50

// Ensure Client implements MarketDataProvider
var _ providers.MarketDataProvider = (*Client)(nil)

// Client is a CoinGecko API client bound to one platform
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	platform     string
	nativeCoinID string
	logger       *zap.Logger
}

// NewClient creates a new CoinGecko client
func NewClient(cfg config.MarketConfig, logger *zap.Logger) *Client {
	return &Client{
		http:         &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		platform:     cfg.Platform,
		nativeCoinID: cfg.NativeCoinID,
		logger:       logger,
	}
}

// CoinList returns every listed coin with its platform addresses
func (c *Client) CoinList(ctx context.Context) ([]providers.MarketToken, error) {
	var coins []providers.MarketToken
	if err := c.get(ctx, "/coins/list", url.Values{"include_platform": {"true"}}, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

type contractResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  struct {
		Thumb string `json:"thumb"`
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"image"`
	DetailPlatforms map[string]struct {
		DecimalPlace    *int   `json:"decimal_place"`
		ContractAddress string `json:"contract_address"`
	} `json:"detail_platforms"`
}

// TokenDetails looks up a contract on the configured platform
func (c *Client) TokenDetails(ctx context.Context, contract string) (*providers.TokenDetails, error) {
	path := fmt.Sprintf("/coins/%s/contract/%s", url.PathEscape(c.platform), url.PathEscape(strings.ToLower(contract)))

	var body contractResponse
	if err := c.get(ctx, path, nil, &body); err != nil {
		return nil, err
	}

	details := &providers.TokenDetails{
		ID:       body.ID,
		Symbol:   strings.ToUpper(body.Symbol),
		Name:     body.Name,
		ImageURL: body.Image.Small,
	}
	if details.ImageURL == "" {
		details.ImageURL = body.Image.Thumb
	}
	if p, ok := body.DetailPlatforms[c.platform]; ok && p.DecimalPlace != nil && *p.DecimalPlace >= 0 && *p.DecimalPlace <= 255 {
		d := uint8(*p.DecimalPlace)
		details.Decimals = &d
	}

	return details, nil
}

type priceEntry struct {
	USD       *float64 `json:"usd"`
	Change24h float64  `json:"usd_24h_change"`
}

// TokenPrices returns current USD prices keyed by lower-cased address
func (c *Client) TokenPrices(ctx context.Context, tokens []entities.TokenDescriptor) (map[string]entities.TokenPrice, error) {
	prices := make(map[string]entities.TokenPrice, len(tokens))

	var contracts []string
	for _, token := range tokens {
		if token.IsNative() {
			price, ok, err := c.nativePrice(ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				prices[token.Key()] = price
			}
			continue
		}
		contracts = append(contracts, token.Key())
	}

	for start := 0; start < len(contracts); start += maxTokensPerPriceRequest {
		end := start + maxTokensPerPriceRequest
		if end > len(contracts) {
			end = len(contracts)
		}

		var body map[string]priceEntry
		query := url.Values{
			"contract_addresses":  {strings.Join(contracts[start:end], ",")},
			"vs_currencies":       {"usd"},
			"include_24hr_change": {"true"},
		}
		if err := c.get(ctx, "/simple/token_price/"+url.PathEscape(c.platform), query, &body); err != nil {
			return nil, err
		}

		for addr, entry := range body {
			if entry.USD == nil {
				continue
			}
			prices[strings.ToLower(addr)] = entities.TokenPrice{USD: *entry.USD, Change24h: entry.Change24h}
		}
	}

	return prices, nil
}

func (c *Client) nativePrice(ctx context.Context) (entities.TokenPrice, bool, error) {
	var body map[string]priceEntry
	query := url.Values{
		"ids":                 {c.nativeCoinID},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}
	if err := c.get(ctx, "/simple/price", query, &body); err != nil {
		return entities.TokenPrice{}, false, err
	}

	entry, ok := body[c.nativeCoinID]
	if !ok || entry.USD == nil {
		return entities.TokenPrice{}, false, nil
	}
	return entities.TokenPrice{USD: *entry.USD, Change24h: entry.Change24h}, true, nil
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// PriceHistory returns USD price samples over the last days
func (c *Client) PriceHistory(ctx context.Context, token entities.TokenDescriptor, days int) ([]entities.PricePoint, error) {
	path := fmt.Sprintf("/coins/%s/contract/%s/market_chart", url.PathEscape(c.platform), url.PathEscape(token.Key()))
	if token.IsNative() {
		path = fmt.Sprintf("/coins/%s/market_chart", url.PathEscape(c.nativeCoinID))
	}

	var body marketChartResponse
	query := url.Values{"vs_currency": {"usd"}, "days": {strconv.Itoa(days)}}
	if err := c.get(ctx, path, query, &body); err != nil {
		return nil, err
	}

	points := make([]entities.PricePoint, 0, len(body.Prices))
	for _, p := range body.Prices {
		points = append(points, entities.PricePoint{
			Timestamp: time.UnixMilli(int64(p[0])).UTC(),
			Price:     p[1],
		})
	}
	return points, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return entities.Unavailable("market data request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return entities.Wrapf(entities.ErrNotFound, "market data for %s", path)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("Market data provider returned error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return entities.Unavailable("market data request", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return entities.Unavailable("decode market data", err)
	}
	return nil
}
