package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// SwapHandler handles HTTP requests for prices, quotes and swaps
type SwapHandler struct {
	swaps    *services.SwapService
	vault    *services.VaultService
	catalog  *services.CatalogService
	upgrader *websocket.Upgrader
	logger   *zap.Logger
}

// NewSwapHandler creates a new swap handler
func NewSwapHandler(
	swaps *services.SwapService,
	vault *services.VaultService,
	catalog *services.CatalogService,
	allowedOrigins []string,
	logger *zap.Logger,
) *SwapHandler {
	return &SwapHandler{
		swaps:    swaps,
		vault:    vault,
		catalog:  catalog,
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger,
	}
}

// RegisterRoutes registers the swap routes
func (h *SwapHandler) RegisterRoutes(r chi.Router) {
	r.Route("/swap", func(r chi.Router) {
		r.Post("/", h.Swap)
		r.Post("/price", h.Price)
		r.Post("/quote", h.Quote)
		r.Post("/execute", h.Execute)
		r.Post("/approve", h.Approve)
	})
	r.Get("/ws/swap", h.PriceFeed)
}

// SwapRequest names the tokens by address and the sell amount in human
// units of the sell token
type SwapRequest struct {
	SellToken  string `json:"sell_token"`
	BuyToken   string `json:"buy_token"`
	SellAmount string `json:"sell_amount"`
}

// ExecuteRequest executes a firm quote for the current intent
type ExecuteRequest struct {
	SwapRequest
	QuoteID string `json:"quote_id"`
}

// ApproveRequest grants spender an allowance. An empty amount approves
// the maximum.
type ApproveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// SwapResponse is the outcome of POST /swap
type SwapResponse struct {
	Transaction *entities.TxHandle `json:"transaction"`
	Quote       *entities.Quote    `json:"quote"`
}

// PriceFrame is pushed to price feed clients
type PriceFrame struct {
	Generation uint64          `json:"generation"`
	Quote      *entities.Quote `json:"quote,omitempty"`
}

func (h *SwapHandler) intent(ctx context.Context, req SwapRequest) (entities.SwapIntent, error) {
	sell, err := describeToken(ctx, h.catalog, req.SellToken, h.logger)
	if err != nil {
		return entities.SwapIntent{}, err
	}
	buy, err := describeToken(ctx, h.catalog, req.BuyToken, h.logger)
	if err != nil {
		return entities.SwapIntent{}, err
	}
	return entities.SwapIntent{SellToken: sell, BuyToken: buy, SellAmount: req.SellAmount}, nil
}

// Price handles POST /api/v1/swap/price
func (h *SwapHandler) Price(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	intent, err := h.intent(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	quote, err := h.swaps.IndicativePrice(r.Context(), intent)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

// Quote handles POST /api/v1/swap/quote. The taker is the vault's wallet.
func (h *SwapHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	taker := h.vault.Address()
	if taker == "" {
		respondError(w, h.logger, entities.ErrNoWallet)
		return
	}

	intent, err := h.intent(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	quote, err := h.swaps.FirmQuote(r.Context(), intent, taker)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

// Execute handles POST /api/v1/swap/execute
func (h *SwapHandler) Execute(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFrom(r, h.vault)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	intent, err := h.intent(r.Context(), req.SwapRequest)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	handle, err := h.swaps.Execute(r.Context(), session, req.QuoteID, intent)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, handle)
}

// Swap handles POST /api/v1/swap: quote and execute in one step
func (h *SwapHandler) Swap(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFrom(r, h.vault)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req SwapRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	intent, err := h.intent(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	handle, quote, err := h.swaps.Swap(r.Context(), session, intent)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, SwapResponse{Transaction: handle, Quote: quote})
}

// Approve handles POST /api/v1/swap/approve
func (h *SwapHandler) Approve(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFrom(r, h.vault)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	token, err := describeToken(r.Context(), h.catalog, req.Token, h.logger)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	handle, err := h.swaps.Approve(r.Context(), session, token, req.Spender, req.Amount)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, handle)
}

// PriceFeed handles GET /api/v1/ws/swap. Each intent frame the client
// sends replaces the previous one; only prices for the newest intent are
// pushed.
func (h *SwapHandler) PriceFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := h.swaps.NewPriceFeed(ctx)
	defer feed.Close()

	go h.readIntents(ctx, conn, feed, cancel)
	go keepAlive(ctx, conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-feed.Updates():
			if !ok {
				return
			}
			msg := wsMessage{Type: "price", Data: PriceFrame{Generation: update.Generation, Quote: update.Quote}}
			if update.Err != nil {
				msg = wsMessage{
					Type:  "error",
					Data:  PriceFrame{Generation: update.Generation},
					Error: update.Err.Error(),
					Code:  entities.ErrorCode(update.Err),
				}
			}
			if err := writeFrame(conn, msg); err != nil {
				return
			}
		}
	}
}

// readIntents feeds client intents into feed until the client goes away
func (h *SwapHandler) readIntents(ctx context.Context, conn *websocket.Conn, feed *services.PriceFeed, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var req SwapRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		intent, err := h.intent(ctx, req)
		if err != nil {
			// an unresolvable token is reported through the feed's own validation
			intent = entities.SwapIntent{SellAmount: req.SellAmount}
		}
		feed.Update(intent)
	}
}
