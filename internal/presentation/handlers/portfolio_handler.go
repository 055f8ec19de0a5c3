package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// PortfolioHandler handles HTTP requests for balances, holdings and
// transaction history of an address
type PortfolioHandler struct {
	balances  *services.BalanceService
	transfers *services.TransferService
	upgrader  *websocket.Upgrader
	logger    *zap.Logger
}

// NewPortfolioHandler creates a new portfolio handler
func NewPortfolioHandler(
	balances *services.BalanceService,
	transfers *services.TransferService,
	allowedOrigins []string,
	logger *zap.Logger,
) *PortfolioHandler {
	return &PortfolioHandler{
		balances:  balances,
		transfers: transfers,
		upgrader:  newUpgrader(allowedOrigins),
		logger:    logger,
	}
}

// RegisterRoutes registers the portfolio routes on a chi router
func (h *PortfolioHandler) RegisterRoutes(r chi.Router) {
	r.Route("/wallets/{address}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Get("/holdings", h.GetHoldings)
		r.Post("/refresh", h.Refresh)
		r.Get("/transactions", h.GetTransactions)
	})
	r.Get("/ws/portfolio/{address}", h.Watch)
}

// BalanceResponse is the native balance of an address
type BalanceResponse struct {
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Formatted string `json:"balance_formatted"`
}

// HoldingsResponse lists the token holdings of an address
type HoldingsResponse struct {
	Address  string                  `json:"address"`
	Holdings []entities.TokenHolding `json:"holdings"`
}

// GetBalance handles GET /api/v1/wallets/{address}/balance
func (h *PortfolioHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := requireAddress(address, "wallet"); err != nil {
		respondError(w, h.logger, err)
		return
	}

	balance, err := h.balances.FetchBalance(r.Context(), address)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponse{
		Address:   address,
		Balance:   balance.String(),
		Formatted: entities.FormatUnits(balance, entities.NativeDecimals),
	})
}

// GetHoldings handles GET /api/v1/wallets/{address}/holdings
func (h *PortfolioHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := requireAddress(address, "wallet"); err != nil {
		respondError(w, h.logger, err)
		return
	}

	holdings, err := h.balances.FetchHoldings(r.Context(), address)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, HoldingsResponse{Address: address, Holdings: holdings})
}

// Refresh handles POST /api/v1/wallets/{address}/refresh
func (h *PortfolioHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := requireAddress(address, "wallet"); err != nil {
		respondError(w, h.logger, err)
		return
	}

	snapshot, err := h.balances.Refresh(r.Context(), address)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// GetTransactions handles GET /api/v1/wallets/{address}/transactions
func (h *PortfolioHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := requireAddress(address, "wallet"); err != nil {
		respondError(w, h.logger, err)
		return
	}

	limit, offset := 0, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}

	response, err := h.transfers.History(r.Context(), address, limit, offset)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// Watch handles GET /api/v1/ws/portfolio/{address}. Balances refresh
// periodically while the connection is open.
func (h *PortfolioHandler) Watch(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := requireAddress(address, "wallet"); err != nil {
		respondError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := h.balances.Watch(ctx, address)
	if err != nil {
		_ = writeFrame(conn, wsMessage{Type: "error", Error: err.Error(), Code: entities.ErrorCode(err)})
		return
	}

	go h.drain(conn, cancel)
	go keepAlive(ctx, conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := wsMessage{Type: "snapshot", Data: update.Snapshot}
			if update.Err != nil {
				msg = wsMessage{Type: "error", Error: update.Err.Error(), Code: entities.ErrorCode(update.Err)}
			}
			if err := writeFrame(conn, msg); err != nil {
				return
			}
		}
	}
}

// drain reads until the client goes away, then cancels the view
func (h *PortfolioHandler) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
