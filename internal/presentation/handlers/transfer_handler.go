package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// TransferHandler handles HTTP requests for sending tokens and looking up
// submitted transactions
type TransferHandler struct {
	service *services.TransferService
	vault   *services.VaultService
	catalog *services.CatalogService
	logger  *zap.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(
	service *services.TransferService,
	vault *services.VaultService,
	catalog *services.CatalogService,
	logger *zap.Logger,
) *TransferHandler {
	return &TransferHandler{
		service: service,
		vault:   vault,
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers the transfer routes
func (h *TransferHandler) RegisterRoutes(r chi.Router) {
	r.Post("/transfers", h.CreateTransfer)
	r.Get("/transactions/{hash}", h.GetTransaction)
}

// TransferRequest is the body of POST /transfers. Token is an address; the
// native asset uses the 0xEeee...EEeE sentinel.
type TransferRequest struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// CreateTransfer handles POST /api/v1/transfers
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := sessionFrom(r, h.vault)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	token, err := describeToken(ctx, h.catalog, req.Token, h.logger)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	handle, err := h.service.Transfer(ctx, session, entities.TransferIntent{
		Token:     token,
		Amount:    req.Amount,
		Recipient: req.Recipient,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, handle)
}

// GetTransaction handles GET /api/v1/transactions/{hash}
func (h *TransferHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}
