package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// WalletHandler handles HTTP requests for the key vault
type WalletHandler struct {
	vault    *services.VaultService
	attempts []func(http.Handler) http.Handler
	logger   *zap.Logger
}

// NewWalletHandler creates a new wallet handler. attempts wraps the
// routes that check a password.
func NewWalletHandler(vault *services.VaultService, logger *zap.Logger, attempts ...func(http.Handler) http.Handler) *WalletHandler {
	return &WalletHandler{
		vault:    vault,
		attempts: attempts,
		logger:   logger,
	}
}

// RegisterRoutes registers the wallet routes
func (h *WalletHandler) RegisterRoutes(r chi.Router) {
	r.Route("/wallet", func(r chi.Router) {
		r.Get("/", h.GetWallet)
		r.Post("/", h.CreateWallet)
		r.Delete("/", h.ClearWallet)
		r.With(h.attempts...).Post("/import", h.ImportWallet)
		r.With(h.attempts...).Post("/unlock", h.Unlock)
		r.Post("/lock", h.Lock)
		r.Get("/backup", h.ExportBackup)
	})
}

// WalletStatus is the vault state as seen by clients
type WalletStatus struct {
	State   entities.VaultState `json:"state"`
	Address string              `json:"address,omitempty"`
}

// SessionResponse is returned when the vault becomes unlocked
type SessionResponse struct {
	Wallet  WalletStatus      `json:"wallet"`
	Session *entities.Session `json:"session"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type clearRequest struct {
	Address string `json:"address"`
}

type importRequest struct {
	Password string          `json:"password"`
	Backup   json.RawMessage `json:"backup"`
}

func (h *WalletHandler) status() WalletStatus {
	return WalletStatus{State: h.vault.State(), Address: h.vault.Address()}
}

func (h *WalletHandler) unlocked(w http.ResponseWriter, status int, session *entities.Session) {
	w.Header().Set(SessionHeader, session.ID)
	respondJSON(w, status, SessionResponse{Wallet: h.status(), Session: session})
}

// GetWallet handles GET /api/v1/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

// CreateWallet handles POST /api/v1/wallet
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	_, session, err := h.vault.Create(r.Context(), req.Password)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.unlocked(w, http.StatusCreated, session)
}

// ImportWallet handles POST /api/v1/wallet/import
func (h *WalletHandler) ImportWallet(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if len(req.Backup) == 0 {
		respondError(w, h.logger, entities.Wrapf(entities.ErrInvalidBackupFormat, "backup is required"))
		return
	}

	_, session, err := h.vault.ImportFromBackup(r.Context(), bytes.NewReader(req.Backup), req.Password)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.unlocked(w, http.StatusCreated, session)
}

// Unlock handles POST /api/v1/wallet/unlock
func (h *WalletHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	session, err := h.vault.Unlock(r.Context(), req.Password)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.unlocked(w, http.StatusOK, session)
}

// Lock handles POST /api/v1/wallet/lock
func (h *WalletHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.vault.Lock()
	respondJSON(w, http.StatusOK, h.status())
}

// ExportBackup handles GET /api/v1/wallet/backup
func (h *WalletHandler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFrom(r, h.vault)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	backup, err := h.vault.ExportBackup(session)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="wallet-backup.json"`)
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, backup)
}

// ClearWallet handles DELETE /api/v1/wallet. The body repeats the wallet
// address.
func (h *WalletHandler) ClearWallet(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.vault.Clear(r.Context(), req.Address); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
