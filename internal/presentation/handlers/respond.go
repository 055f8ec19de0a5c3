package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// SessionHeader carries the session ID returned by create, import and
// unlock
const SessionHeader = "X-Session-ID"

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes err with the status of its kind. Errors without a
// kind are logged and reported as internal.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		message = "internal error"
	}
	respondJSON(w, status, ErrorResponse{Error: message, Code: entities.ErrorCode(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, entities.ErrInvalidInput),
		errors.Is(err, entities.ErrInvalidBackupFormat):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrVaultLocked),
		errors.Is(err, entities.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrNoWallet),
		errors.Is(err, entities.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrWalletExists):
		return http.StatusConflict
	case errors.Is(err, entities.ErrInsufficientBalance),
		errors.Is(err, entities.ErrInsufficientAllowance),
		errors.Is(err, entities.ErrQuoteExpired),
		errors.Is(err, entities.ErrNoLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrBroadcastFailed):
		return http.StatusBadGateway
	case errors.Is(err, entities.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into dest
func decodeJSON(r *http.Request, dest interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		return entities.Wrapf(entities.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

func isValidAddress(addr string) bool {
	return len(addr) == 42 && common.IsHexAddress(addr)
}

// sessionFrom resolves the session header. A missing header yields a nil
// session, which the services reject as locked.
func sessionFrom(r *http.Request, vault *services.VaultService) (*entities.Session, error) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		return nil, nil
	}
	return vault.ResolveSession(id)
}

// describeToken resolves address to a descriptor. When metadata cannot be
// read the descriptor keeps unknown decimals so amount parsing refuses it.
func describeToken(ctx context.Context, catalog *services.CatalogService, address string, logger *zap.Logger) (entities.TokenDescriptor, error) {
	if !entities.IsNativeAddress(address) && !isValidAddress(address) {
		return entities.TokenDescriptor{}, entities.Wrapf(entities.ErrInvalidAddress, "token %q", address)
	}

	desc, err := catalog.Describe(ctx, address)
	if err != nil {
		logger.Warn("Token metadata unavailable", zap.String("token", address), zap.Error(err))
		return entities.TokenDescriptor{Address: common.HexToAddress(address).Hex()}, nil
	}
	return desc, nil
}

func requireAddress(address, what string) error {
	if !isValidAddress(address) {
		return entities.Wrapf(entities.ErrInvalidAddress, "%s %q", what, address)
	}
	return nil
}
