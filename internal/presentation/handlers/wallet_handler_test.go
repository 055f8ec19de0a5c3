package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/presentation/middleware"
	"github.com/bimakw/chain-wallet/internal/testutil"
)

func TestWalletHandler_Lifecycle(t *testing.T) {
	f := setupAPI(t)

	status := decodeBody[WalletStatus](t, f.do(t, http.MethodGet, "/api/v1/wallet", nil, ""))
	if status.State != entities.VaultNoWallet {
		t.Fatalf("expected no_wallet, got %s", status.State)
	}

	expectError(t, f.do(t, http.MethodPost, "/api/v1/wallet", map[string]string{"password": ""}, ""),
		http.StatusBadRequest, "invalid_input")

	rec := f.do(t, http.MethodPost, "/api/v1/wallet", map[string]string{"password": testPassword}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	session := rec.Header().Get(SessionHeader)
	created := decodeBody[SessionResponse](t, rec)
	if session == "" || created.Session.ID != session || created.Wallet.State != entities.VaultUnlocked {
		t.Fatalf("unexpected create response %+v", created)
	}

	expectError(t, f.do(t, http.MethodPost, "/api/v1/wallet", map[string]string{"password": testPassword}, ""),
		http.StatusConflict, "wallet_exists")

	rec = f.do(t, http.MethodGet, "/api/v1/wallet/backup", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup: expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Error("backup should download as an attachment")
	}
	backup := decodeBody[entities.Backup](t, rec)
	if backup.Address != created.Wallet.Address || !strings.HasPrefix(backup.PrivateKey, "0x") {
		t.Errorf("unexpected backup for %s", backup.Address)
	}

	status = decodeBody[WalletStatus](t, f.do(t, http.MethodPost, "/api/v1/wallet/lock", nil, ""))
	if status.State != entities.VaultLocked {
		t.Fatalf("expected locked, got %s", status.State)
	}
	expectError(t, f.do(t, http.MethodGet, "/api/v1/wallet/backup", nil, session), http.StatusUnauthorized, "vault_locked")

	expectError(t, f.do(t, http.MethodPost, "/api/v1/wallet/unlock", map[string]string{"password": "wrong"}, ""),
		http.StatusUnauthorized, "invalid_password")

	rec = f.do(t, http.MethodPost, "/api/v1/wallet/unlock", map[string]string{"password": testPassword}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock: expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get(SessionHeader) == session {
		t.Error("unlock should issue a new session")
	}

	expectError(t, f.do(t, http.MethodDelete, "/api/v1/wallet", nil, ""), http.StatusBadRequest, "invalid_input")
	expectError(t, f.do(t, http.MethodDelete, "/api/v1/wallet", map[string]string{"address": testutil.CharlieAddr}, ""),
		http.StatusBadRequest, "invalid_input")
	if status := decodeBody[WalletStatus](t, f.do(t, http.MethodGet, "/api/v1/wallet", nil, "")); status.State == entities.VaultNoWallet {
		t.Fatal("a rejected clear must keep the wallet")
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/wallet", map[string]string{"address": created.Wallet.Address}, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected status 204, got %d", rec.Code)
	}
	status = decodeBody[WalletStatus](t, f.do(t, http.MethodGet, "/api/v1/wallet", nil, ""))
	if status.State != entities.VaultNoWallet || status.Address != "" {
		t.Errorf("expected no wallet after clear, got %+v", status)
	}

	expectError(t, f.do(t, http.MethodDelete, "/api/v1/wallet", map[string]string{"address": created.Wallet.Address}, ""),
		http.StatusNotFound, "no_wallet")
}

func TestWalletHandler_Import(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "missing private key",
			body:   map[string]interface{}{"password": testPassword, "backup": map[string]string{"address": testutil.TestKeyAddress()}},
			status: http.StatusBadRequest,
			code:   "invalid_backup_format",
		},
		{
			name: "address mismatch",
			body: map[string]interface{}{"password": testPassword, "backup": map[string]string{
				"address":    testutil.BobAddress,
				"privateKey": testutil.TestPrivateKeyHex,
			}},
			status: http.StatusBadRequest,
			code:   "invalid_backup_format",
		},
		{
			name:   "no backup",
			body:   map[string]interface{}{"password": testPassword},
			status: http.StatusBadRequest,
			code:   "invalid_backup_format",
		},
		{
			name:   "malformed body",
			body:   "not an object",
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t)
			expectError(t, f.do(t, http.MethodPost, "/api/v1/wallet/import", tt.body, ""), tt.status, tt.code)

			status := decodeBody[WalletStatus](t, f.do(t, http.MethodGet, "/api/v1/wallet", nil, ""))
			if status.State != entities.VaultNoWallet {
				t.Errorf("failed import changed state to %s", status.State)
			}
		})
	}

	t.Run("valid backup", func(t *testing.T) {
		f := setupAPI(t)
		f.importWallet(t)

		status := decodeBody[WalletStatus](t, f.do(t, http.MethodGet, "/api/v1/wallet", nil, ""))
		if status.Address != testutil.TestKeyAddress() || status.State != entities.VaultUnlocked {
			t.Errorf("unexpected state %+v", status)
		}
	})
}

func TestWalletHandler_PasswordAttemptsLimited(t *testing.T) {
	f := setupAPI(t)
	f.importWallet(t)
	f.vault.Lock()

	r := chi.NewRouter()
	NewWalletHandler(f.vault, zap.NewNop(), middleware.PasswordAttempts(2)).RegisterRoutes(r)
	f.router = r

	for i := 0; i < 2; i++ {
		expectError(t, f.do(t, http.MethodPost, "/wallet/unlock", map[string]string{"password": "guess"}, ""),
			http.StatusUnauthorized, "invalid_password")
	}

	rec := f.do(t, http.MethodPost, "/wallet/unlock", map[string]string{"password": testPassword}, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 after the limit, got %d", rec.Code)
	}
	if f.vault.State() != entities.VaultLocked {
		t.Error("a limited attempt must not unlock the vault")
	}
}
