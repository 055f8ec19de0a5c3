package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/infrastructure/keystore"
	"github.com/bimakw/chain-wallet/internal/testutil"
)

const testPassword = "correct horse battery staple"

func newTestVault(repo *testutil.MockWalletRepository) *VaultService {
	sealer := keystore.NewSealer(keystore.Params{Memory: 64, Iterations: 1, Parallelism: 1})
	return NewVaultService(repo, sealer, "default", big.NewInt(1), zap.NewNop())
}

func fixedTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       addrPtr(testutil.BobAddress),
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
}

func addrPtr(s string) *common.Address {
	a := common.HexToAddress(s)
	return &a
}

func backupJSON(t *testing.T, b map[string]any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestVaultService_Create(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewMockWalletRepository()
	vault := newTestVault(repo)

	if vault.State() != entities.VaultNoWallet {
		t.Fatalf("expected no wallet, got %s", vault.State())
	}

	wallet, session, err := vault.Create(ctx, testPassword)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if vault.State() != entities.VaultUnlocked {
		t.Errorf("expected unlocked after create, got %s", vault.State())
	}
	if session.Address != wallet.Address {
		t.Errorf("session address %s != wallet address %s", session.Address, wallet.Address)
	}

	backup, err := vault.ExportBackup(session)
	if err != nil {
		t.Fatalf("ExportBackup() error: %v", err)
	}
	if backup.Address != wallet.Address || !strings.HasPrefix(backup.PrivateKey, "0x") {
		t.Errorf("unexpected backup %+v", backup)
	}

	stored, _ := repo.Get(ctx, "default")
	if stored == nil || len(stored.Ciphertext) == 0 {
		t.Fatal("expected sealed key to be persisted")
	}
	if bytes.Contains(stored.Ciphertext, common.FromHex(backup.PrivateKey)) {
		t.Error("plaintext key must not be persisted")
	}

	_, _, err = vault.Create(ctx, testPassword)
	if !errors.Is(err, entities.ErrWalletExists) {
		t.Errorf("second Create() error = %v, want ErrWalletExists", err)
	}
}

func TestVaultService_LockUnlockRestoresSigning(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(testutil.NewMockWalletRepository())

	wallet, session, err := vault.Create(ctx, testPassword)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	before, err := vault.SignedBytes(session, fixedTx())
	if err != nil {
		t.Fatalf("SignedBytes() error: %v", err)
	}

	vault.Lock()
	if vault.State() != entities.VaultLocked {
		t.Fatalf("expected locked, got %s", vault.State())
	}
	if _, err := vault.Sign(session, fixedTx()); !errors.Is(err, entities.ErrVaultLocked) {
		t.Errorf("Sign() while locked error = %v, want ErrVaultLocked", err)
	}

	restored, err := vault.Unlock(ctx, testPassword)
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if restored.Address != wallet.Address {
		t.Errorf("restored address %s, want %s", restored.Address, wallet.Address)
	}

	after, err := vault.SignedBytes(restored, fixedTx())
	if err != nil {
		t.Fatalf("SignedBytes() error: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("signature changed across lock and unlock")
	}

	if _, err := vault.Sign(session, fixedTx()); !errors.Is(err, entities.ErrVaultLocked) {
		t.Errorf("stale session error = %v, want ErrVaultLocked", err)
	}
}

func TestVaultService_Unlock(t *testing.T) {
	ctx := context.Background()

	t.Run("no wallet", func(t *testing.T) {
		vault := newTestVault(testutil.NewMockWalletRepository())
		if _, err := vault.Unlock(ctx, testPassword); !errors.Is(err, entities.ErrNoWallet) {
			t.Errorf("Unlock() error = %v, want ErrNoWallet", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		vault := newTestVault(testutil.NewMockWalletRepository())
		_, _, _ = vault.Create(ctx, testPassword)
		vault.Lock()

		if _, err := vault.Unlock(ctx, "wrong"); !errors.Is(err, entities.ErrInvalidPassword) {
			t.Errorf("Unlock() error = %v, want ErrInvalidPassword", err)
		}
		if vault.State() != entities.VaultLocked {
			t.Errorf("failed unlock must leave the vault locked")
		}
	})

	t.Run("corrupt ciphertext", func(t *testing.T) {
		repo := testutil.NewMockWalletRepository()
		vault := newTestVault(repo)
		wallet, _, _ := vault.Create(ctx, testPassword)

		corrupt := *wallet
		corrupt.Ciphertext = append([]byte{}, wallet.Ciphertext...)
		corrupt.Ciphertext[0] ^= 0xff
		repo.GetFunc = func(context.Context, string) (*entities.Wallet, error) { return &corrupt, nil }

		reloaded := newTestVault(repo)
		if err := reloaded.Load(ctx); err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if _, err := reloaded.Unlock(ctx, testPassword); !errors.Is(err, entities.ErrInvalidPassword) {
			t.Errorf("Unlock() error = %v, want ErrInvalidPassword", err)
		}
	})

	t.Run("already unlocked returns live session", func(t *testing.T) {
		vault := newTestVault(testutil.NewMockWalletRepository())
		_, session, _ := vault.Create(ctx, testPassword)

		again, err := vault.Unlock(ctx, testPassword)
		if err != nil {
			t.Fatalf("Unlock() error: %v", err)
		}
		if again.ID != session.ID {
			t.Errorf("expected the live session, got a new one")
		}
		if _, err := vault.Unlock(ctx, "wrong"); !errors.Is(err, entities.ErrInvalidPassword) {
			t.Errorf("password is still checked when unlocked, got %v", err)
		}
	})
}

func TestVaultService_LoadRestoresLocked(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewMockWalletRepository()

	wallet, _, err := newTestVault(repo).Create(ctx, testPassword)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	restarted := newTestVault(repo)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if restarted.State() != entities.VaultLocked {
		t.Errorf("expected locked after load, got %s", restarted.State())
	}
	if restarted.Address() != wallet.Address {
		t.Errorf("Address() = %s, want %s", restarted.Address(), wallet.Address)
	}
}

func TestVaultService_ImportFromBackup(t *testing.T) {
	ctx := context.Background()
	address := testutil.TestKeyAddress()

	tests := []struct {
		name    string
		backup  map[string]any
		wantErr error
	}{
		{
			name:    "missing private key",
			backup:  map[string]any{"address": address, "createdAt": "2024-01-01T00:00:00Z"},
			wantErr: entities.ErrInvalidBackupFormat,
		},
		{
			name:    "missing address",
			backup:  map[string]any{"privateKey": testutil.TestPrivateKeyHex},
			wantErr: entities.ErrInvalidBackupFormat,
		},
		{
			name:    "malformed key",
			backup:  map[string]any{"address": address, "privateKey": "0xnothex"},
			wantErr: entities.ErrInvalidBackupFormat,
		},
		{
			name:    "key does not match address",
			backup:  map[string]any{"address": testutil.BobAddress, "privateKey": testutil.TestPrivateKeyHex},
			wantErr: entities.ErrInvalidBackupFormat,
		},
		{
			name:   "valid backup",
			backup: map[string]any{"address": strings.ToLower(address), "privateKey": "0x" + testutil.TestPrivateKeyHex, "createdAt": "2024-01-01T00:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := testutil.NewMockWalletRepository()
			vault := newTestVault(repo)

			wallet, session, err := vault.ImportFromBackup(ctx, backupJSON(t, tt.backup), testPassword)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ImportFromBackup() error = %v, want %v", err, tt.wantErr)
				}
				if vault.State() != entities.VaultNoWallet {
					t.Errorf("state changed to %s on failed import", vault.State())
				}
				if repo.CallCount("Create") != 0 {
					t.Error("nothing may be persisted on failed import")
				}
				return
			}

			if err != nil {
				t.Fatalf("ImportFromBackup() error: %v", err)
			}
			if wallet.Address != address || session.Address != address {
				t.Errorf("imported address %s, want %s", wallet.Address, address)
			}
			if wallet.CreatedAt.Year() != 2024 {
				t.Errorf("createdAt not preserved: %v", wallet.CreatedAt)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		vault := newTestVault(testutil.NewMockWalletRepository())
		_, _, err := vault.ImportFromBackup(ctx, strings.NewReader("{not json"), testPassword)
		if !errors.Is(err, entities.ErrInvalidBackupFormat) {
			t.Errorf("error = %v, want ErrInvalidBackupFormat", err)
		}
	})

	t.Run("wallet already present", func(t *testing.T) {
		vault := newTestVault(testutil.NewMockWalletRepository())
		_, _, _ = vault.Create(ctx, testPassword)

		_, _, err := vault.ImportFromBackup(ctx, backupJSON(t, map[string]any{
			"address": address, "privateKey": testutil.TestPrivateKeyHex,
		}), testPassword)
		if !errors.Is(err, entities.ErrWalletExists) {
			t.Errorf("error = %v, want ErrWalletExists", err)
		}
	})
}

func TestVaultService_BackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(testutil.NewMockWalletRepository())

	wallet, session, _ := vault.Create(ctx, testPassword)
	backup, err := vault.ExportBackup(session)
	if err != nil {
		t.Fatalf("ExportBackup() error: %v", err)
	}
	data, _ := json.Marshal(backup)

	if err := vault.Clear(ctx, "0x0000000000000000000000000000000000000001"); !errors.Is(err, entities.ErrInvalidInput) {
		t.Fatalf("Clear() with another address error = %v, want ErrInvalidInput", err)
	}
	if vault.State() == entities.VaultNoWallet {
		t.Fatal("a mismatched address must keep the wallet")
	}
	if err := vault.Clear(ctx, strings.ToUpper(wallet.Address[2:])); err == nil {
		t.Fatal("expected an address without 0x to be rejected")
	}
	if err := vault.Clear(ctx, strings.ToLower(wallet.Address)); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := vault.Clear(ctx, wallet.Address); !errors.Is(err, entities.ErrNoWallet) {
		t.Errorf("second Clear() error = %v, want ErrNoWallet", err)
	}
	if vault.State() != entities.VaultNoWallet {
		t.Fatalf("expected no wallet after clear, got %s", vault.State())
	}
	if _, err := vault.ExportBackup(session); !errors.Is(err, entities.ErrNoWallet) {
		t.Errorf("ExportBackup() after clear error = %v, want ErrNoWallet", err)
	}

	imported, _, err := vault.ImportFromBackup(ctx, bytes.NewReader(data), "another password")
	if err != nil {
		t.Fatalf("ImportFromBackup() error: %v", err)
	}
	if imported.Address != wallet.Address {
		t.Errorf("imported %s, want %s", imported.Address, wallet.Address)
	}
}

func TestVaultService_ResolveSession(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(testutil.NewMockWalletRepository())
	_, session, _ := vault.Create(ctx, testPassword)

	if _, err := vault.ResolveSession(session.ID); err != nil {
		t.Errorf("ResolveSession() error: %v", err)
	}
	if _, err := vault.ResolveSession("forged"); !errors.Is(err, entities.ErrVaultLocked) {
		t.Errorf("forged session error = %v, want ErrVaultLocked", err)
	}
	if _, err := vault.ExportBackup(nil); !errors.Is(err, entities.ErrVaultLocked) {
		t.Errorf("nil session error = %v, want ErrVaultLocked", err)
	}
}

func TestVaultService_ConcurrentSignAndLock(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(testutil.NewMockWalletRepository())
	_, session, _ := vault.Create(ctx, testPassword)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signed, err := vault.Sign(session, fixedTx())
			if err != nil && !errors.Is(err, entities.ErrVaultLocked) {
				t.Errorf("unexpected sign error: %v", err)
			}
			if err == nil && signed == nil {
				t.Error("nil transaction without error")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		vault.Lock()
	}()
	wg.Wait()

	if _, err := vault.Sign(session, fixedTx()); !errors.Is(err, entities.ErrVaultLocked) {
		t.Errorf("Sign() after lock error = %v, want ErrVaultLocked", err)
	}
}
