package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
	"github.com/bimakw/chain-wallet/internal/infrastructure/keystore"
)

// VaultService owns the wallet key. The decrypted key never leaves it:
// callers hold a Session and ask the vault to sign.
//
// Lock and Unlock take the write lock. Signing holds the read lock for the
// whole signature, so a signature never straddles a lock.
type VaultService struct {
	walletRepo repositories.WalletRepository
	sealer     *keystore.Sealer
	namespace  string
	chainID    *big.Int
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	wallet  *entities.Wallet
	key     *ecdsa.PrivateKey
	session *entities.Session
}

// NewVaultService creates a new vault service. Call Load before use to
// restore a persisted wallet.
func NewVaultService(
	walletRepo repositories.WalletRepository,
	sealer *keystore.Sealer,
	namespace string,
	chainID *big.Int,
	logger *zap.Logger,
) *VaultService {
	return &VaultService{
		walletRepo: walletRepo,
		sealer:     sealer,
		namespace:  namespace,
		chainID:    new(big.Int).Set(chainID),
		logger:     logger,
		now:        time.Now,
	}
}

// Load restores the persisted wallet in the locked state
func (s *VaultService) Load(ctx context.Context) error {
	wallet, err := s.walletRepo.Get(ctx, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.discardLocked()
	s.wallet = wallet
	if wallet != nil {
		s.logger.Info("Wallet loaded", zap.String("address", wallet.Address))
	}
	return nil
}

// State returns the vault lifecycle state
func (s *VaultService) State() entities.VaultState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *VaultService) stateLocked() entities.VaultState {
	switch {
	case s.wallet == nil:
		return entities.VaultNoWallet
	case s.key == nil:
		return entities.VaultLocked
	default:
		return entities.VaultUnlocked
	}
}

// Address returns the wallet address, empty when there is no wallet
func (s *VaultService) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return ""
	}
	return s.wallet.Address
}

// Create generates a new key, persists it sealed under password and
// leaves the vault unlocked so the backup can be exported right away.
func (s *VaultService) Create(ctx context.Context, password string) (*entities.Wallet, *entities.Session, error) {
	if password == "" {
		return nil, nil, entities.Wrapf(entities.ErrInvalidInput, "password is required")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	wallet, session, err := s.store(ctx, key, password, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Wallet created", zap.String("address", wallet.Address))
	return wallet, session, nil
}

// ImportFromBackup restores a wallet from a backup file. The file is fully
// validated before any state changes.
func (s *VaultService) ImportFromBackup(ctx context.Context, r io.Reader, password string) (*entities.Wallet, *entities.Session, error) {
	if password == "" {
		return nil, nil, entities.Wrapf(entities.ErrInvalidInput, "password is required")
	}

	key, createdAt, err := parseBackup(r)
	if err != nil {
		return nil, nil, err
	}
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	wallet, session, err := s.store(ctx, key, password, createdAt)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Wallet imported", zap.String("address", wallet.Address))
	return wallet, session, nil
}

func parseBackup(r io.Reader) (*ecdsa.PrivateKey, time.Time, error) {
	var backup entities.Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, time.Time{}, entities.Wrapf(entities.ErrInvalidBackupFormat, "malformed backup: %v", err)
	}
	if backup.Address == "" || backup.PrivateKey == "" {
		return nil, time.Time{}, entities.Wrapf(entities.ErrInvalidBackupFormat, "backup needs address and privateKey")
	}
	if !common.IsHexAddress(backup.Address) {
		return nil, time.Time{}, entities.Wrapf(entities.ErrInvalidBackupFormat, "backup address is malformed")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(backup.PrivateKey), "0x"))
	if err != nil {
		return nil, time.Time{}, entities.Wrapf(entities.ErrInvalidBackupFormat, "backup key is malformed")
	}

	if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(backup.Address) {
		return nil, time.Time{}, entities.Wrapf(entities.ErrInvalidBackupFormat, "backup key does not match address %s", backup.Address)
	}

	return key, backup.CreatedAt, nil
}

// store seals key, persists it and unlocks the vault with it
func (s *VaultService) store(ctx context.Context, key *ecdsa.PrivateKey, password string, createdAt time.Time) (*entities.Wallet, *entities.Session, error) {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet != nil {
		return nil, nil, entities.ErrWalletExists
	}

	plaintext := crypto.FromECDSA(key)
	defer keystore.Zero(plaintext)

	sealed, err := s.sealer.Seal(plaintext, []byte(password), []byte(address))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seal key: %w", err)
	}

	wallet := &entities.Wallet{
		EncryptedKey: *sealed,
		Address:      address,
		CreatedAt:    createdAt,
	}
	if err := s.walletRepo.Create(ctx, s.namespace, wallet); err != nil {
		if errors.Is(err, entities.ErrWalletExists) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to persist wallet: %w", err)
	}

	s.wallet = wallet
	s.key = key
	s.session = s.newSession(address)

	copied := *s.session
	return wallet, &copied, nil
}

// Unlock decrypts the key and opens a session. Unlocking an unlocked vault
// checks the password and returns the live session.
func (s *VaultService) Unlock(ctx context.Context, password string) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet == nil {
		return nil, entities.ErrNoWallet
	}

	plaintext, err := s.sealer.Open(&s.wallet.EncryptedKey, []byte(password), []byte(s.wallet.Address))
	if err != nil {
		s.logger.Warn("Unlock failed", zap.String("address", s.wallet.Address))
		return nil, entities.ErrInvalidPassword
	}
	defer keystore.Zero(plaintext)

	if s.key != nil && s.session != nil {
		copied := *s.session
		return &copied, nil
	}

	key, err := crypto.ToECDSA(plaintext)
	if err != nil || crypto.PubkeyToAddress(key.PublicKey).Hex() != s.wallet.Address {
		return nil, entities.ErrInvalidPassword
	}

	s.key = key
	s.session = s.newSession(s.wallet.Address)
	s.logger.Info("Vault unlocked", zap.String("address", s.wallet.Address))

	copied := *s.session
	return &copied, nil
}

// Lock discards the session and the decrypted key
func (s *VaultService) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.logger.Info("Vault locked")
	}
	s.discardLocked()
}

// Clear deletes the persisted wallet and returns the vault to NoWallet.
// address must name the stored wallet.
func (s *VaultService) Clear(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet == nil {
		return entities.ErrNoWallet
	}
	if !strings.EqualFold(strings.TrimSpace(address), s.wallet.Address) {
		return entities.Wrapf(entities.ErrInvalidInput, "address does not match the stored wallet")
	}

	if err := s.walletRepo.Delete(ctx, s.namespace); err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}

	s.discardLocked()
	s.wallet = nil
	s.logger.Info("Wallet cleared")
	return nil
}

// ResolveSession returns the live session with the given ID
func (s *VaultService) ResolveSession(id string) (*entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkSessionLocked(id); err != nil {
		return nil, err
	}
	copied := *s.session
	return &copied, nil
}

// ExportBackup returns the backup file contents. It requires a live
// session.
func (s *VaultService) ExportBackup(session *entities.Session) (*entities.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkSessionLocked(sessionID(session)); err != nil {
		return nil, err
	}

	return &entities.Backup{
		Address:    s.wallet.Address,
		PrivateKey: "0x" + common.Bytes2Hex(crypto.FromECDSA(s.key)),
		CreatedAt:  s.wallet.CreatedAt,
	}, nil
}

// Sign signs tx for the configured chain
func (s *VaultService) Sign(session *entities.Session, tx *types.Transaction) (*types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkSessionLocked(sessionID(session)); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// SignedBytes signs tx and returns its raw encoding
func (s *VaultService) SignedBytes(session *entities.Session, tx *types.Transaction) ([]byte, error) {
	signed, err := s.Sign(session, tx)
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

func (s *VaultService) checkSessionLocked(id string) error {
	switch s.stateLocked() {
	case entities.VaultNoWallet:
		return entities.ErrNoWallet
	case entities.VaultLocked:
		return entities.ErrVaultLocked
	}
	if id == "" || s.session == nil || id != s.session.ID {
		return entities.ErrVaultLocked
	}
	return nil
}

func (s *VaultService) newSession(address string) *entities.Session {
	return &entities.Session{
		ID:         uuid.NewString(),
		Address:    address,
		UnlockedAt: s.now().UTC(),
	}
}

// discardLocked drops the key and session. The caller holds the write lock.
func (s *VaultService) discardLocked() {
	if s.key != nil {
		// D is the only secret; overwrite its words before dropping it
		words := s.key.D.Bits()
		for i := range words {
			words[i] = 0
		}
		s.key = nil
	}
	s.session = nil
}

func sessionID(session *entities.Session) string {
	if session == nil {
		return ""
	}
	return session.ID
}
