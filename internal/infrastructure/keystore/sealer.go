package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

const (
	saltLen = 32
	keyLen  = 32 // AES-256
)

// ErrDecrypt is returned for a wrong password and for corrupt ciphertext
// alike, so callers cannot tell the two apart.
var ErrDecrypt = errors.New("keystore: unable to decrypt key")

// Params are the Argon2id cost parameters
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// ParamsFromConfig returns the sealing parameters configured for the vault
func ParamsFromConfig(cfg config.WalletConfig) Params {
	return Params{
		Memory:      cfg.KDFMemory,
		Iterations:  cfg.KDFIterations,
		Parallelism: cfg.KDFParallelism,
	}
}

// Sealer encrypts key material under a password with Argon2id and
// AES-256-GCM
type Sealer struct {
	params Params
	rand   io.Reader
}

// NewSealer creates a new sealer
func NewSealer(params Params) *Sealer {
	return &Sealer{params: params, rand: rand.Reader}
}

// Seal encrypts plaintext. The associated data binds the ciphertext to its
// owner, e.g. the wallet address.
func (s *Sealer) Seal(plaintext, password, associated []byte) (*entities.EncryptedKey, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(password, salt, s.params.Iterations, s.params.Memory, s.params.Parallelism)
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &entities.EncryptedKey{
		Ciphertext:     gcm.Seal(nil, nonce, plaintext, associated),
		Salt:           salt,
		Nonce:          nonce,
		KDFMemory:      s.params.Memory,
		KDFIterations:  s.params.Iterations,
		KDFParallelism: s.params.Parallelism,
	}, nil
}

// Open decrypts sealed key material using the parameters stored with it.
// The key derivation always runs in full before any check on the
// ciphertext.
func (s *Sealer) Open(sealed *entities.EncryptedKey, password, associated []byte) ([]byte, error) {
	if sealed == nil {
		return nil, ErrDecrypt
	}

	key := deriveKey(password, sealed.Salt, sealed.KDFIterations, sealed.KDFMemory, sealed.KDFParallelism)
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed.Nonce) != gcm.NonceSize() {
		return nil, ErrDecrypt
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, associated)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func deriveKey(password, salt []byte, iterations, memory uint32, parallelism uint8) []byte {
	if iterations == 0 {
		iterations = 1
	}
	if parallelism == 0 {
		parallelism = 1
	}
	return argon2.IDKey(password, salt, iterations, memory, parallelism, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// zero overwrites b
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Zero overwrites key material the caller no longer needs
func Zero(b []byte) {
	zero(b)
}
