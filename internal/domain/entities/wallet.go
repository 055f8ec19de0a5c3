package entities

import (
	"time"
)

// VaultState is the lifecycle state of the key vault
type VaultState string

const (
	VaultNoWallet VaultState = "no_wallet"
	VaultLocked   VaultState = "locked"
	VaultUnlocked VaultState = "unlocked"
)

// EncryptedKey is the sealed private key together with the parameters
// needed to derive the sealing key from the password.
type EncryptedKey struct {
	Ciphertext     []byte `db:"ciphertext"`
	Salt           []byte `db:"salt"`
	Nonce          []byte `db:"nonce"`
	KDFMemory      uint32 `db:"kdf_memory"`
	KDFIterations  uint32 `db:"kdf_iterations"`
	KDFParallelism uint8  `db:"kdf_parallelism"`
}

// Wallet is the persisted wallet. The plaintext key never appears here.
type Wallet struct {
	EncryptedKey `json:"-"`

	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Session is an opaque handle proving the vault was unlocked. Components
// pass the handle to the vault to sign; the key itself never leaves it.
type Session struct {
	ID         string    `json:"session_id"`
	Address    string    `json:"address"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Backup is the exported wallet file. It contains the plaintext key.
type Backup struct {
	Address    string    `json:"address"`
	PrivateKey string    `json:"privateKey"`
	CreatedAt  time.Time `json:"createdAt"`
}
