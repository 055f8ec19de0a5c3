package entities

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferIntent is a request to send Amount of Token to Recipient
type TransferIntent struct {
	Token     TokenDescriptor `json:"token"`
	Amount    string          `json:"amount"`
	Recipient string          `json:"recipient"`
}

// TxStatus is the confirmation status of a submitted transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s TxStatus) IsTerminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// TxKind is what a submitted transaction does
type TxKind string

const (
	TxKindTransfer TxKind = "transfer"
	TxKindSwap     TxKind = "swap"
	TxKindApprove  TxKind = "approve"
)

// TxDirection is the direction of value relative to the wallet
type TxDirection string

const (
	DirectionOut  TxDirection = "out"
	DirectionIn   TxDirection = "in"
	DirectionSelf TxDirection = "self"
)

// DirectionOf returns the direction of a transfer between from and to as
// seen by owner.
func DirectionOf(owner, from, to string) TxDirection {
	switch {
	case strings.EqualFold(from, to):
		return DirectionSelf
	case strings.EqualFold(owner, from):
		return DirectionOut
	default:
		return DirectionIn
	}
}

// TransactionRecord is a submitted transaction. Status only moves from
// pending to a terminal status.
type TransactionRecord struct {
	Hash           string      `json:"hash" db:"hash"`
	Namespace      string      `json:"-" db:"namespace"`
	Kind           TxKind      `json:"kind" db:"kind"`
	FromAddress    string      `json:"from" db:"from_address"`
	ToAddress      string      `json:"to" db:"to_address"`
	Direction      TxDirection `json:"direction" db:"direction"`
	TokenAddress   string      `json:"token_address" db:"token_address"`
	TokenSymbol    string      `json:"token_symbol" db:"token_symbol"`
	Amount         string      `json:"amount" db:"amount"`
	RawAmount      string      `json:"raw_amount" db:"raw_amount"`
	BuyToken       *string     `json:"buy_token,omitempty" db:"buy_token"`
	ReceivedAmount *string     `json:"received_amount,omitempty" db:"received_amount"`
	Status         TxStatus    `json:"status" db:"status"`
	BlockNumber    *int64      `json:"block_number,omitempty" db:"block_number"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// TxHandle references a broadcast transaction
type TxHandle struct {
	Hash   common.Hash        `json:"hash"`
	Record *TransactionRecord `json:"record"`
}

// StatusUpdate is the terminal outcome of a pending transaction
type StatusUpdate struct {
	Status         TxStatus
	BlockNumber    int64
	ReceivedAmount *string
}
