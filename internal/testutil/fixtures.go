package testutil

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

// Common test addresses
const (
	USDTAddress  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	USDCAddress  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	WETHAddress  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	AliceAddress = "0x1111111111111111111111111111111111111111"
	BobAddress   = "0x2222222222222222222222222222222222222222"
	CharlieAddr  = "0x3333333333333333333333333333333333333333"

	// AllowanceHolder is the spender and target of fixture swap quotes
	AllowanceHolder = "0x0000000000001ff3684f28c67538d4d072c22734"
)

// TestPrivateKeyHex is a throwaway key used to sign in tests
const TestPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// TestKeyAddress returns the checksummed address of TestPrivateKeyHex
func TestKeyAddress() string {
	key, err := crypto.HexToECDSA(TestPrivateKeyHex)
	if err != nil {
		panic(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// Native returns the native asset descriptor used in tests
func Native() entities.TokenDescriptor {
	return entities.NativeToken("ETH", "Ether")
}

// USDC returns a 6-decimal token descriptor
func USDC() entities.TokenDescriptor {
	return entities.TokenDescriptor{Address: USDCAddress, Symbol: "USDC", Name: "USD Coin", Decimals: 6, DecimalsKnown: true}
}

// USDT returns a 6-decimal token descriptor
func USDT() entities.TokenDescriptor {
	return entities.TokenDescriptor{Address: USDTAddress, Symbol: "USDT", Name: "Tether USD", Decimals: 6, DecimalsKnown: true}
}

// WETH returns an 18-decimal token descriptor
func WETH() entities.TokenDescriptor {
	return entities.TokenDescriptor{Address: WETHAddress, Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18, DecimalsKnown: true}
}

// Ether returns n whole units of an 18-decimal token
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// CreateTestRecord creates a transaction record with default values
func CreateTestRecord(opts ...RecordOption) entities.TransactionRecord {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	r := entities.TransactionRecord{
		Hash:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Namespace:    "default",
		Kind:         entities.TxKindTransfer,
		FromAddress:  AliceAddress,
		ToAddress:    BobAddress,
		Direction:    entities.DirectionOut,
		TokenAddress: USDCAddress,
		TokenSymbol:  "USDC",
		Amount:       "1",
		RawAmount:    "1000000",
		Status:       entities.TxPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return r
}

type RecordOption func(*entities.TransactionRecord)

func RecordWithHash(hash string) RecordOption {
	return func(r *entities.TransactionRecord) {
		r.Hash = hash
	}
}

func RecordWithStatus(status entities.TxStatus) RecordOption {
	return func(r *entities.TransactionRecord) {
		r.Status = status
	}
}

func RecordWithAddresses(from, to string) RecordOption {
	return func(r *entities.TransactionRecord) {
		r.FromAddress = from
		r.ToAddress = to
	}
}

func RecordWithCreatedAt(ts time.Time) RecordOption {
	return func(r *entities.TransactionRecord) {
		r.CreatedAt = ts
		r.UpdatedAt = ts
	}
}

// CreateMultipleRecords creates count records with distinct hashes, one
// minute apart
func CreateMultipleRecords(count int, opts ...RecordOption) []entities.TransactionRecord {
	records := make([]entities.TransactionRecord, count)
	for i := 0; i < count; i++ {
		r := CreateTestRecord(opts...)
		r.Hash = generateTxHash(i)
		r.CreatedAt = r.CreatedAt.Add(time.Duration(i) * time.Minute)
		r.UpdatedAt = r.CreatedAt
		records[i] = r
	}
	return records
}

func generateTxHash(index int) string {
	return crypto.Keccak256Hash(big.NewInt(int64(index)).Bytes()).Hex()
}

// FixedAggregatorQuote answers req at a rate of two buy units per sell
// unit. Firm quotes carry a transaction for the allowance holder.
func FixedAggregatorQuote(req providers.SwapRequest, firm bool) *providers.AggregatorQuote {
	buy := new(big.Int).Mul(req.SellAmount, big.NewInt(2))
	minBuy := new(big.Int).Div(new(big.Int).Mul(buy, big.NewInt(99)), big.NewInt(100))

	q := &providers.AggregatorQuote{
		LiquidityAvailable: true,
		SellAmount:         new(big.Int).Set(req.SellAmount),
		BuyAmount:          buy,
		MinBuyAmount:       minBuy,
		AllowanceTarget:    AllowanceHolder,
		Raw:                []byte(`{"liquidityAvailable":true}`),
	}
	if firm {
		value := new(big.Int)
		if entities.IsNativeAddress(req.SellToken) {
			value.Set(req.SellAmount)
		}
		q.Transaction = &entities.QuoteTransaction{
			To:       AllowanceHolder,
			Data:     []byte{0xde, 0xad, 0xbe, 0xef},
			Value:    value,
			Gas:      150000,
			GasPrice: big.NewInt(20_000_000_000),
		}
	}
	return q
}

// PointerTo returns a pointer to the given value
func PointerTo[T any](v T) *T {
	return &v
}
