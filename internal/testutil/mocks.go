package testutil

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// callLog records calls made to a mock
type callLog struct {
	mu    sync.Mutex
	Calls []MockCall
}

func (l *callLog) record(method string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls = append(l.Calls, MockCall{Method: method, Args: args})
}

// CallCount returns how many times method was called
func (l *callLog) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Ensure the mocks implement their interfaces
var (
	_ repositories.WalletRepository      = (*MockWalletRepository)(nil)
	_ repositories.TokenUsageRepository  = (*MockTokenUsageRepository)(nil)
	_ repositories.TransactionRepository = (*MockTransactionRepository)(nil)
	_ providers.ChainProvider            = (*MockChainProvider)(nil)
	_ providers.SwapAggregator           = (*MockSwapAggregator)(nil)
	_ providers.MarketDataProvider       = (*MockMarketData)(nil)
)

// MockWalletRepository is an in-memory WalletRepository
type MockWalletRepository struct {
	callLog
	mu      sync.RWMutex
	wallets map[string]entities.Wallet

	GetFunc    func(ctx context.Context, namespace string) (*entities.Wallet, error)
	CreateFunc func(ctx context.Context, namespace string, wallet *entities.Wallet) error
}

func NewMockWalletRepository() *MockWalletRepository {
	return &MockWalletRepository{wallets: make(map[string]entities.Wallet)}
}

func (m *MockWalletRepository) Get(ctx context.Context, namespace string) (*entities.Wallet, error) {
	m.record("Get", namespace)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, namespace)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[namespace]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *MockWalletRepository) Create(ctx context.Context, namespace string, wallet *entities.Wallet) error {
	m.record("Create", namespace)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, namespace, wallet)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[namespace]; ok {
		return entities.ErrWalletExists
	}
	m.wallets[namespace] = *wallet
	return nil
}

func (m *MockWalletRepository) Delete(ctx context.Context, namespace string) error {
	m.record("Delete", namespace)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wallets, namespace)
	return nil
}

// MockTokenUsageRepository is an in-memory TokenUsageRepository
type MockTokenUsageRepository struct {
	callLog
	mu     sync.RWMutex
	tokens map[string][]entities.TokenDescriptor

	ListFunc    func(ctx context.Context, namespace string) ([]entities.TokenDescriptor, error)
	ReplaceFunc func(ctx context.Context, namespace string, tokens []entities.TokenDescriptor) error
}

func NewMockTokenUsageRepository() *MockTokenUsageRepository {
	return &MockTokenUsageRepository{tokens: make(map[string][]entities.TokenDescriptor)}
}

func (m *MockTokenUsageRepository) List(ctx context.Context, namespace string) ([]entities.TokenDescriptor, error) {
	m.record("List", namespace)
	if m.ListFunc != nil {
		return m.ListFunc(ctx, namespace)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]entities.TokenDescriptor{}, m.tokens[namespace]...), nil
}

func (m *MockTokenUsageRepository) Replace(ctx context.Context, namespace string, tokens []entities.TokenDescriptor) error {
	m.record("Replace", namespace, tokens)
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, namespace, tokens)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[namespace] = append([]entities.TokenDescriptor{}, tokens...)
	return nil
}

// MockTransactionRepository is an in-memory TransactionRepository
type MockTransactionRepository struct {
	callLog
	mu      sync.RWMutex
	records map[string]entities.TransactionRecord

	CreateFunc func(ctx context.Context, record *entities.TransactionRecord) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{records: make(map[string]entities.TransactionRecord)}
}

func (m *MockTransactionRepository) Create(ctx context.Context, record *entities.TransactionRecord) error {
	m.record("Create", record.Hash)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(record.Hash)
	if _, ok := m.records[key]; !ok {
		m.records[key] = *record
	}
	return nil
}

func (m *MockTransactionRepository) GetByHash(ctx context.Context, hash string) (*entities.TransactionRecord, error) {
	m.record("GetByHash", hash)
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[strings.ToLower(hash)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MockTransactionRepository) ListByAddress(ctx context.Context, namespace, address string, limit, offset int) ([]entities.TransactionRecord, error) {
	m.record("ListByAddress", namespace, address, limit, offset)
	result := m.filter(func(r entities.TransactionRecord) bool {
		return r.Namespace == namespace &&
			(strings.EqualFold(r.FromAddress, address) || strings.EqualFold(r.ToAddress, address))
	})
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	if offset > len(result) {
		return []entities.TransactionRecord{}, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (m *MockTransactionRepository) ListPending(ctx context.Context, namespace string) ([]entities.TransactionRecord, error) {
	m.record("ListPending", namespace)
	result := m.filter(func(r entities.TransactionRecord) bool {
		return r.Namespace == namespace && r.Status == entities.TxPending
	})
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockTransactionRepository) UpdateStatus(ctx context.Context, hash string, update entities.StatusUpdate) (bool, error) {
	m.record("UpdateStatus", hash, update)
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(hash)
	r, ok := m.records[key]
	if !ok || r.Status != entities.TxPending {
		return false, nil
	}
	r.Status = update.Status
	if update.BlockNumber > 0 {
		block := update.BlockNumber
		r.BlockNumber = &block
	}
	if update.ReceivedAmount != nil {
		r.ReceivedAmount = update.ReceivedAmount
	}
	r.UpdatedAt = time.Now()
	m.records[key] = r
	return true, nil
}

// AddRecords seeds the store
func (m *MockTransactionRepository) AddRecords(records ...entities.TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[strings.ToLower(r.Hash)] = r
	}
}

func (m *MockTransactionRepository) filter(keep func(entities.TransactionRecord) bool) []entities.TransactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]entities.TransactionRecord, 0)
	for _, r := range m.records {
		if keep(r) {
			result = append(result, r)
		}
	}
	return result
}

// MockChainProvider is a ChainProvider backed by in-memory balances. The
// Func hooks override the defaults.
type MockChainProvider struct {
	callLog
	mu sync.RWMutex

	ChainIDValue  *big.Int
	NativeBalance map[string]*big.Int
	Tokens        map[string][]providers.TokenBalance
	Metadata      map[string]*providers.TokenMetadata
	Nonce         uint64
	GasPrice      *big.Int
	Gas           uint64
	Receipts      map[common.Hash]*types.Receipt
	Sent          []*types.Transaction

	BalanceAtFunc          func(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalancesFunc      func(ctx context.Context, owner common.Address, known []common.Address) ([]providers.TokenBalance, error)
	TokenMetadataFunc      func(ctx context.Context, token common.Address) (*providers.TokenMetadata, error)
	EstimateGasFunc        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransactionFunc    func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFunc func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

func NewMockChainProvider() *MockChainProvider {
	return &MockChainProvider{
		ChainIDValue:  big.NewInt(1),
		NativeBalance: make(map[string]*big.Int),
		Tokens:        make(map[string][]providers.TokenBalance),
		Metadata:      make(map[string]*providers.TokenMetadata),
		GasPrice:      big.NewInt(20_000_000_000),
		Gas:           21000,
		Receipts:      make(map[common.Hash]*types.Receipt),
	}
}

func (m *MockChainProvider) ChainID() *big.Int {
	return new(big.Int).Set(m.ChainIDValue)
}

func (m *MockChainProvider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	m.record("BalanceAt", account)
	if m.BalanceAtFunc != nil {
		return m.BalanceAtFunc(ctx, account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.NativeBalance[strings.ToLower(account.Hex())]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *MockChainProvider) TokenBalances(ctx context.Context, owner common.Address, known []common.Address) ([]providers.TokenBalance, error) {
	m.record("TokenBalances", owner, known)
	if m.TokenBalancesFunc != nil {
		return m.TokenBalancesFunc(ctx, owner, known)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]providers.TokenBalance, 0, len(m.Tokens[strings.ToLower(owner.Hex())]))
	for _, tb := range m.Tokens[strings.ToLower(owner.Hex())] {
		if tb.Balance != nil {
			tb.Balance = new(big.Int).Set(tb.Balance)
		}
		out = append(out, tb)
	}
	return out, nil
}

func (m *MockChainProvider) TokenMetadata(ctx context.Context, token common.Address) (*providers.TokenMetadata, error) {
	m.record("TokenMetadata", token)
	if m.TokenMetadataFunc != nil {
		return m.TokenMetadataFunc(ctx, token)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if md, ok := m.Metadata[strings.ToLower(token.Hex())]; ok {
		copied := *md
		return &copied, nil
	}
	return nil, entities.Wrapf(entities.ErrNotFound, "no metadata for %s", token.Hex())
}

func (m *MockChainProvider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.record("PendingNonceAt", account)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Nonce, nil
}

func (m *MockChainProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	m.record("SuggestGasPrice")
	return new(big.Int).Set(m.GasPrice), nil
}

func (m *MockChainProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.record("EstimateGas", msg)
	if m.EstimateGasFunc != nil {
		return m.EstimateGasFunc(ctx, msg)
	}
	return m.Gas, nil
}

func (m *MockChainProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.record("SendTransaction", tx.Hash())
	if m.SendTransactionFunc != nil {
		if err := m.SendTransactionFunc(ctx, tx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, tx)
	m.Nonce++
	return nil
}

func (m *MockChainProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.record("TransactionReceipt", hash)
	if m.TransactionReceiptFunc != nil {
		return m.TransactionReceiptFunc(ctx, hash)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.Receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// SetNativeBalance sets the native balance of account
func (m *MockChainProvider) SetNativeBalance(account string, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NativeBalance[strings.ToLower(account)] = balance
}

// SetTokenBalance adds or replaces an ERC-20 balance of owner
func (m *MockChainProvider) SetTokenBalance(owner, token string, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(owner)
	contract := common.HexToAddress(token)
	list := m.Tokens[key]
	for i := range list {
		if list[i].Contract == contract {
			list[i].Balance = balance
			return
		}
	}
	m.Tokens[key] = append(list, providers.TokenBalance{Contract: contract, Balance: balance})
}

// SetMetadata registers on-chain metadata of token
func (m *MockChainProvider) SetMetadata(token, symbol, name string, decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Metadata[strings.ToLower(token)] = &providers.TokenMetadata{Name: name, Symbol: symbol, Decimals: decimals}
}

// SetReceipt makes hash mined with status at block
func (m *MockChainProvider) SetReceipt(hash common.Hash, status uint64, block int64, logs ...*types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(block),
		Logs:        logs,
	}
}

// SentTransactions returns a copy of the broadcast transactions
func (m *MockChainProvider) SentTransactions() []*types.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.Transaction{}, m.Sent...)
}

// MockSwapAggregator is a SwapAggregator driven by hooks
type MockSwapAggregator struct {
	callLog

	PriceFunc func(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error)
	QuoteFunc func(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error)
}

func NewMockSwapAggregator() *MockSwapAggregator {
	return &MockSwapAggregator{}
}

func (m *MockSwapAggregator) Price(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error) {
	m.record("Price", req)
	if m.PriceFunc != nil {
		return m.PriceFunc(ctx, req)
	}
	return FixedAggregatorQuote(req, false), nil
}

func (m *MockSwapAggregator) Quote(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error) {
	m.record("Quote", req)
	if m.QuoteFunc != nil {
		return m.QuoteFunc(ctx, req)
	}
	return FixedAggregatorQuote(req, true), nil
}

// MockMarketData is a MarketDataProvider backed by in-memory data
type MockMarketData struct {
	callLog
	mu sync.RWMutex

	Coins   []providers.MarketToken
	Details map[string]*providers.TokenDetails
	Prices  map[string]entities.TokenPrice
	History map[string][]entities.PricePoint

	CoinListFunc     func(ctx context.Context) ([]providers.MarketToken, error)
	TokenPricesFunc  func(ctx context.Context, tokens []entities.TokenDescriptor) (map[string]entities.TokenPrice, error)
	PriceHistoryFunc func(ctx context.Context, token entities.TokenDescriptor, days int) ([]entities.PricePoint, error)
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		Details: make(map[string]*providers.TokenDetails),
		Prices:  make(map[string]entities.TokenPrice),
		History: make(map[string][]entities.PricePoint),
	}
}

func (m *MockMarketData) CoinList(ctx context.Context) ([]providers.MarketToken, error) {
	m.record("CoinList")
	if m.CoinListFunc != nil {
		return m.CoinListFunc(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]providers.MarketToken{}, m.Coins...), nil
}

func (m *MockMarketData) TokenDetails(ctx context.Context, contract string) (*providers.TokenDetails, error) {
	m.record("TokenDetails", contract)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.Details[strings.ToLower(contract)]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, entities.Wrapf(entities.ErrNotFound, "contract %s", contract)
}

func (m *MockMarketData) TokenPrices(ctx context.Context, tokens []entities.TokenDescriptor) (map[string]entities.TokenPrice, error) {
	m.record("TokenPrices", tokens)
	if m.TokenPricesFunc != nil {
		return m.TokenPricesFunc(ctx, tokens)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]entities.TokenPrice)
	for _, t := range tokens {
		if p, ok := m.Prices[t.Key()]; ok {
			result[t.Key()] = p
		}
	}
	return result, nil
}

func (m *MockMarketData) PriceHistory(ctx context.Context, token entities.TokenDescriptor, days int) ([]entities.PricePoint, error) {
	m.record("PriceHistory", token.Key(), days)
	if m.PriceHistoryFunc != nil {
		return m.PriceHistoryFunc(ctx, token, days)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.History[token.Key()]; ok {
		return append([]entities.PricePoint{}, h...), nil
	}
	return nil, entities.Wrapf(entities.ErrNotFound, "no history for %s", token.Address)
}

// AddCoin lists a coin with a contract address on platform
func (m *MockMarketData) AddCoin(id, symbol, name, platform, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Coins = append(m.Coins, providers.MarketToken{
		ID:        id,
		Symbol:    symbol,
		Name:      name,
		Platforms: map[string]string{platform: address},
	})
}

// SetPrice sets the USD price of token
func (m *MockMarketData) SetPrice(token entities.TokenDescriptor, usd, change24h float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[token.Key()] = entities.TokenPrice{USD: usd, Change24h: change24h}
}

// MockHealthChecker reports a fixed health state
type MockHealthChecker struct {
	callLog
	mu  sync.RWMutex
	err error
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	m := &MockHealthChecker{}
	m.SetHealthy(healthy)
	return m
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	m.record("HealthCheck")
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	if !healthy {
		m.err = errors.New("health check failed")
	}
}
