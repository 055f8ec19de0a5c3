package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
	chain "github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// TransferService builds and submits value transfers
type TransferService struct {
	chain     providers.ChainProvider
	balances  *BalanceService
	catalog   *CatalogService
	submitter *Submitter
	txRepo    repositories.TransactionRepository
	gas       config.EthereumConfig
	namespace string
	metrics   *metrics.Wallet
	logger    *zap.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	chain providers.ChainProvider,
	balances *BalanceService,
	catalog *CatalogService,
	submitter *Submitter,
	txRepo repositories.TransactionRepository,
	gas config.EthereumConfig,
	namespace string,
	m *metrics.Wallet,
	logger *zap.Logger,
) *TransferService {
	if gas.GasLimitNative == 0 {
		gas.GasLimitNative = 21000
	}
	if gas.GasLimitERC20 == 0 {
		gas.GasLimitERC20 = 100000
	}
	return &TransferService{
		chain:     chain,
		balances:  balances,
		catalog:   catalog,
		submitter: submitter,
		txRepo:    txRepo,
		gas:       gas,
		namespace: namespace,
		metrics:   m,
		logger:    logger,
	}
}

// UnsignedTransfer is a built transfer ready to be signed
type UnsignedTransfer struct {
	Tx        *types.Transaction
	Intent    entities.TransferIntent
	From      common.Address
	Recipient common.Address
	RawAmount *big.Int
	Fee       *big.Int
}

// validateTransfer checks intent against snapshot without touching the
// network and returns the raw amount
func validateTransfer(intent entities.TransferIntent, snapshot *entities.BalanceSnapshot) (*big.Int, error) {
	if !common.IsHexAddress(intent.Recipient) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "recipient %q", intent.Recipient)
	}
	if !intent.Token.IsNative() && !common.IsHexAddress(intent.Token.Address) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "token %q", intent.Token.Address)
	}

	decimals, err := intent.Token.RequireDecimals()
	if err != nil {
		return nil, err
	}

	raw, err := entities.ParseUnits(intent.Amount, decimals)
	if err != nil {
		return nil, err
	}
	if raw.Sign() <= 0 {
		return nil, entities.Wrapf(entities.ErrInvalidAmount, "amount must be greater than zero")
	}

	if available := snapshot.Available(intent.Token); raw.Cmp(available) > 0 {
		return nil, entities.Wrapf(entities.ErrInsufficientBalance, "%s %s available",
			entities.FormatUnits(available, decimals), intent.Token.Symbol)
	}
	return raw, nil
}

// BuildTransfer validates intent against the caller's snapshot and builds
// an unsigned legacy transaction. Validation failures return before any
// provider call.
func (s *TransferService) BuildTransfer(ctx context.Context, from string, intent entities.TransferIntent, snapshot *entities.BalanceSnapshot) (*UnsignedTransfer, error) {
	sender, err := parseOwner(from)
	if err != nil {
		return nil, err
	}
	raw, err := validateTransfer(intent, snapshot)
	if err != nil {
		return nil, err
	}
	recipient := common.HexToAddress(intent.Recipient)

	nonce, err := s.chain.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, providerError("fetch nonce", err)
	}
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, providerError("fetch gas price", err)
	}

	var (
		to    common.Address
		value = new(big.Int)
		data  []byte
		gas   uint64
	)

	if intent.Token.IsNative() {
		to = recipient
		value.Set(raw)
		gas = s.gas.GasLimitNative
	} else {
		to = common.HexToAddress(intent.Token.Address)
		data, err = chain.PackTransfer(recipient, raw)
		if err != nil {
			return nil, err
		}
		gas, err = s.chain.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &to, Data: data})
		if err != nil {
			s.logger.Debug("Gas estimation failed, using default limit",
				zap.String("token", intent.Token.Address),
				zap.Error(err),
			)
			gas = s.gas.GasLimitERC20
		}
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	needed := new(big.Int).Add(value, fee)
	if native := snapshot.Available(entities.NativeToken("", "")); needed.Cmp(native) > 0 {
		return nil, entities.Wrapf(entities.ErrInsufficientBalance, "network fee of %s not covered",
			entities.FormatUnits(fee, entities.NativeDecimals))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	return &UnsignedTransfer{
		Tx:        tx,
		Intent:    intent,
		From:      sender,
		Recipient: recipient,
		RawAmount: raw,
		Fee:       fee,
	}, nil
}

// Submit signs and broadcasts a built transfer
func (s *TransferService) Submit(ctx context.Context, session *entities.Session, unsigned *UnsignedTransfer) (*entities.TxHandle, error) {
	token := unsigned.Intent.Token
	record := entities.TransactionRecord{
		Kind:         entities.TxKindTransfer,
		FromAddress:  unsigned.From.Hex(),
		ToAddress:    unsigned.Recipient.Hex(),
		Direction:    entities.DirectionOf(unsigned.From.Hex(), unsigned.From.Hex(), unsigned.Recipient.Hex()),
		TokenAddress: token.Address,
		TokenSymbol:  token.Symbol,
		Amount:       entities.FormatUnits(unsigned.RawAmount, token.Decimals),
		RawAmount:    unsigned.RawAmount.String(),
	}

	handle, err := s.submitter.Submit(ctx, session, unsigned.Tx, record)
	s.metrics.IncTransfer(err)
	if err != nil {
		return nil, err
	}

	if _, err := s.catalog.RecordUsage(ctx, token); err != nil {
		s.logger.Warn("Failed to record token usage", zap.Error(err))
	}
	return handle, nil
}

// Transfer builds and submits intent from the session's address. Balances
// are refreshed first and amounts of the sender's pending transactions are
// held back from what is available.
func (s *TransferService) Transfer(ctx context.Context, session *entities.Session, intent entities.TransferIntent) (*entities.TxHandle, error) {
	if session == nil {
		return nil, entities.ErrVaultLocked
	}

	snapshot, err := s.balances.Refresh(ctx, session.Address)
	if err != nil {
		return nil, err
	}
	spent, err := s.pendingSpend(ctx, session.Address)
	if err != nil {
		return nil, err
	}

	unsigned, err := s.BuildTransfer(ctx, session.Address, intent, snapshot.Reserve(spent))
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, session, unsigned)
}

// pendingSpend sums the amounts still leaving from by pending transfers and
// swaps, keyed by token. Approvals move nothing.
func (s *TransferService) pendingSpend(ctx context.Context, from string) (map[string]*big.Int, error) {
	pending, err := s.txRepo.ListPending(ctx, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	spent := make(map[string]*big.Int)
	for _, record := range pending {
		if record.Kind == entities.TxKindApprove || !strings.EqualFold(record.FromAddress, from) {
			continue
		}
		amount, ok := new(big.Int).SetString(record.RawAmount, 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		key := strings.ToLower(record.TokenAddress)
		if total, ok := spent[key]; ok {
			total.Add(total, amount)
		} else {
			spent[key] = amount
		}
	}
	return spent, nil
}

// TransactionListResponse is the API response for history queries
type TransactionListResponse struct {
	Transactions []entities.TransactionRecord `json:"transactions"`
	Limit        int                          `json:"limit"`
	Offset       int                          `json:"offset"`
	HasMore      bool                         `json:"has_more"`
}

// History lists the transactions sent from or to address, newest first
func (s *TransferService) History(ctx context.Context, address string, limit, offset int) (*TransactionListResponse, error) {
	owner, err := parseOwner(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	// fetch one extra to detect more pages
	records, err := s.txRepo.ListByAddress(ctx, s.namespace, owner.Hex(), limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	for i := range records {
		records[i].Direction = entities.DirectionOf(owner.Hex(), records[i].FromAddress, records[i].ToAddress)
	}

	return &TransactionListResponse{
		Transactions: records,
		Limit:        limit,
		Offset:       offset,
		HasMore:      hasMore,
	}, nil
}

// Get returns the record of hash
func (s *TransferService) Get(ctx context.Context, hash string) (*entities.TransactionRecord, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return nil, entities.Wrapf(entities.ErrInvalidInput, "malformed hash %q", hash)
	}

	record, err := s.txRepo.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if record == nil {
		return nil, entities.Wrapf(entities.ErrNotFound, "transaction %s", hash)
	}
	return record, nil
}
