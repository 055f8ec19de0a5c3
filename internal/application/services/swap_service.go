package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	chain "github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
)

// SwapService negotiates prices and quotes with the liquidity aggregator
// and executes firm quotes
type SwapService struct {
	chain      providers.ChainProvider
	aggregator providers.SwapAggregator
	catalog    *CatalogService
	submitter  *Submitter
	cfg        config.SwapConfig
	gas        config.EthereumConfig
	metrics    *metrics.Wallet
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	quotes map[string]*entities.Quote
}

// NewSwapService creates a new swap service
func NewSwapService(
	chain providers.ChainProvider,
	aggregator providers.SwapAggregator,
	catalog *CatalogService,
	submitter *Submitter,
	cfg config.SwapConfig,
	gas config.EthereumConfig,
	m *metrics.Wallet,
	logger *zap.Logger,
) *SwapService {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 45 * time.Second
	}
	if gas.GasLimitERC20 == 0 {
		gas.GasLimitERC20 = 100000
	}
	return &SwapService{
		chain:      chain,
		aggregator: aggregator,
		catalog:    catalog,
		submitter:  submitter,
		cfg:        cfg,
		gas:        gas,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		quotes:     make(map[string]*entities.Quote),
	}
}

func (s *SwapService) request(intent entities.SwapIntent, raw *big.Int, taker string) providers.SwapRequest {
	return providers.SwapRequest{
		ChainID:     s.chain.ChainID().Int64(),
		SellToken:   intent.SellToken.Address,
		BuyToken:    intent.BuyToken.Address,
		SellAmount:  raw,
		Taker:       taker,
		SlippageBps: s.cfg.SlippageBps,
	}
}

// IndicativePrice returns a display-only price for intent. It can never be
// executed.
func (s *SwapService) IndicativePrice(ctx context.Context, intent entities.SwapIntent) (*entities.Quote, error) {
	key, err := intent.Key()
	if err != nil {
		return nil, err
	}
	raw, _ := intent.Validate()

	start := time.Now()
	aq, err := s.aggregator.Price(ctx, s.request(intent, raw, ""))
	s.metrics.ObserveProvider("0x", "price", start)
	if err == nil && !aq.LiquidityAvailable {
		err = entities.Wrapf(entities.ErrNoLiquidity, "%s to %s", intent.SellToken.Symbol, intent.BuyToken.Symbol)
	}
	s.metrics.IncQuote(string(entities.QuoteIndicative), err)
	if err != nil {
		return nil, providerError("fetch price", err)
	}

	quote := s.newQuote(entities.QuoteIndicative, intent, key, raw, "", aq)
	s.store(quote)
	return quote, nil
}

// FirmQuote returns an executable quote for intent with taker as the
// sender. The quote is single use and expires after the quote TTL.
func (s *SwapService) FirmQuote(ctx context.Context, intent entities.SwapIntent, taker string) (*entities.Quote, error) {
	key, err := intent.Key()
	if err != nil {
		return nil, err
	}
	raw, _ := intent.Validate()

	owner, err := parseOwner(taker)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	aq, err := s.aggregator.Quote(ctx, s.request(intent, raw, owner.Hex()))
	s.metrics.ObserveProvider("0x", "quote", start)
	if err == nil && !aq.LiquidityAvailable {
		err = entities.Wrapf(entities.ErrNoLiquidity, "%s to %s", intent.SellToken.Symbol, intent.BuyToken.Symbol)
	}
	if err == nil && aq.Transaction == nil {
		err = entities.Unavailable("fetch quote", errors.New("firm quote without transaction"))
	}
	s.metrics.IncQuote(string(entities.QuoteFirm), err)
	if err != nil {
		return nil, providerError("fetch quote", err)
	}

	quote := s.newQuote(entities.QuoteFirm, intent, key, raw, owner.Hex(), aq)
	s.store(quote)

	s.logger.Debug("Firm quote issued",
		zap.String("quote_id", quote.ID),
		zap.String("sell", intent.SellToken.Symbol),
		zap.String("buy", intent.BuyToken.Symbol),
		zap.Time("expires_at", quote.ExpiresAt),
	)
	return quote, nil
}

func (s *SwapService) newQuote(kind entities.QuoteKind, intent entities.SwapIntent, key string, raw *big.Int, taker string, aq *providers.AggregatorQuote) *entities.Quote {
	now := s.now()
	buy := aq.BuyAmount
	if buy == nil {
		buy = new(big.Int)
	}
	return &entities.Quote{
		ID:                 uuid.NewString(),
		Kind:               kind,
		IntentKey:          key,
		SellToken:          intent.SellToken,
		BuyToken:           intent.BuyToken,
		SellAmount:         raw,
		BuyAmount:          buy,
		MinBuyAmount:       aq.MinBuyAmount,
		BuyAmountFormatted: entities.FormatUnits(buy, intent.BuyToken.Decimals),
		PriceImpact:        aq.PriceImpact,
		Taker:              taker,
		AllowanceTarget:    aq.AllowanceTarget,
		Issues:             aq.Issues,
		Transaction:        aq.Transaction,
		Raw:                aq.Raw,
		FetchedAt:          now,
		ExpiresAt:          now.Add(s.cfg.QuoteTTL),
	}
}

// store keeps quote for execution and drops quotes past their expiry
func (s *SwapService) store(quote *entities.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, q := range s.quotes {
		if !now.Before(q.ExpiresAt) {
			delete(s.quotes, id)
		}
	}
	s.quotes[quote.ID] = quote
}

// take removes and returns the quote with id
func (s *SwapService) take(id string) (*entities.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	delete(s.quotes, id)
	return q, ok
}

// Execute signs and submits the transaction of a firm quote. The quote
// must have been issued for current, to the session's address, and must
// not have expired. Each quote executes at most once.
func (s *SwapService) Execute(ctx context.Context, session *entities.Session, quoteID string, current entities.SwapIntent) (*entities.TxHandle, error) {
	if session == nil {
		return nil, entities.ErrVaultLocked
	}
	currentKey, err := current.Key()
	if err != nil {
		return nil, err
	}

	quote, ok := s.take(quoteID)
	if !ok {
		return nil, entities.Wrapf(entities.ErrQuoteExpired, "quote %q is unknown or already used", quoteID)
	}

	if err := s.checkQuote(quote, currentKey, session); err != nil {
		s.metrics.IncSwap(err)
		return nil, err
	}

	handle, err := s.submitQuote(ctx, session, quote)
	s.metrics.IncSwap(err)
	if err != nil {
		return nil, err
	}

	for _, token := range []entities.TokenDescriptor{quote.BuyToken, quote.SellToken} {
		if _, err := s.catalog.RecordUsage(ctx, token); err != nil {
			s.logger.Warn("Failed to record token usage", zap.Error(err))
		}
	}
	return handle, nil
}

// checkQuote applies the local execution rules to quote
func (s *SwapService) checkQuote(quote *entities.Quote, currentKey string, session *entities.Session) error {
	switch {
	case quote.Kind != entities.QuoteFirm:
		return entities.Wrapf(entities.ErrInvalidInput, "indicative prices cannot be executed")
	case quote.IntentKey != currentKey:
		return entities.Wrapf(entities.ErrQuoteMismatch, "quote %s was issued for a different swap", quote.ID)
	case quote.Expired(s.now()):
		return entities.Wrapf(entities.ErrQuoteExpired, "quote %s expired at %s", quote.ID, quote.ExpiresAt.Format(time.RFC3339))
	case !strings.EqualFold(quote.Taker, session.Address):
		return entities.Wrapf(entities.ErrInvalidInput, "quote %s was issued for another taker", quote.ID)
	case quote.Issues.Balance != nil:
		return entities.Wrapf(entities.ErrInsufficientBalance, "%s %s available",
			entities.FormatUnits(quote.Issues.Balance.Actual, quote.SellToken.Decimals), quote.SellToken.Symbol)
	case quote.Issues.Allowance != nil:
		return entities.Wrapf(entities.ErrInsufficientAllowance, "approve %s to spend %s first",
			quote.Issues.Allowance.Spender, quote.SellToken.Symbol)
	case quote.Transaction == nil:
		return entities.Wrapf(entities.ErrQuoteExpired, "quote %s carries no transaction", quote.ID)
	}
	return nil
}

func (s *SwapService) submitQuote(ctx context.Context, session *entities.Session, quote *entities.Quote) (*entities.TxHandle, error) {
	qtx := quote.Transaction
	if !common.IsHexAddress(qtx.To) {
		return nil, entities.Unavailable("execute quote", fmt.Errorf("malformed target %q", qtx.To))
	}
	from := common.HexToAddress(session.Address)
	to := common.HexToAddress(qtx.To)
	value := new(big.Int)
	if qtx.Value != nil {
		value.Set(qtx.Value)
	}

	// a reverting estimate means the route went stale
	estimated, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: qtx.Data})
	if err != nil {
		if chain.IsRevert(err) {
			return nil, fmt.Errorf("%w: %w", entities.ErrQuoteExpired, err)
		}
		return nil, providerError("estimate swap gas", err)
	}
	gas := qtx.Gas
	if estimated > gas {
		gas = estimated
	}

	gasPrice := qtx.GasPrice
	if gasPrice == nil || gasPrice.Sign() == 0 {
		if gasPrice, err = s.chain.SuggestGasPrice(ctx); err != nil {
			return nil, providerError("fetch gas price", err)
		}
	}

	nonce, err := s.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, providerError("fetch nonce", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     qtx.Data,
	})

	buyToken := quote.BuyToken.Address
	record := entities.TransactionRecord{
		Kind:         entities.TxKindSwap,
		FromAddress:  from.Hex(),
		ToAddress:    to.Hex(),
		Direction:    entities.DirectionOut,
		TokenAddress: quote.SellToken.Address,
		TokenSymbol:  quote.SellToken.Symbol,
		Amount:       entities.FormatUnits(quote.SellAmount, quote.SellToken.Decimals),
		RawAmount:    quote.SellAmount.String(),
		BuyToken:     &buyToken,
	}
	return s.submitter.Submit(ctx, session, tx, record)
}

// Swap fetches a firm quote for intent and executes it. A quote that went
// stale before execution is replaced once.
func (s *SwapService) Swap(ctx context.Context, session *entities.Session, intent entities.SwapIntent) (*entities.TxHandle, *entities.Quote, error) {
	if session == nil {
		return nil, nil, entities.ErrVaultLocked
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		quote, err := s.FirmQuote(ctx, intent, session.Address)
		if err != nil {
			return nil, nil, err
		}

		handle, err := s.Execute(ctx, session, quote.ID, intent)
		if err == nil {
			return handle, quote, nil
		}
		if !errors.Is(err, entities.ErrQuoteExpired) {
			return nil, nil, err
		}

		s.logger.Info("Quote went stale, requesting a new one",
			zap.String("quote_id", quote.ID),
			zap.Int("attempt", attempt+1),
		)
		lastErr = err
	}
	return nil, nil, lastErr
}

// Approve lets spender move amount of token on behalf of the session's
// address. An empty amount approves the maximum.
func (s *SwapService) Approve(ctx context.Context, session *entities.Session, token entities.TokenDescriptor, spender, amount string) (*entities.TxHandle, error) {
	if session == nil {
		return nil, entities.ErrVaultLocked
	}
	if token.IsNative() {
		return nil, entities.Wrapf(entities.ErrInvalidInput, "the native asset needs no approval")
	}
	if !common.IsHexAddress(token.Address) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "token %q", token.Address)
	}
	if !common.IsHexAddress(spender) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "spender %q", spender)
	}

	raw := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	formatted := "unlimited"
	if strings.TrimSpace(amount) != "" {
		decimals, err := token.RequireDecimals()
		if err != nil {
			return nil, err
		}
		if raw, err = entities.ParseUnits(amount, decimals); err != nil {
			return nil, err
		}
		formatted = entities.FormatUnits(raw, decimals)
	}

	from := common.HexToAddress(session.Address)
	contract := common.HexToAddress(token.Address)
	data, err := chain.PackApprove(common.HexToAddress(spender), raw)
	if err != nil {
		return nil, err
	}

	nonce, err := s.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, providerError("fetch nonce", err)
	}
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, providerError("fetch gas price", err)
	}
	gas, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data})
	if err != nil {
		s.logger.Debug("Approve gas estimation failed, using default limit", zap.Error(err))
		gas = s.gas.GasLimitERC20
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	record := entities.TransactionRecord{
		Kind:         entities.TxKindApprove,
		FromAddress:  from.Hex(),
		ToAddress:    common.HexToAddress(spender).Hex(),
		Direction:    entities.DirectionOut,
		TokenAddress: token.Address,
		TokenSymbol:  token.Symbol,
		Amount:       formatted,
		RawAmount:    raw.String(),
	}
	return s.submitter.Submit(ctx, session, tx, record)
}
