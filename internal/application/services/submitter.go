package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
	chain "github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
)

// balanceRefresher is notified when a tracked transaction settles
type balanceRefresher interface {
	Refresh(ctx context.Context, address string) (*entities.BalanceSnapshot, error)
}

// Submitter signs, broadcasts and tracks transactions until they settle
type Submitter struct {
	chain        providers.ChainProvider
	vault        *VaultService
	txRepo       repositories.TransactionRepository
	balances     balanceRefresher
	namespace    string
	pollInterval time.Duration
	metrics      *metrics.Wallet
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tracking map[common.Hash]struct{}
}

// NewSubmitter creates a new submitter. Close stops its trackers.
func NewSubmitter(
	chain providers.ChainProvider,
	vault *VaultService,
	txRepo repositories.TransactionRepository,
	balances balanceRefresher,
	namespace string,
	pollInterval time.Duration,
	m *metrics.Wallet,
	logger *zap.Logger,
) *Submitter {
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		chain:        chain,
		vault:        vault,
		txRepo:       txRepo,
		balances:     balances,
		namespace:    namespace,
		pollInterval: pollInterval,
		metrics:      m,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		tracking:     make(map[common.Hash]struct{}),
	}
}

// Submit signs unsigned with the session, broadcasts it, stores a pending
// record and tracks confirmation in the background. It returns as soon as
// the node accepts the transaction. Nothing is stored when broadcast
// fails.
func (s *Submitter) Submit(ctx context.Context, session *entities.Session, unsigned *types.Transaction, record entities.TransactionRecord) (*entities.TxHandle, error) {
	signed, err := s.vault.Sign(session, unsigned)
	if err != nil {
		return nil, err
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		s.logger.Warn("Broadcast failed",
			zap.String("hash", signed.Hash().Hex()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", entities.ErrBroadcastFailed, err)
	}

	now := time.Now().UTC()
	record.Hash = signed.Hash().Hex()
	record.Namespace = s.namespace
	record.Status = entities.TxPending
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := s.txRepo.Create(ctx, &record); err != nil {
		// the transaction is on its way regardless; keep tracking it in memory
		s.logger.Error("Failed to store transaction",
			zap.String("hash", record.Hash),
			zap.Error(err),
		)
	}

	s.logger.Info("Transaction broadcast",
		zap.String("hash", record.Hash),
		zap.String("kind", string(record.Kind)),
		zap.String("from", record.FromAddress),
	)

	handle := &entities.TxHandle{Hash: signed.Hash(), Record: &record}
	s.track(handle)
	return handle, nil
}

// track starts a background confirmation tracker unless one is running
func (s *Submitter) track(handle *entities.TxHandle) {
	s.mu.Lock()
	if _, ok := s.tracking[handle.Hash]; ok || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.tracking[handle.Hash] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tracking, handle.Hash)
			s.mu.Unlock()
		}()

		if _, err := s.AwaitConfirmation(s.ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Stopped tracking transaction",
				zap.String("hash", handle.Hash.Hex()),
				zap.Error(err),
			)
		}
	}()
}

// AwaitConfirmation polls for the receipt of handle until it is mined or
// ctx ends. Missing receipts and provider errors keep polling. The
// terminal status is stored and the sender's balances are refreshed.
func (s *Submitter) AwaitConfirmation(ctx context.Context, handle *entities.TxHandle) (*entities.TransactionRecord, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.chain.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil && receipt != nil:
			return s.settle(ctx, handle, receipt)
		case err == nil, errors.Is(err, ethereum.NotFound):
		default:
			s.logger.Debug("Receipt lookup failed, polling again",
				zap.String("hash", handle.Hash.Hex()),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) settle(ctx context.Context, handle *entities.TxHandle, receipt *types.Receipt) (*entities.TransactionRecord, error) {
	record := s.currentRecord(ctx, handle)

	update := entities.StatusUpdate{Status: entities.TxFailed}
	if receipt.Status == types.ReceiptStatusSuccessful {
		update.Status = entities.TxConfirmed
	}
	if receipt.BlockNumber != nil {
		update.BlockNumber = receipt.BlockNumber.Int64()
	}
	if update.Status == entities.TxConfirmed && record.Kind == entities.TxKindSwap &&
		record.BuyToken != nil && !entities.IsNativeAddress(*record.BuyToken) {
		received := chain.ReceivedAmount(receipt, common.HexToAddress(*record.BuyToken), common.HexToAddress(record.FromAddress))
		amount := received.String()
		update.ReceivedAmount = &amount
	}

	updated, err := s.txRepo.UpdateStatus(ctx, handle.Hash.Hex(), update)
	if err != nil {
		return nil, fmt.Errorf("failed to store transaction status: %w", err)
	}
	if !updated {
		// settled elsewhere; the stored outcome stands
		if stored, err := s.txRepo.GetByHash(ctx, handle.Hash.Hex()); err == nil && stored != nil {
			return stored, nil
		}
	}
	s.metrics.IncConfirmation(string(update.Status))
	s.logger.Info("Transaction settled",
		zap.String("hash", handle.Hash.Hex()),
		zap.String("status", string(update.Status)),
		zap.Int64("block", update.BlockNumber),
	)

	record.Status = update.Status
	if update.BlockNumber > 0 {
		block := update.BlockNumber
		record.BlockNumber = &block
	}
	if update.ReceivedAmount != nil {
		record.ReceivedAmount = update.ReceivedAmount
	}

	if s.balances != nil && record.FromAddress != "" {
		if _, err := s.balances.Refresh(ctx, record.FromAddress); err != nil {
			s.logger.Warn("Balance refresh after confirmation failed", zap.Error(err))
		}
	}

	return &record, nil
}

// currentRecord returns the stored record of handle, falling back to the
// in-memory copy when storage has none
func (s *Submitter) currentRecord(ctx context.Context, handle *entities.TxHandle) entities.TransactionRecord {
	stored, err := s.txRepo.GetByHash(ctx, handle.Hash.Hex())
	if err == nil && stored != nil {
		return *stored
	}
	if handle.Record != nil {
		return *handle.Record
	}
	return entities.TransactionRecord{Hash: handle.Hash.Hex(), Namespace: s.namespace}
}

// ResumePending tracks stored pending transactions again. It returns the
// number of transactions picked up.
func (s *Submitter) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.txRepo.ListPending(ctx, s.namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	for i := range pending {
		record := pending[i]
		s.track(&entities.TxHandle{Hash: common.HexToHash(record.Hash), Record: &record})
	}

	if len(pending) > 0 {
		s.logger.Info("Resumed pending transactions", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Tracking reports whether hash is being tracked
func (s *Submitter) Tracking(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracking[common.HexToHash(strings.TrimSpace(hash))]
	return ok
}

// Close stops all trackers and waits for them to exit
func (s *Submitter) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
