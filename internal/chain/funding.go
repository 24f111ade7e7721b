package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	// ErrFundingNotFound is returned when the chain does not know the funding transaction.
	ErrFundingNotFound = errors.New("funding transaction not found")
	// ErrFundingMismatch is returned when the transaction does not pay the claimed amount from the claimed sender into the pool wallet.
	ErrFundingMismatch = errors.New("funding transaction does not match request")
	// ErrFundingUnconfirmed is returned while the transaction is pending or below the confirmation depth.
	ErrFundingUnconfirmed = errors.New("funding transaction not confirmed")
)

// FundingBackend is the RPC surface the FundingVerifier needs. *Client implements it.
type FundingBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// FundingConfig holds settings for funding checks.
type FundingConfig struct {
	// Wallet is the pool wallet every funding transaction must pay.
	Wallet           common.Address
	ChainID          *big.Int
	MinConfirmations uint64
	MaxRetries       int
	RetryBackoff     time.Duration
}

// FundingVerifier checks that deposits and rewards were actually paid into
// the pool wallet before the ledger credits them.
type FundingVerifier struct {
	cfg     FundingConfig
	backend FundingBackend
	signer  types.Signer
	logger  *zap.Logger
}

func NewFundingVerifier(cfg FundingConfig, backend FundingBackend, logger *zap.Logger) (*FundingVerifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	if cfg.Wallet == (common.Address{}) {
		return nil, fmt.Errorf("pool wallet address is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}

	return &FundingVerifier{
		cfg:     cfg,
		backend: backend,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		logger:  logger,
	}, nil
}

// VerifyFunding checks that hash is a successful, confirmed transaction sending
// exactly amount wei from `from` to the pool wallet.
func (v *FundingVerifier) VerifyFunding(ctx context.Context, hash common.Hash, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrFundingMismatch)
	}

	var (
		tx      *types.Transaction
		pending bool
	)
	err := v.retry(ctx, "funding tx", func(ctx context.Context) error {
		var err error
		tx, pending, err = v.backend.TransactionByHash(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s", ErrFundingNotFound, hash.Hex())
	}
	if err != nil {
		return fmt.Errorf("get funding tx %s: %w", hash.Hex(), err)
	}
	if pending {
		return fmt.Errorf("%w: %s is pending", ErrFundingUnconfirmed, hash.Hex())
	}

	if to := tx.To(); to == nil || *to != v.cfg.Wallet {
		return fmt.Errorf("%w: %s does not pay the pool wallet", ErrFundingMismatch, hash.Hex())
	}
	if tx.Value().Cmp(amount) != 0 {
		return fmt.Errorf("%w: %s carries %s wei, request says %s", ErrFundingMismatch, hash.Hex(), tx.Value(), amount)
	}
	sender, err := types.Sender(v.signer, tx)
	if err != nil {
		return fmt.Errorf("%w: recover sender of %s: %v", ErrFundingMismatch, hash.Hex(), err)
	}
	if sender != from {
		return fmt.Errorf("%w: %s was sent by %s, not %s", ErrFundingMismatch, hash.Hex(), sender.Hex(), from.Hex())
	}

	var receipt *types.Receipt
	err = v.retry(ctx, "funding receipt", func(ctx context.Context) error {
		var err error
		receipt, err = v.backend.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s has no receipt", ErrFundingUnconfirmed, hash.Hex())
	}
	if err != nil {
		return fmt.Errorf("get funding receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted", ErrFundingMismatch, hash.Hex())
	}

	var head uint64
	err = v.retry(ctx, "block number", func(ctx context.Context) error {
		var err error
		head, err = v.backend.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}
	if receipt.BlockNumber == nil || !receipt.BlockNumber.IsUint64() || receipt.BlockNumber.Uint64() > head {
		return fmt.Errorf("%w: %s is not in the canonical chain yet", ErrFundingUnconfirmed, hash.Hex())
	}
	if depth := head - receipt.BlockNumber.Uint64() + 1; depth < v.cfg.MinConfirmations {
		return fmt.Errorf("%w: %s has %d of %d confirmations", ErrFundingUnconfirmed, hash.Hex(), depth, v.cfg.MinConfirmations)
	}

	v.logger.Debug("funding verified",
		zap.String("tx", hash.Hex()),
		zap.String("from", from.Hex()),
		zap.Stringer("amount", amount),
		zap.Stringer("block", receipt.BlockNumber),
	)
	return nil
}

// retry retries transport errors. A missing transaction is an answer, not a failure.
func (v *FundingVerifier) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var answer error
	err := withRetry(ctx, v.logger, op, v.cfg.MaxRetries, v.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ethereum.NotFound) {
			answer = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return answer
}
