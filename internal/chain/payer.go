package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const defaultTransferGas = 21000

// ErrTransferReverted is returned when a payout transaction was mined with a failed status.
var ErrTransferReverted = errors.New("payout transaction reverted")

// Backend is the RPC surface the Payer needs. *Client implements it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// PayerConfig holds settings for on-chain payouts.
type PayerConfig struct {
	Key            *ecdsa.PrivateKey
	ChainID        *big.Int
	GasLimit       uint64
	ConfirmTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Payer sends native value from the pool wallet.
type Payer struct {
	cfg     PayerConfig
	backend Backend
	from    common.Address
	signer  types.Signer
	logger  *zap.Logger

	mu sync.Mutex
}

func NewPayer(cfg PayerConfig, backend Backend, logger *zap.Logger) (*Payer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("pool wallet key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultTransferGas
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}

	return &Payer{
		cfg:     cfg,
		backend: backend,
		from:    crypto.PubkeyToAddress(cfg.Key.PublicKey),
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		logger:  logger,
	}, nil
}

// Address returns the pool wallet address.
func (p *Payer) Address() common.Address {
	return p.from
}

// Transfer signs and broadcasts a value transfer to `to` and waits for its receipt.
// A send error or a failed receipt is returned; a broadcast that is not
// confirmed within ConfirmTimeout is logged and treated as sent, so the
// withdrawal is never rolled back while the transaction may still land.
func (p *Payer) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("payout amount must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var nonce uint64
	err := withRetry(ctx, p.logger, "pending nonce", p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		nonce, err = p.backend.PendingNonceAt(ctx, p.from)
		return err
	})
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}

	var gasPrice *big.Int
	err = withRetry(ctx, p.logger, "gas price", p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		gasPrice, err = p.backend.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(amount),
		Gas:      p.cfg.GasLimit,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, p.signer, p.cfg.Key)
	if err != nil {
		return fmt.Errorf("sign payout: %w", err)
	}

	err = withRetry(ctx, p.logger.With(zap.String("tx", signed.Hash().Hex())), "send payout", p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		err := p.backend.SendTransaction(ctx, signed)
		if err != nil && isAlreadyKnown(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("send payout: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := p.backend.WaitMined(waitCtx, signed)
	if err != nil {
		p.logger.Warn("payout unconfirmed",
			zap.String("tx", signed.Hash().Hex()),
			zap.String("to", to.Hex()),
			zap.Stringer("amount", amount),
			zap.Error(err),
		)
		return nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrTransferReverted, signed.Hash().Hex())
	}

	p.logger.Info("payout confirmed",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Stringer("amount", amount),
		zap.Stringer("block", receipt.BlockNumber),
	)
	return nil
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
