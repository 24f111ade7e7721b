package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ethpool/internal/model"
	"ethpool/internal/registry"
)

// Member is a copy of an active registry entry.
type Member = registry.Member

// Config wires the ledger to its collaborators.
type Config struct {
	// Operator is reported in Stats. When Authorize is nil it becomes the only authorized caller.
	Operator   common.Address
	Authorize  Authorizer
	Transfer   Transferer
	Journal    Journal
	DustPolicy DustPolicy
	// RequireFunding rejects deposits and rewards that carry no funding transaction.
	RequireFunding bool

	Now   func() time.Time
	NewID func() string
}

// Distribution is the outcome of a reward injection.
type Distribution struct {
	Seq         uint64
	Amount      *big.Int
	Distributed *big.Int
	Dust        *big.Int
	Members     int
}

// Payout is the outcome of a withdrawal.
type Payout struct {
	Seq      uint64
	Account  common.Address
	Amount   *big.Int
	Position int
}

// Stats summarises pool accounting.
type Stats struct {
	Operator   common.Address
	Members    int
	TotalValue *big.Int
	Held       *big.Int
	Dust       *big.Int
	DustPolicy DustPolicy
	Injections uint64
	Seq        uint64
}

// Ledger applies deposits, reward injections and withdrawals against a
// member registry. Each operation runs in one exclusive critical section and
// either completes or leaves the state exactly as it found it. Readers see
// the last journaled state and never wait on mu.
type Ledger struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	registry   *registry.Registry
	held       *big.Int
	dust       *big.Int
	injections uint64
	seq        uint64
	funded     map[common.Hash]struct{}

	view atomic.Pointer[readView]
}

func New(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Authorize == nil {
		if cfg.Operator == (common.Address{}) {
			return nil, fmt.Errorf("operator or authorizer is required")
		}
		cfg.Authorize = OperatorOnly(cfg.Operator)
	}
	if cfg.Transfer == nil {
		return nil, fmt.Errorf("transferer is required")
	}
	if cfg.DustPolicy == "" {
		cfg.DustPolicy = DustRetain
	}
	if cfg.DustPolicy != DustRetain && cfg.DustPolicy != DustCarry {
		return nil, fmt.Errorf("unknown dust policy: %s", cfg.DustPolicy)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}

	l := &Ledger{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(),
		held:     new(big.Int),
		dust:     new(big.Int),
		funded:   make(map[common.Hash]struct{}),
	}
	l.publishLocked()
	return l, nil
}

func (l *Ledger) newRecord(kind string, account common.Address, amount *big.Int, position int) model.Record {
	return model.Record{
		Seq:       l.seq + 1,
		ID:        l.cfg.NewID(),
		Kind:      kind,
		Account:   account.Hex(),
		Amount:    amount.String(),
		Position:  position,
		Timestamp: l.cfg.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (l *Ledger) appendRecord(ctx context.Context, record model.Record) error {
	if l.cfg.Journal == nil {
		return nil
	}
	if err := l.cfg.Journal.Append(ctx, record); err != nil {
		return fmt.Errorf("journal %s: %w", record.Kind, err)
	}
	return nil
}
