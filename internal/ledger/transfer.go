package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ethpool/internal/model"
)

// Authorizer reports whether caller may inject rewards.
type Authorizer func(caller common.Address) bool

// OperatorOnly authorizes exactly one operator address.
func OperatorOnly(operator common.Address) Authorizer {
	return func(caller common.Address) bool {
		return caller == operator
	}
}

// Operators authorizes any of the given addresses.
func Operators(operators ...common.Address) Authorizer {
	allowed := make(map[common.Address]struct{}, len(operators))
	for _, op := range operators {
		allowed[op] = struct{}{}
	}
	return func(caller common.Address) bool {
		_, ok := allowed[caller]
		return ok
	}
}

// Transferer moves value out of the pool to a withdrawing member.
type Transferer interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, to common.Address, amount *big.Int) error

func (f TransferFunc) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return f(ctx, to, amount)
}

// Journal receives every applied mutation in sequence order.
type Journal interface {
	Append(ctx context.Context, record model.Record) error
}

// DustPolicy decides what happens to rounding residue of a reward injection.
type DustPolicy string

const (
	// DustRetain leaves residue in the pool unattributed.
	DustRetain DustPolicy = "retain"
	// DustCarry adds accumulated residue to the next injection.
	DustCarry DustPolicy = "carry"
)

func ParseDustPolicy(value string) (DustPolicy, error) {
	switch DustPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", DustRetain:
		return DustRetain, nil
	case DustCarry:
		return DustCarry, nil
	default:
		return "", fmt.Errorf("unknown dust policy: %s", value)
	}
}

// transferKey marks contexts handed to the Transferer of a specific ledger.
type transferKey struct {
	ledger *Ledger
}

func (l *Ledger) reentrant(ctx context.Context) bool {
	return ctx != nil && ctx.Value(transferKey{ledger: l}) != nil
}
