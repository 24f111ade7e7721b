package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a base-10 wei amount. Empty input is zero.
func ParseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, value)
	}
	return parsed, nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
