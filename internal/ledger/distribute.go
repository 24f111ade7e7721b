package ledger

import (
	"math/big"

	"go.uber.org/zap"
)

// distributable is the amount split by an injection of value under the
// configured dust policy.
func (l *Ledger) distributable(value *big.Int) *big.Int {
	out := new(big.Int).Set(value)
	if l.cfg.DustPolicy == DustCarry {
		out.Add(out, l.dust)
	}
	return out
}

// distribute credits every slot with floor(amount*balance/T), T being the
// registry total before any credit. Balances are read before their own slot
// is credited, so every share uses pre-injection balances.
func (l *Ledger) distribute(amount *big.Int) ([]*big.Int, *big.Int, error) {
	total := l.registry.TotalValue()
	if total.Sign() == 0 {
		return nil, nil, ErrNoActiveMembers
	}

	count := l.registry.Count()
	increments := make([]*big.Int, count)
	distributed := new(big.Int)
	for pos := 0; pos < count; pos++ {
		balance, err := l.registry.BalanceAt(pos)
		if err != nil {
			l.undoDistribution(increments[:pos])
			return nil, nil, err
		}
		share := balance.Mul(balance, amount)
		share.Quo(share, total)
		increments[pos] = share
		if share.Sign() == 0 {
			continue
		}
		if err := l.registry.Credit(pos, share); err != nil {
			l.undoDistribution(increments[:pos])
			return nil, nil, err
		}
		distributed.Add(distributed, share)
	}
	return increments, distributed, nil
}

func (l *Ledger) undoDistribution(increments []*big.Int) {
	for pos, share := range increments {
		if share == nil || share.Sign() == 0 {
			continue
		}
		if err := l.registry.Debit(pos, share); err != nil {
			l.logger.Error("undo distribution", zap.Int("position", pos), zap.Error(err))
		}
	}
}

// nextDust is the unattributed value after injecting value and crediting
// distributed. It holds for both policies since carried dust is part of what
// got distributed.
func nextDust(dust, value, distributed *big.Int) *big.Int {
	out := new(big.Int).Add(dust, value)
	return out.Sub(out, distributed)
}
