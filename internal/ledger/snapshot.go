package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ethpool/internal/model"
	"ethpool/internal/registry"
)

// Snapshot captures the ledger state with members in slot order. It waits for
// an operation in progress, unless called from inside that operation's transfer.
func (l *Ledger) Snapshot(ctx context.Context) model.Snapshot {
	if !l.reentrant(ctx) {
		l.mu.Lock()
		defer l.mu.Unlock()
	}

	members := l.registry.Members()
	out := model.Snapshot{
		Seq:        l.seq,
		Members:    make([]model.SnapshotMember, 0, len(members)),
		Held:       l.held.String(),
		Dust:       l.dust.String(),
		Injections: l.injections,
		UpdatedAt:  l.cfg.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, m := range members {
		out.Members = append(out.Members, model.SnapshotMember{
			Address: m.Address.Hex(),
			Balance: m.Balance.String(),
		})
	}
	if len(l.funded) > 0 {
		out.Funding = make([]string, 0, len(l.funded))
		for hash := range l.funded {
			out.Funding = append(out.Funding, hash.Hex())
		}
		sort.Strings(out.Funding)
	}
	return out
}

// Restore loads snap into an empty ledger.
func (l *Ledger) Restore(snap model.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seq != 0 || l.registry.Count() != 0 {
		return fmt.Errorf("restore snapshot: ledger is not empty")
	}

	held, err := ParseAmount(snap.Held)
	if err != nil {
		return fmt.Errorf("restore snapshot held: %w", err)
	}
	dust, err := ParseAmount(snap.Dust)
	if err != nil {
		return fmt.Errorf("restore snapshot dust: %w", err)
	}

	for i, m := range snap.Members {
		if !common.IsHexAddress(m.Address) {
			l.resetLocked()
			return fmt.Errorf("restore snapshot member %d: invalid address %s", i, m.Address)
		}
		balance, err := ParseAmount(m.Balance)
		if err != nil || balance.Sign() == 0 {
			l.resetLocked()
			return fmt.Errorf("restore snapshot member %d: invalid balance %q", i, m.Balance)
		}
		if !l.registry.Upsert(common.HexToAddress(m.Address), balance) {
			l.resetLocked()
			return fmt.Errorf("restore snapshot member %d: duplicate address %s", i, m.Address)
		}
	}

	for i, raw := range snap.Funding {
		hash, err := ParseTxHash(raw)
		if err != nil {
			l.resetLocked()
			return fmt.Errorf("restore snapshot funding %d: %w", i, err)
		}
		if _, dup := l.funded[hash]; dup {
			l.resetLocked()
			return fmt.Errorf("restore snapshot funding %d: duplicate %s", i, raw)
		}
		l.funded[hash] = struct{}{}
	}

	expected := new(big.Int).Add(l.registry.TotalValue(), dust)
	if expected.Cmp(held) != 0 {
		l.resetLocked()
		return fmt.Errorf("restore snapshot: held %s != members %s + dust %s", held, l.registry.TotalValue(), dust)
	}

	l.held = held
	l.dust = dust
	l.injections = snap.Injections
	l.seq = snap.Seq
	l.publishLocked()

	l.logger.Info("snapshot restored",
		zap.Uint64("seq", snap.Seq),
		zap.Int("members", l.registry.Count()),
		zap.Stringer("held", held),
	)
	return nil
}

func (l *Ledger) resetLocked() {
	l.registry = registry.New()
	l.held = new(big.Int)
	l.dust = new(big.Int)
	l.injections = 0
	l.seq = 0
	l.funded = make(map[common.Hash]struct{})
	l.publishLocked()
}

// Replay applies journal records with a sequence above the current one. The
// records must be contiguous and agree with the state they are applied to.
// Transfers are not repeated.
func (l *Ledger) Replay(ctx context.Context, records []model.Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	applied := 0
	defer func() {
		if applied > 0 {
			l.publishLocked()
		}
	}()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if record.Seq <= l.seq {
			continue
		}
		if record.Seq != l.seq+1 {
			return applied, fmt.Errorf("%w: expected seq %d, got %d", ErrJournalDiverged, l.seq+1, record.Seq)
		}
		if err := l.applyRecord(record); err != nil {
			return applied, fmt.Errorf("replay seq %d (%s): %w", record.Seq, record.Kind, err)
		}
		l.seq = record.Seq
		applied++
	}

	if applied > 0 {
		l.logger.Info("journal replayed", zap.Int("applied", applied), zap.Uint64("seq", l.seq))
	}
	return applied, nil
}

func (l *Ledger) applyRecord(record model.Record) error {
	if !common.IsHexAddress(record.Account) {
		return fmt.Errorf("%w: invalid account %s", ErrJournalDiverged, record.Account)
	}
	account := common.HexToAddress(record.Account)
	amount, err := ParseAmount(record.Amount)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: zero amount", ErrJournalDiverged)
	}

	var funding common.Hash
	if record.TxHash != "" {
		if record.Kind != model.KindDeposit && record.Kind != model.KindReward {
			return fmt.Errorf("%w: funding on %s record", ErrJournalDiverged, record.Kind)
		}
		funding, err = ParseTxHash(record.TxHash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrJournalDiverged, err)
		}
		if _, dup := l.funded[funding]; dup {
			return fmt.Errorf("%w: funding %s used twice", ErrJournalDiverged, record.TxHash)
		}
	}

	switch record.Kind {
	case model.KindDeposit:
		l.registry.Upsert(account, amount)
		l.held.Add(l.held, amount)

	case model.KindReward:
		if l.registry.Count() == 0 {
			return fmt.Errorf("%w: reward with no members", ErrJournalDiverged)
		}
		increments, distributed, err := l.distribute(l.distributable(amount))
		if err != nil {
			return err
		}
		if record.Distributed != "" && record.Distributed != distributed.String() {
			l.undoDistribution(increments)
			return fmt.Errorf("%w: distributed %s, journal says %s", ErrJournalDiverged, distributed, record.Distributed)
		}
		l.dust = nextDust(l.dust, amount, distributed)
		l.held.Add(l.held, amount)
		l.injections++

	case model.KindWithdraw:
		member, ok := l.registry.Get(account)
		if !ok {
			return fmt.Errorf("%w: withdraw of inactive %s", ErrJournalDiverged, record.Account)
		}
		if member.Position != record.Position || member.Balance.Cmp(amount) != 0 {
			return fmt.Errorf("%w: withdraw of %s at %d/%s, ledger has %d/%s",
				ErrJournalDiverged, record.Account, record.Position, amount, member.Position, member.Balance)
		}
		if _, err := l.registry.RemoveAndCompact(account); err != nil {
			return err
		}
		l.held.Sub(l.held, amount)

	case model.KindWithdrawReverted:
		if err := l.registry.Restore(Member{Address: account, Balance: amount, Position: record.Position}); err != nil {
			return fmt.Errorf("%w: %v", ErrJournalDiverged, err)
		}
		l.held.Add(l.held, amount)

	default:
		return fmt.Errorf("%w: unknown record kind %q", ErrJournalDiverged, record.Kind)
	}

	if funding != (common.Hash{}) {
		l.funded[funding] = struct{}{}
	}
	return nil
}
