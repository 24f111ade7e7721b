package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ethpool/internal/registry"
)

// readView is an immutable copy of committed state. Balances inside it are
// never handed out directly.
type readView struct {
	members []Member
	index   map[common.Address]int
	stats   Stats
}

// publishLocked copies the current state into a new read view. Callers hold mu.
func (l *Ledger) publishLocked() {
	members := l.registry.Members()
	index := make(map[common.Address]int, len(members))
	for _, m := range members {
		index[m.Address] = m.Position
	}
	l.view.Store(&readView{
		members: members,
		index:   index,
		stats:   l.statsLocked(),
	})
}

func (l *Ledger) statsLocked() Stats {
	return Stats{
		Operator:   l.cfg.Operator,
		Members:    l.registry.Count(),
		TotalValue: l.registry.TotalValue(),
		Held:       new(big.Int).Set(l.held),
		Dust:       new(big.Int).Set(l.dust),
		DustPolicy: l.cfg.DustPolicy,
		Injections: l.injections,
		Seq:        l.seq,
	}
}

// Member looks up an active member by address.
func (l *Ledger) Member(ctx context.Context, account common.Address) (Member, error) {
	if l.reentrant(ctx) {
		m, ok := l.registry.Get(account)
		if !ok {
			return Member{}, fmt.Errorf("%w: %s", ErrNotFound, account.Hex())
		}
		return m, nil
	}

	v := l.view.Load()
	pos, ok := v.index[account]
	if !ok {
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, account.Hex())
	}
	return copyMember(v.members[pos]), nil
}

// MemberAt returns the member stored at position.
func (l *Ledger) MemberAt(ctx context.Context, position int) (Member, error) {
	if l.reentrant(ctx) {
		return l.registry.At(position)
	}

	v := l.view.Load()
	if position < 0 || position >= len(v.members) {
		return Member{}, fmt.Errorf("%w: %d not in [0, %d)", registry.ErrIndexOutOfRange, position, len(v.members))
	}
	return copyMember(v.members[position]), nil
}

// Members returns all active members in slot order.
func (l *Ledger) Members(ctx context.Context) []Member {
	if l.reentrant(ctx) {
		return l.registry.Members()
	}

	v := l.view.Load()
	out := make([]Member, 0, len(v.members))
	for _, m := range v.members {
		out = append(out, copyMember(m))
	}
	return out
}

func (l *Ledger) Stats(ctx context.Context) Stats {
	if l.reentrant(ctx) {
		return l.statsLocked()
	}

	s := l.view.Load().stats
	s.TotalValue = new(big.Int).Set(s.TotalValue)
	s.Held = new(big.Int).Set(s.Held)
	s.Dust = new(big.Int).Set(s.Dust)
	return s
}

func copyMember(m Member) Member {
	m.Balance = new(big.Int).Set(m.Balance)
	return m
}
