package registry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned when an address has no active entry.
	ErrNotFound = errors.New("member not found")
	// ErrIndexOutOfRange is returned for positions outside [0, Count()).
	ErrIndexOutOfRange = errors.New("position out of range")
)

// Member is a copy of a registry entry. Balance is never shared with the registry.
type Member struct {
	Address  common.Address
	Balance  *big.Int
	Position int
}

type entry struct {
	address  common.Address
	balance  *big.Int
	position int
}

// Registry keeps active members in dense storage with an address index.
// Removal swaps the last entry into the freed slot, so iteration order is
// only stable between removals.
type Registry struct {
	entries []*entry
	index   map[common.Address]int
	total   *big.Int
}

func New() *Registry {
	return &Registry{
		index: make(map[common.Address]int),
		total: new(big.Int),
	}
}

// Upsert adds delta to an existing member or appends a new member holding delta.
// It reports whether a new member was created.
func (r *Registry) Upsert(address common.Address, delta *big.Int) bool {
	if pos, ok := r.index[address]; ok {
		e := r.entries[pos]
		e.balance.Add(e.balance, delta)
		r.total.Add(r.total, delta)
		return false
	}

	pos := len(r.entries)
	r.entries = append(r.entries, &entry{
		address:  address,
		balance:  new(big.Int).Set(delta),
		position: pos,
	})
	r.index[address] = pos
	r.total.Add(r.total, delta)
	return true
}

// Get returns the member recorded for address.
func (r *Registry) Get(address common.Address) (Member, bool) {
	pos, ok := r.index[address]
	if !ok {
		return Member{}, false
	}
	return r.entries[pos].member(), true
}

// At returns the member stored at position.
func (r *Registry) At(position int) (Member, error) {
	if position < 0 || position >= len(r.entries) {
		return Member{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, position, len(r.entries))
	}
	return r.entries[position].member(), nil
}

// RemoveAndCompact drops address from the registry and moves the last entry
// into its slot. The returned member carries the position it held before removal.
func (r *Registry) RemoveAndCompact(address common.Address) (Member, error) {
	pos, ok := r.index[address]
	if !ok {
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, address.Hex())
	}

	removed := r.entries[pos]
	last := len(r.entries) - 1
	if pos != last {
		moved := r.entries[last]
		moved.position = pos
		r.entries[pos] = moved
		r.index[moved.address] = pos
	}
	r.entries[last] = nil
	r.entries = r.entries[:last]
	delete(r.index, address)
	r.total.Sub(r.total, removed.balance)

	return removed.member(), nil
}

// Restore undoes RemoveAndCompact for m: the entry currently occupying
// m.Position goes back to the end and m takes its old slot again.
func (r *Registry) Restore(m Member) error {
	if _, ok := r.index[m.Address]; ok {
		return fmt.Errorf("restore %s: address already active", m.Address.Hex())
	}
	if m.Position < 0 || m.Position > len(r.entries) {
		return fmt.Errorf("%w: restore position %d with %d entries", ErrIndexOutOfRange, m.Position, len(r.entries))
	}
	if m.Balance == nil || m.Balance.Sign() < 0 {
		return fmt.Errorf("restore %s: invalid balance", m.Address.Hex())
	}

	restored := &entry{
		address:  m.Address,
		balance:  new(big.Int).Set(m.Balance),
		position: m.Position,
	}
	if m.Position == len(r.entries) {
		r.entries = append(r.entries, restored)
	} else {
		displaced := r.entries[m.Position]
		displaced.position = len(r.entries)
		r.entries = append(r.entries, displaced)
		r.index[displaced.address] = displaced.position
		r.entries[m.Position] = restored
	}
	r.index[m.Address] = m.Position
	r.total.Add(r.total, restored.balance)
	return nil
}

// Credit adds delta to the balance at position.
func (r *Registry) Credit(position int, delta *big.Int) error {
	if position < 0 || position >= len(r.entries) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, position)
	}
	e := r.entries[position]
	e.balance.Add(e.balance, delta)
	r.total.Add(r.total, delta)
	return nil
}

// Debit subtracts delta from the balance at position. The balance may not go negative.
func (r *Registry) Debit(position int, delta *big.Int) error {
	if position < 0 || position >= len(r.entries) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, position)
	}
	e := r.entries[position]
	if e.balance.Cmp(delta) < 0 {
		return fmt.Errorf("debit %s: balance %s below %s", e.address.Hex(), e.balance, delta)
	}
	e.balance.Sub(e.balance, delta)
	r.total.Sub(r.total, delta)
	return nil
}

// BalanceAt returns a copy of the balance stored at position.
func (r *Registry) BalanceAt(position int) (*big.Int, error) {
	if position < 0 || position >= len(r.entries) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, position)
	}
	return new(big.Int).Set(r.entries[position].balance), nil
}

// TotalValue returns the sum of all active balances.
func (r *Registry) TotalValue() *big.Int {
	return new(big.Int).Set(r.total)
}

func (r *Registry) Count() int {
	return len(r.entries)
}

// Members returns copies of all entries in slot order.
func (r *Registry) Members() []Member {
	out := make([]Member, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.member())
	}
	return out
}

func (e *entry) member() Member {
	return Member{
		Address:  e.address,
		Balance:  new(big.Int).Set(e.balance),
		Position: e.position,
	}
}
