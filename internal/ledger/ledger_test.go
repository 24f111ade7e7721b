package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ethpool/internal/model"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	accountA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	accountB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	accountC = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type memJournal struct {
	mu      sync.Mutex
	records []model.Record
	fail    error
}

func (j *memJournal) Append(_ context.Context, record model.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.records = append(j.records, record)
	return nil
}

type wallet struct {
	mu       sync.Mutex
	received map[common.Address]*big.Int
	fail     error
}

func newWallet() *wallet {
	return &wallet{received: make(map[common.Address]*big.Int)}
}

func (w *wallet) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	got, ok := w.received[to]
	if !ok {
		got = new(big.Int)
		w.received[to] = got
	}
	got.Add(got, amount)
	return nil
}

func (w *wallet) total() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sum := new(big.Int)
	for _, v := range w.received {
		sum.Add(sum, v)
	}
	return sum
}

func newTestLedger(t *testing.T, transfer Transferer, journal Journal) *Ledger {
	t.Helper()
	cfg := Config{Operator: operator, Transfer: transfer}
	if journal != nil {
		cfg.Journal = journal
	}
	l, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return l
}

func wei(v int64) *big.Int {
	return big.NewInt(v)
}

func balanceOf(t *testing.T, l *Ledger, account common.Address) *big.Int {
	t.Helper()
	m, err := l.Member(context.Background(), account)
	require.NoError(t, err)
	return m.Balance
}

func requireConserved(t *testing.T, l *Ledger) {
	t.Helper()
	stats := l.Stats(context.Background())
	sum := new(big.Int).Add(stats.TotalValue, stats.Dust)
	require.Zero(t, sum.Cmp(stats.Held), "members %s + dust %s != held %s", stats.TotalValue, stats.Dust, stats.Held)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Transfer: newWallet()}, nil)
	assert.Error(t, err)

	_, err = New(Config{Operator: operator}, nil)
	assert.Error(t, err)

	_, err = New(Config{Operator: operator, Transfer: newWallet(), DustPolicy: "burn"}, nil)
	assert.Error(t, err)
}

func TestRewardSplitsProportionally(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, err := l.Deposit(ctx, accountA, wei(100))
	require.NoError(t, err)
	_, err = l.Deposit(ctx, accountB, wei(300))
	require.NoError(t, err)

	dist, err := l.InjectReward(ctx, operator, wei(200))
	require.NoError(t, err)

	assert.Equal(t, "150", balanceOf(t, l, accountA).String())
	assert.Equal(t, "450", balanceOf(t, l, accountB).String())
	assert.Equal(t, "200", dist.Distributed.String())
	assert.Equal(t, 2, dist.Members)

	stats := l.Stats(ctx)
	assert.Equal(t, "600", stats.TotalValue.String())
	assert.Equal(t, "600", stats.Held.String())
	assert.Equal(t, uint64(1), stats.Injections)
	requireConserved(t, l)
}

func TestTwoRewardsMatchOneLargerReward(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, _ = l.Deposit(ctx, accountB, wei(300))
	_, err := l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)
	_, err = l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)

	assert.Equal(t, "150", balanceOf(t, l, accountA).String())
	assert.Equal(t, "450", balanceOf(t, l, accountB).String())
}

func TestLateDepositorMissesEarlierReward(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, err := l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)
	_, _ = l.Deposit(ctx, accountB, wei(200))
	_, err = l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)

	assert.Equal(t, "250", balanceOf(t, l, accountA).String())
	assert.Equal(t, "250", balanceOf(t, l, accountB).String())
	assert.Equal(t, "500", l.Stats(ctx).Held.String())
}

func TestDepositRewardDepositWithdrawAll(t *testing.T) {
	ctx := context.Background()
	w := newWallet()
	l := newTestLedger(t, w, nil)

	_, _ = l.Deposit(ctx, accountA, wei(500))
	_, err := l.InjectReward(ctx, operator, wei(1000))
	require.NoError(t, err)
	_, _ = l.Deposit(ctx, accountB, wei(3000))

	payA, err := l.Withdraw(ctx, accountA)
	require.NoError(t, err)
	payB, err := l.Withdraw(ctx, accountB)
	require.NoError(t, err)

	assert.Equal(t, "1500", payA.Amount.String())
	assert.Equal(t, "3000", payB.Amount.String())
	assert.Equal(t, "4500", w.total().String())

	stats := l.Stats(ctx)
	assert.Equal(t, 0, stats.Members)
	assert.Equal(t, "0", stats.Held.String())
	assert.Equal(t, "0", stats.TotalValue.String())
}

func TestWithdrawAfterRewardLeavesRemainder(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, _ = l.Deposit(ctx, accountB, wei(300))
	_, err := l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)

	pay, err := l.Withdraw(ctx, accountA)
	require.NoError(t, err)
	assert.Equal(t, "125", pay.Amount.String())
	assert.Equal(t, "375", l.Stats(ctx).Held.String())
	assert.Equal(t, "375", balanceOf(t, l, accountB).String())

	_, err = l.Member(ctx, accountA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRewardWithoutMembersFails(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, err := l.InjectReward(ctx, operator, wei(10))
	require.ErrorIs(t, err, ErrNoActiveMembers)

	stats := l.Stats(ctx)
	assert.Equal(t, "0", stats.Held.String())
	assert.Equal(t, uint64(0), stats.Seq)
	assert.Equal(t, uint64(0), stats.Injections)
}

func TestRewardChecksCallerThenAmount(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(100))

	_, err := l.InjectReward(ctx, accountA, wei(10))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.InjectReward(ctx, accountA, wei(0))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.InjectReward(ctx, operator, wei(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.InjectReward(ctx, operator, wei(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, "100", balanceOf(t, l, accountA).String())
}

func TestCustomAuthorizer(t *testing.T) {
	ctx := context.Background()
	allowed := map[common.Address]bool{accountC: true}
	l, err := New(Config{
		Authorize: func(caller common.Address) bool { return allowed[caller] },
		Transfer:  newWallet(),
	}, nil)
	require.NoError(t, err)

	_, _ = l.Deposit(ctx, accountA, wei(1))
	_, err = l.InjectReward(ctx, operator, wei(1))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = l.InjectReward(ctx, accountC, wei(1))
	assert.NoError(t, err)
}

func TestDepositRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, err := l.Deposit(ctx, accountA, wei(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Deposit(ctx, accountA, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, 0, l.Stats(ctx).Members)
}

func TestWithdrawUnknownFails(t *testing.T) {
	ctx := context.Background()
	w := newWallet()
	l := newTestLedger(t, w, nil)
	_, _ = l.Deposit(ctx, accountA, wei(100))
	before := l.Snapshot(ctx)

	_, err := l.Withdraw(ctx, accountB)
	require.ErrorIs(t, err, ErrNotFound)

	after := l.Snapshot(ctx)
	assert.Equal(t, before.Members, after.Members)
	assert.Equal(t, before.Seq, after.Seq)
	assert.Equal(t, "0", w.total().String())
}

func TestWithdrawMovesLastMemberIntoSlot(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(1))
	_, _ = l.Deposit(ctx, accountB, wei(1))
	_, _ = l.Deposit(ctx, accountC, wei(1))

	pay, err := l.Withdraw(ctx, accountA)
	require.NoError(t, err)
	assert.Equal(t, 0, pay.Position)

	m, err := l.MemberAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, accountC, m.Address)

	_, err = l.MemberAt(ctx, 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	for slot, member := range l.Members(ctx) {
		assert.Equal(t, slot, member.Position)
	}
}

func TestRedepositStartsFresh(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, _ = l.Deposit(ctx, accountB, wei(100))
	_, err := l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)

	_, err = l.Withdraw(ctx, accountA)
	require.NoError(t, err)
	m, err := l.Deposit(ctx, accountA, wei(7))
	require.NoError(t, err)

	assert.Equal(t, "7", m.Balance.String())
	assert.Equal(t, 1, m.Position)
}

func TestTopUpKeepsPosition(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(1))
	_, _ = l.Deposit(ctx, accountA, wei(1))
	m, err := l.Deposit(ctx, accountB, wei(1))
	require.NoError(t, err)

	a, err := l.Member(ctx, accountA)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, "2", a.Balance.String())
	assert.Equal(t, 1, m.Position)
}

func TestRoundingTruncatesPerMember(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(1))
	_, _ = l.Deposit(ctx, accountB, wei(1))
	_, _ = l.Deposit(ctx, accountC, wei(1))

	dist, err := l.InjectReward(ctx, operator, wei(100))
	require.NoError(t, err)

	for _, account := range []common.Address{accountA, accountB, accountC} {
		assert.Equal(t, "34", balanceOf(t, l, account).String())
	}
	assert.Equal(t, "99", dist.Distributed.String())
	assert.Equal(t, "1", dist.Dust.String())
	requireConserved(t, l)
}

func TestCarryPolicyRedistributesDust(t *testing.T) {
	ctx := context.Background()
	l, err := New(Config{Operator: operator, Transfer: newWallet(), DustPolicy: DustCarry}, nil)
	require.NoError(t, err)

	_, _ = l.Deposit(ctx, accountA, wei(1))
	_, _ = l.Deposit(ctx, accountB, wei(1))
	_, _ = l.Deposit(ctx, accountC, wei(1))

	first, err := l.InjectReward(ctx, operator, wei(2))
	require.NoError(t, err)
	assert.Equal(t, "0", first.Distributed.String())
	assert.Equal(t, "2", first.Dust.String())

	second, err := l.InjectReward(ctx, operator, wei(1))
	require.NoError(t, err)
	assert.Equal(t, "3", second.Distributed.String())
	assert.Equal(t, "0", second.Dust.String())
	assert.Equal(t, "2", balanceOf(t, l, accountA).String())
	requireConserved(t, l)
}

func TestProportionalFairnessAndConservation(t *testing.T) {
	ctx := context.Background()
	w := newWallet()
	l := newTestLedger(t, w, nil)
	rng := rand.New(rand.NewSource(7))

	accounts := make([]common.Address, 12)
	for i := range accounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(1000 + i)))
	}

	deposited := new(big.Int)
	rewarded := new(big.Int)
	var dustBound int64

	for step := 0; step < 400; step++ {
		account := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(4) {
		case 0, 1:
			amount := big.NewInt(rng.Int63n(1_000_000) + 1)
			_, err := l.Deposit(ctx, account, amount)
			require.NoError(t, err)
			deposited.Add(deposited, amount)
		case 2:
			members := l.Members(ctx)
			amount := big.NewInt(rng.Int63n(500_000) + 1)
			if len(members) == 0 {
				_, err := l.InjectReward(ctx, operator, amount)
				require.ErrorIs(t, err, ErrNoActiveMembers)
				continue
			}
			total := l.Stats(ctx).TotalValue
			_, err := l.InjectReward(ctx, operator, amount)
			require.NoError(t, err)
			rewarded.Add(rewarded, amount)
			dustBound += int64(len(members) - 1)

			for _, before := range members {
				want := new(big.Int).Mul(amount, before.Balance)
				want.Quo(want, total)
				want.Add(want, before.Balance)
				assert.Equal(t, want.String(), balanceOf(t, l, before.Address).String())
			}
		case 3:
			_, err := l.Withdraw(ctx, account)
			if err != nil {
				require.ErrorIs(t, err, ErrNotFound)
			}
		}
		requireConserved(t, l)
	}

	stats := l.Stats(ctx)
	inflow := new(big.Int).Add(deposited, rewarded)
	outflow := new(big.Int).Add(w.total(), stats.TotalValue)
	dust := new(big.Int).Sub(inflow, outflow)
	assert.Zero(t, dust.Cmp(stats.Dust))
	assert.True(t, dust.Sign() >= 0)
	assert.True(t, dust.Cmp(big.NewInt(dustBound)) <= 0, "dust %s exceeds bound %d", dust, dustBound)
}

func TestManyAccountsCycle(t *testing.T) {
	ctx := context.Background()
	w := newWallet()
	l := newTestLedger(t, w, nil)
	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	twentyEth := new(big.Int).Mul(oneEth, big.NewInt(20))

	accounts := make([]common.Address, 20)
	for i := range accounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
		_, err := l.Deposit(ctx, accounts[i], oneEth)
		require.NoError(t, err)
	}
	_, err := l.InjectReward(ctx, operator, twentyEth)
	require.NoError(t, err)

	twoEth := new(big.Int).Mul(oneEth, big.NewInt(2))
	for _, account := range accounts {
		assert.Zero(t, balanceOf(t, l, account).Cmp(twoEth))
		_, err := l.Withdraw(ctx, account)
		require.NoError(t, err)
	}
	assert.Equal(t, "0", l.Stats(ctx).Held.String())

	for round := 0; round < 2; round++ {
		for _, account := range accounts {
			_, err := l.Deposit(ctx, account, oneEth)
			require.NoError(t, err)
		}
		for _, account := range accounts {
			_, err := l.Withdraw(ctx, account)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 0, l.Stats(ctx).Members)
	assert.Equal(t, "0", l.Stats(ctx).Held.String())
}

func TestLookupDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, accountA, wei(10))

	first := l.Snapshot(ctx)
	for i := 0; i < 5; i++ {
		m, err := l.Member(ctx, accountA)
		require.NoError(t, err)
		m.Balance.SetInt64(0)
		_, _ = l.MemberAt(ctx, 0)
		_ = l.Members(ctx)
	}
	second := l.Snapshot(ctx)
	assert.Equal(t, first.Members, second.Members)
	assert.Equal(t, first.Seq, second.Seq)
}

func TestTransferFailureRestoresMember(t *testing.T) {
	ctx := context.Background()
	w := newWallet()
	journal := &memJournal{}
	l := newTestLedger(t, w, journal)

	_, _ = l.Deposit(ctx, accountA, wei(10))
	_, _ = l.Deposit(ctx, accountB, wei(20))
	_, _ = l.Deposit(ctx, accountC, wei(30))
	before := l.Members(ctx)

	w.fail = errors.New("recipient rejected")
	_, err := l.Withdraw(ctx, accountA)
	require.ErrorIs(t, err, ErrTransferFailed)

	after := l.Members(ctx)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Address, after[i].Address)
		assert.Equal(t, before[i].Balance.String(), after[i].Balance.String())
		assert.Equal(t, i, after[i].Position)
	}
	assert.Equal(t, "60", l.Stats(ctx).Held.String())

	require.Len(t, journal.records, 5)
	withdraw := journal.records[3]
	revert := journal.records[4]
	assert.Equal(t, model.KindWithdraw, withdraw.Kind)
	assert.Equal(t, model.KindWithdrawReverted, revert.Kind)
	assert.Equal(t, withdraw.ID, revert.Ref)
	assert.Equal(t, uint64(5), l.Stats(ctx).Seq)
}

func TestReentrantWithdrawIsRejected(t *testing.T) {
	ctx := context.Background()
	var l *Ledger
	var nestedErr, lookupErr error
	var nestedStats Stats

	transfer := TransferFunc(func(ctx context.Context, to common.Address, amount *big.Int) error {
		_, nestedErr = l.Withdraw(ctx, to)
		_, lookupErr = l.Member(ctx, to)
		nestedStats = l.Stats(ctx)
		return nil
	})
	l = newTestLedger(t, transfer, nil)

	_, _ = l.Deposit(ctx, accountA, wei(10))
	_, _ = l.Deposit(ctx, accountB, wei(5))
	pay, err := l.Withdraw(ctx, accountA)
	require.NoError(t, err)

	assert.Equal(t, "10", pay.Amount.String())
	assert.ErrorIs(t, nestedErr, ErrReentrantCall)
	assert.ErrorIs(t, lookupErr, ErrNotFound)
	assert.Equal(t, 1, nestedStats.Members)
	assert.Equal(t, "5", nestedStats.Held.String())
}

func TestReentrantDepositAndRewardAreRejected(t *testing.T) {
	ctx := context.Background()
	var l *Ledger
	var depositErr, rewardErr error

	transfer := TransferFunc(func(ctx context.Context, to common.Address, amount *big.Int) error {
		_, depositErr = l.Deposit(ctx, to, amount)
		_, rewardErr = l.InjectReward(ctx, operator, amount)
		return nil
	})
	l = newTestLedger(t, transfer, nil)

	_, _ = l.Deposit(ctx, accountA, wei(10))
	_, _ = l.Deposit(ctx, accountB, wei(10))
	_, err := l.Withdraw(ctx, accountA)
	require.NoError(t, err)

	assert.ErrorIs(t, depositErr, ErrReentrantCall)
	assert.ErrorIs(t, rewardErr, ErrReentrantCall)
	assert.Equal(t, "10", l.Stats(ctx).Held.String())
}

func TestJournalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	journal := &memJournal{}
	w := newWallet()
	l := newTestLedger(t, w, journal)

	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, _ = l.Deposit(ctx, accountB, wei(300))
	before := l.Snapshot(ctx)

	journal.fail = errors.New("disk full")

	_, err := l.Deposit(ctx, accountC, wei(5))
	assert.Error(t, err)
	_, err = l.Deposit(ctx, accountA, wei(5))
	assert.Error(t, err)
	_, err = l.InjectReward(ctx, operator, wei(200))
	assert.Error(t, err)
	_, err = l.Withdraw(ctx, accountA)
	assert.Error(t, err)

	after := l.Snapshot(ctx)
	assert.Equal(t, before.Members, after.Members)
	assert.Equal(t, before.Held, after.Held)
	assert.Equal(t, before.Seq, after.Seq)
	assert.Equal(t, "0", w.total().String())
}

func TestSnapshotReplayRebuildsState(t *testing.T) {
	ctx := context.Background()
	journal := &memJournal{}
	w := newWallet()
	l := newTestLedger(t, w, journal)

	_, _ = l.Deposit(ctx, accountA, wei(100))
	_, _ = l.Deposit(ctx, accountB, wei(200))
	_, _ = l.Deposit(ctx, accountC, wei(300))
	_, err := l.InjectReward(ctx, operator, wei(101))
	require.NoError(t, err)
	mid := l.Snapshot(ctx)

	_, err = l.Withdraw(ctx, accountA)
	require.NoError(t, err)
	w.fail = fmt.Errorf("rejected")
	_, err = l.Withdraw(ctx, accountB)
	require.Error(t, err)
	w.fail = nil
	_, _ = l.Deposit(ctx, accountA, wei(50))
	_, err = l.InjectReward(ctx, operator, wei(77))
	require.NoError(t, err)
	want := l.Snapshot(ctx)

	fromScratch := newTestLedger(t, newWallet(), nil)
	applied, err := fromScratch.Replay(ctx, journal.records)
	require.NoError(t, err)
	assert.Equal(t, len(journal.records), applied)
	assertSameState(t, want, fromScratch.Snapshot(ctx))

	fromSnapshot := newTestLedger(t, newWallet(), nil)
	require.NoError(t, fromSnapshot.Restore(mid))
	_, err = fromSnapshot.Replay(ctx, journal.records)
	require.NoError(t, err)
	assertSameState(t, want, fromSnapshot.Snapshot(ctx))
}

func assertSameState(t *testing.T, want, got model.Snapshot) {
	t.Helper()
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.Members, got.Members)
	assert.Equal(t, want.Held, got.Held)
	assert.Equal(t, want.Dust, got.Dust)
	assert.Equal(t, want.Injections, got.Injections)
	assert.Equal(t, want.Funding, got.Funding)
}

func TestReplayDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)

	_, err := l.Replay(ctx, []model.Record{
		{Seq: 1, Kind: model.KindDeposit, Account: accountA.Hex(), Amount: "10"},
		{Seq: 3, Kind: model.KindDeposit, Account: accountB.Hex(), Amount: "10"},
	})
	assert.ErrorIs(t, err, ErrJournalDiverged)

	other := newTestLedger(t, newWallet(), nil)
	_, err = other.Replay(ctx, []model.Record{
		{Seq: 1, Kind: model.KindDeposit, Account: accountA.Hex(), Amount: "10"},
		{Seq: 2, Kind: model.KindWithdraw, Account: accountA.Hex(), Amount: "11", Position: 0},
	})
	assert.ErrorIs(t, err, ErrJournalDiverged)
}

func TestRestoreRejectsInconsistentSnapshot(t *testing.T) {
	l := newTestLedger(t, newWallet(), nil)
	err := l.Restore(model.Snapshot{
		Seq:     3,
		Members: []model.SnapshotMember{{Address: accountA.Hex(), Balance: "10"}},
		Held:    "11",
		Dust:    "0",
	})
	require.Error(t, err)
	assert.Equal(t, 0, l.Stats(context.Background()).Members)

	require.NoError(t, l.Restore(model.Snapshot{
		Seq:     3,
		Members: []model.SnapshotMember{{Address: accountA.Hex(), Balance: "10"}},
		Held:    "11",
		Dust:    "1",
	}))
	assert.Error(t, l.Restore(model.Snapshot{}))
}

func TestConcurrentCallersSerialize(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newWallet(), nil)
	_, _ = l.Deposit(ctx, operator, wei(1))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := common.BigToAddress(big.NewInt(int64(i + 10)))
			for j := 0; j < 50; j++ {
				_, _ = l.Deposit(ctx, account, wei(3))
				_, _ = l.InjectReward(ctx, operator, wei(7))
				if j%10 == 9 {
					_, _ = l.Withdraw(ctx, account)
				}
			}
		}(i)
	}
	wg.Wait()

	requireConserved(t, l)
	for slot, m := range l.Members(ctx) {
		assert.Equal(t, slot, m.Position)
	}
}
