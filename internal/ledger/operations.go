package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ethpool/internal/model"
)

// Deposit credits amount to account, registering it when it is not active.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, amount *big.Int) (Member, error) {
	return l.DepositTx(ctx, account, amount, common.Hash{})
}

// DepositTx is Deposit backed by the funding transaction tx. The caller has
// already checked tx on chain; the ledger refuses to credit it twice.
func (l *Ledger) DepositTx(ctx context.Context, account common.Address, amount *big.Int, tx common.Hash) (Member, error) {
	if !positive(amount) {
		return Member{}, fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}
	if l.reentrant(ctx) {
		return Member{}, fmt.Errorf("deposit: %w", ErrReentrantCall)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFundingLocked(tx); err != nil {
		return Member{}, fmt.Errorf("deposit: %w", err)
	}

	value := new(big.Int).Set(amount)
	created := l.registry.Upsert(account, value)
	member, _ := l.registry.Get(account)

	record := l.newRecord(model.KindDeposit, account, value, member.Position)
	setFunding(&record, tx)
	if err := l.appendRecord(ctx, record); err != nil {
		l.undoDeposit(account, member.Position, value, created)
		return Member{}, err
	}

	l.held.Add(l.held, value)
	l.seq = record.Seq
	l.markFundedLocked(tx)
	l.publishLocked()

	l.logger.Debug("deposit",
		zap.String("account", account.Hex()),
		zap.Stringer("amount", value),
		zap.Stringer("balance", member.Balance),
		zap.Int("position", member.Position),
		zap.Bool("new_member", created),
	)
	return member, nil
}

func (l *Ledger) undoDeposit(account common.Address, position int, amount *big.Int, created bool) {
	var err error
	if created {
		_, err = l.registry.RemoveAndCompact(account)
	} else {
		err = l.registry.Debit(position, amount)
	}
	if err != nil {
		l.logger.Error("undo deposit", zap.String("account", account.Hex()), zap.Error(err))
	}
}

// InjectReward splits amount across all active members in proportion to
// their balances before the injection. Each share is truncated; the residue
// is tracked as dust.
func (l *Ledger) InjectReward(ctx context.Context, caller common.Address, amount *big.Int) (Distribution, error) {
	return l.InjectRewardTx(ctx, caller, amount, common.Hash{})
}

// InjectRewardTx is InjectReward backed by the funding transaction tx.
func (l *Ledger) InjectRewardTx(ctx context.Context, caller common.Address, amount *big.Int, tx common.Hash) (Distribution, error) {
	if !l.cfg.Authorize(caller) {
		return Distribution{}, fmt.Errorf("inject reward from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	if !positive(amount) {
		return Distribution{}, fmt.Errorf("inject reward: %w", ErrInvalidAmount)
	}
	if l.reentrant(ctx) {
		return Distribution{}, fmt.Errorf("inject reward: %w", ErrReentrantCall)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFundingLocked(tx); err != nil {
		return Distribution{}, fmt.Errorf("inject reward: %w", err)
	}
	if l.registry.Count() == 0 {
		return Distribution{}, fmt.Errorf("inject reward: %w", ErrNoActiveMembers)
	}

	value := new(big.Int).Set(amount)
	increments, distributed, err := l.distribute(l.distributable(value))
	if err != nil {
		return Distribution{}, fmt.Errorf("inject reward: %w", err)
	}
	dust := nextDust(l.dust, value, distributed)

	record := l.newRecord(model.KindReward, caller, value, 0)
	record.Distributed = distributed.String()
	record.Dust = dust.String()
	setFunding(&record, tx)
	if err := l.appendRecord(ctx, record); err != nil {
		l.undoDistribution(increments)
		return Distribution{}, err
	}

	l.held.Add(l.held, value)
	l.dust = dust
	l.injections++
	l.seq = record.Seq
	l.markFundedLocked(tx)
	l.publishLocked()

	l.logger.Info("reward injected",
		zap.String("caller", caller.Hex()),
		zap.Stringer("amount", value),
		zap.Stringer("distributed", distributed),
		zap.Stringer("dust", dust),
		zap.Int("members", len(increments)),
	)

	return Distribution{
		Seq:         record.Seq,
		Amount:      value,
		Distributed: distributed,
		Dust:        new(big.Int).Set(dust),
		Members:     len(increments),
	}, nil
}

// Withdraw removes account from the pool and transfers its full balance.
// The registry is updated before the transfer runs, so a call made from
// inside the transfer cannot observe the old balance. Readers see the
// withdrawal as soon as it is journaled. A failed transfer restores the member
// to its previous slot.
func (l *Ledger) Withdraw(ctx context.Context, account common.Address) (Payout, error) {
	if l.reentrant(ctx) {
		return Payout{}, fmt.Errorf("withdraw: %w", ErrReentrantCall)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed, err := l.registry.RemoveAndCompact(account)
	if err != nil {
		return Payout{}, fmt.Errorf("withdraw: %w", err)
	}

	record := l.newRecord(model.KindWithdraw, account, removed.Balance, removed.Position)
	if err := l.appendRecord(ctx, record); err != nil {
		l.undoWithdraw(removed)
		return Payout{}, err
	}
	l.seq = record.Seq
	l.held.Sub(l.held, removed.Balance)
	l.publishLocked()

	transferCtx := context.WithValue(ctx, transferKey{ledger: l}, struct{}{})
	if err := l.cfg.Transfer.Transfer(transferCtx, account, new(big.Int).Set(removed.Balance)); err != nil {
		l.undoWithdraw(removed)
		l.held.Add(l.held, removed.Balance)

		l.logger.Warn("withdraw transfer failed",
			zap.String("account", account.Hex()),
			zap.Stringer("amount", removed.Balance),
			zap.Error(err),
		)

		revert := l.newRecord(model.KindWithdrawReverted, account, removed.Balance, removed.Position)
		revert.Ref = record.ID
		defer l.publishLocked()
		if jerr := l.appendRecord(ctx, revert); jerr != nil {
			l.logger.Error("journal withdraw revert", zap.String("ref", record.ID), zap.Error(jerr))
			return Payout{}, errors.Join(fmt.Errorf("%w: %w", ErrTransferFailed, err), jerr)
		}
		l.seq = revert.Seq
		return Payout{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	l.logger.Debug("withdraw",
		zap.String("account", account.Hex()),
		zap.Stringer("amount", removed.Balance),
		zap.Int("position", removed.Position),
	)

	return Payout{
		Seq:      record.Seq,
		Account:  account,
		Amount:   removed.Balance,
		Position: removed.Position,
	}, nil
}

func (l *Ledger) undoWithdraw(removed Member) {
	if err := l.registry.Restore(removed); err != nil {
		l.logger.Error("undo withdraw", zap.String("account", removed.Address.Hex()), zap.Error(err))
	}
}

func (l *Ledger) checkFundingLocked(tx common.Hash) error {
	if tx == (common.Hash{}) {
		if l.cfg.RequireFunding {
			return ErrFundingRequired
		}
		return nil
	}
	if _, ok := l.funded[tx]; ok {
		return fmt.Errorf("%w: %s", ErrFundingReused, tx.Hex())
	}
	return nil
}

func (l *Ledger) markFundedLocked(tx common.Hash) {
	if tx != (common.Hash{}) {
		l.funded[tx] = struct{}{}
	}
}

func setFunding(record *model.Record, tx common.Hash) {
	if tx != (common.Hash{}) {
		record.TxHash = tx.Hex()
	}
}
