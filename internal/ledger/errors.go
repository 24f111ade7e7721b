package ledger

import (
	"errors"

	"ethpool/internal/registry"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrUnauthorized    = errors.New("caller is not the operator")
	ErrNotFound        = registry.ErrNotFound
	ErrNoActiveMembers = errors.New("no active members")
	ErrIndexOutOfRange = registry.ErrIndexOutOfRange
	ErrReentrantCall   = errors.New("reentrant ledger call")
	ErrTransferFailed  = errors.New("value transfer failed")
	ErrJournalDiverged = errors.New("journal diverged from ledger state")
	ErrFundingRequired = errors.New("funding transaction required")
	ErrFundingReused   = errors.New("funding transaction already credited")
)
