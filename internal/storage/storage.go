package storage

import (
	"context"

	"ethpool/internal/model"
)

// Journal is an append-only log of applied ledger records.
type Journal interface {
	Append(ctx context.Context, record model.Record) error
	Load(ctx context.Context, afterSeq uint64) ([]model.Record, error)
}

// SnapshotStore persists the latest ledger snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Save(ctx context.Context, snap model.Snapshot) error
}
