package storage

import (
	"context"
	"fmt"

	"ethpool/internal/model"
	"ethpool/internal/storage/postgres"
)

// DBJournal stores records in the pool_journal table.
type DBJournal struct {
	Store *postgres.Store
}

func (j *DBJournal) Append(ctx context.Context, record model.Record) error {
	if j == nil || j.Store == nil {
		return fmt.Errorf("journal store is nil")
	}
	return j.Store.AppendRecord(ctx, record)
}

func (j *DBJournal) Load(ctx context.Context, afterSeq uint64) ([]model.Record, error) {
	if j == nil || j.Store == nil {
		return nil, nil
	}
	return j.Store.LoadRecords(ctx, afterSeq)
}

// DBSnapshotStore stores the snapshot named Name in the pool_snapshots table.
type DBSnapshotStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBSnapshotStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	if s == nil || s.Store == nil {
		return model.Snapshot{}, false, nil
	}
	return s.Store.LoadSnapshot(ctx, s.Name)
}

func (s *DBSnapshotStore) Save(ctx context.Context, snap model.Snapshot) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveSnapshot(ctx, s.Name, snap)
}
