package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ethpool/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_journal (
	seq         BIGINT PRIMARY KEY,
	op_id       UUID NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	account     TEXT NOT NULL,
	amount      NUMERIC(78, 0) NOT NULL,
	position    INTEGER NOT NULL,
	distributed NUMERIC(78, 0),
	dust        NUMERIC(78, 0),
	ref         UUID,
	applied_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE pool_journal ADD COLUMN IF NOT EXISTS tx_hash TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS pool_journal_tx_hash_idx ON pool_journal (tx_hash) WHERE tx_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS pool_snapshots (
	name       TEXT PRIMARY KEY,
	seq        BIGINT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for the ledger journal and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the journal and snapshot tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// AppendRecord inserts one journal record. A duplicate seq is an error.
func (s *Store) AppendRecord(ctx context.Context, record model.Record) error {
	appliedAt, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return fmt.Errorf("parse record timestamp: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_journal (
			seq, op_id, kind, account, amount, position, distributed, dust, ref, tx_hash, applied_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8::numeric, $9::uuid, $10, $11)
	`,
		int64(record.Seq),
		record.ID,
		record.Kind,
		record.Account,
		record.Amount,
		record.Position,
		nullable(record.Distributed),
		nullable(record.Dust),
		nullable(record.Ref),
		nullable(record.TxHash),
		appliedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record %d: %w", record.Seq, err)
	}
	return nil
}

// LoadRecords returns journal records with seq greater than afterSeq, ordered by seq.
func (s *Store) LoadRecords(ctx context.Context, afterSeq uint64) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, op_id::text, kind, account, amount::text, position,
			COALESCE(distributed::text, ''), COALESCE(dust::text, ''), COALESCE(ref::text, ''),
			COALESCE(tx_hash, ''), applied_at
		FROM pool_journal
		WHERE seq > $1
		ORDER BY seq
	`, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			record    model.Record
			seq       int64
			appliedAt time.Time
		)
		if err := rows.Scan(
			&seq,
			&record.ID,
			&record.Kind,
			&record.Account,
			&record.Amount,
			&record.Position,
			&record.Distributed,
			&record.Dust,
			&record.Ref,
			&record.TxHash,
			&appliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		record.Seq = uint64(seq)
		record.Timestamp = appliedAt.UTC().Format(time.RFC3339Nano)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return records, nil
}

// LoadSnapshot returns the snapshot stored under name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (model.Snapshot, bool, error) {
	if name == "" {
		return model.Snapshot{}, false, fmt.Errorf("snapshot name required")
	}
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT data FROM pool_snapshots WHERE name=$1`, name)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

// SaveSnapshot upserts the snapshot stored under name. An older snapshot
// never replaces a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, name string, snap model.Snapshot) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_snapshots (name, seq, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET seq = EXCLUDED.seq, data = EXCLUDED.data, updated_at = now()
		WHERE pool_snapshots.seq <= EXCLUDED.seq
	`, name, int64(snap.Seq), data)
	return err
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
