package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresCheckpointStore is a CheckpointStore backed by PostgreSQL.
//
// It expects an *sql.DB using a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
type PostgresCheckpointStore struct {
	db *sql.DB
}

var _ CheckpointStore = (*PostgresCheckpointStore)(nil)

// NewPostgresCheckpointStore initializes the required schema in the
// given database and returns a new PostgresCheckpointStore.
func NewPostgresCheckpointStore(db *sql.DB) (*PostgresCheckpointStore, error) {
	s := &PostgresCheckpointStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresCheckpointStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			resume_node TEXT NOT NULL,
			state BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
		CREATE TABLE IF NOT EXISTS checkpoint_leases (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	blob, err := EncodeState(cp.State)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, status, resume_node, state, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			resume_node = EXCLUDED.resume_node,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		cp.State.ID,
		string(cp.State.Status),
		cp.ResumeNode,
		blob,
		time.Now().UnixNano(),
	)
	return err
}

func (s *PostgresCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resume_node, state, updated_at
		FROM checkpoints
		WHERE id = $1`,
		id,
	)

	var cp Checkpoint
	var blob []byte
	var updatedAt int64

	if err := row.Scan(&cp.ResumeNode, &blob, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	st, err := DecodeState(blob)
	if err != nil {
		return nil, err
	}
	cp.State = st
	cp.UpdatedAt = time.Unix(0, updatedAt)

	return &cp, nil
}

func (s *PostgresCheckpointStore) List(ctx context.Context, f Filter) ([]*Checkpoint, error) {
	query := `SELECT resume_node, state, updated_at FROM checkpoints`
	var args []any

	if f.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint

	for rows.Next() {
		var cp Checkpoint
		var blob []byte
		var updatedAt int64

		if err := rows.Scan(&cp.ResumeNode, &blob, &updatedAt); err != nil {
			return nil, err
		}

		st, err := DecodeState(blob)
		if err != nil {
			return nil, err
		}
		cp.State = st
		cp.UpdatedAt = time.Unix(0, updatedAt)

		out = append(out, &cp)
	}

	return out, rows.Err()
}

func (s *PostgresCheckpointStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_leases (id, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE checkpoint_leases.owner = EXCLUDED.owner
		   OR checkpoint_leases.expires_at <= $4`,
		id,
		owner,
		now.Add(ttl).UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresCheckpointStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoint_leases
		SET expires_at = $1
		WHERE id = $2 AND owner = $3`,
		time.Now().Add(ttl).UnixNano(),
		id,
		owner,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (s *PostgresCheckpointStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoint_leases
		WHERE id = $1 AND owner = $2`,
		id,
		owner,
	)
	return err
}
