package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteCheckpointStore is a CheckpointStore backed by SQLite.
//
// It expects an *sql.DB using a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteCheckpointStore struct {
	db *sql.DB
}

var _ CheckpointStore = (*SQLiteCheckpointStore)(nil)

// NewSQLiteCheckpointStore initializes the required schema in the
// given database and returns a new SQLiteCheckpointStore.
func NewSQLiteCheckpointStore(db *sql.DB) (*SQLiteCheckpointStore, error) {
	s := &SQLiteCheckpointStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCheckpointStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			resume_node TEXT NOT NULL,
			state BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
		CREATE TABLE IF NOT EXISTS checkpoint_leases (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	blob, err := EncodeState(cp.State)
	if err != nil {
		return err
	}

	// A single upsert statement: either the whole new snapshot lands
	// or the previous row survives untouched.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, status, resume_node, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resume_node = excluded.resume_node,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		cp.State.ID,
		string(cp.State.Status),
		cp.ResumeNode,
		blob,
		time.Now().UnixNano(),
	)
	return err
}

func (s *SQLiteCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resume_node, state, updated_at
		FROM checkpoints
		WHERE id = ?`,
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

func (s *SQLiteCheckpointStore) List(ctx context.Context, f Filter) ([]*Checkpoint, error) {
	query := `SELECT resume_node, state, updated_at FROM checkpoints`
	var args []any

	if f.Status != "" {
		query += ` WHERE status = ?`
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

func (s *SQLiteCheckpointStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_leases (id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE checkpoint_leases.owner = excluded.owner
		   OR checkpoint_leases.expires_at <= ?`,
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

func (s *SQLiteCheckpointStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoint_leases
		SET expires_at = ?
		WHERE id = ? AND owner = ?`,
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

func (s *SQLiteCheckpointStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoint_leases
		WHERE id = ? AND owner = ?`,
		id,
		owner,
	)
	return err
}
