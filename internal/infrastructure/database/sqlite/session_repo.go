package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var _ workflow.Repository = (*SessionRepository)(nil)

// sessionRow mirrors the sessions table. Only data is decoded; the other
// columns exist for ordering and ad-hoc inspection.
type sessionRow struct {
	Seq       int64  `db:"seq"`
	ID        string `db:"id"`
	Name      string `db:"name"`
	Disease   string `db:"disease"`
	Stage     int    `db:"stage"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Data      string `db:"data"`
}

// SessionRepository implements workflow.Repository on SQLite.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Close closes the underlying connection pool.
func (r *SessionRepository) Close() error {
	return r.db.Close()
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*workflow.Session, error) {
	var data string
	err := r.db.GetContext(ctx, &data, `SELECT data FROM sessions WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.SessionNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "get session")
	}
	return decode(data)
}

// Set inserts s or replaces the stored row with the same id. A replaced row
// keeps its seq, so it does not move among sessions created at the same time.
func (r *SessionRepository) Set(ctx context.Context, s *workflow.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode session")
	}
	disease := ""
	if s.Disease != nil {
		disease = s.Disease.Name
	}

	const query = `
INSERT INTO sessions (id, name, disease, stage, created_at, updated_at, data)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name       = excluded.name,
    disease    = excluded.disease,
    stage      = excluded.stage,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at,
    data       = excluded.data`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.Name, disease, int(s.Stage), unixNano(s.CreatedAt), unixNano(s.UpdatedAt), string(data))
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "save session")
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "delete session")
	}
	return nil
}

// List returns every session, newest first.
func (r *SessionRepository) List(ctx context.Context) ([]*workflow.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT seq, id, name, disease, stage, created_at, updated_at, data
		   FROM sessions ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "list sessions")
	}
	out := make([]*workflow.Session, 0, len(rows))
	for _, row := range rows {
		s, err := decode(row.Data)
		if err != nil {
			return nil, errors.New(errors.CodeSerialization, "decode stored session").
				WithDetail("id=" + row.ID).WithCause(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func decode(data string) (*workflow.Session, error) {
	var s workflow.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode session")
	}
	return &s, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
