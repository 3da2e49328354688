package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/jmoiron/sqlx"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var _ workflow.Repository = (*SessionRepository)(nil)

// SessionRepository implements workflow.Repository on PostgreSQL. The
// session document lives in a JSONB column; name, disease and stage are
// copied out for querying from outside the engine.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{db: conn.DB()}
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*workflow.Session, error) {
	var data []byte
	err := r.db.GetContext(ctx, &data, `SELECT data FROM sessions WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.SessionNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "get session")
	}
	return decode(data)
}

// Set upserts s. The seq of an existing row is left untouched.
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
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    name       = EXCLUDED.name,
    disease    = EXCLUDED.disease,
    stage      = EXCLUDED.stage,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    data       = EXCLUDED.data`
	if _, err := r.db.ExecContext(ctx, query,
		s.ID, s.Name, disease, int(s.Stage), s.CreatedAt, s.UpdatedAt, string(data)); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "save session")
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "delete session")
	}
	return nil
}

func (r *SessionRepository) List(ctx context.Context) ([]*workflow.Session, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, data FROM sessions ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "list sessions")
	}
	defer rows.Close()

	var out []*workflow.Session
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "scan session")
		}
		s, err := decode(data)
		if err != nil {
			return nil, errors.New(errors.CodeSerialization, "decode stored session").
				WithDetail("id=" + id).WithCause(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "list sessions")
	}
	return out, nil
}

func decode(data []byte) (*workflow.Session, error) {
	var s workflow.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode session")
	}
	return &s, nil
}
