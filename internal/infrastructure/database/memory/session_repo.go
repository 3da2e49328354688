// Package memory is an in-process workflow.Repository. It does not survive a
// restart and is meant for tests and throwaway runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

type row struct {
	session *workflow.Session
	seq     uint64
}

// SessionRepository stores deep copies of sessions in a map.
type SessionRepository struct {
	mu   sync.RWMutex
	rows map[string]row
	seq  uint64
}

// NewSessionRepository returns an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{rows: make(map[string]row)}
}

func (r *SessionRepository) Get(_ context.Context, id string) (*workflow.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.rows[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return rw.session.Clone(), nil
}

// Set keeps the insertion sequence of an existing row so replacing a session
// does not move it in List.
func (r *SessionRepository) Set(_ context.Context, s *workflow.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.rows[s.ID]
	if !ok {
		r.seq++
		rw.seq = r.seq
	}
	rw.session = s.Clone()
	r.rows[s.ID] = rw
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *SessionRepository) List(_ context.Context) ([]*workflow.Session, error) {
	r.mu.RLock()
	rows := make([]row, 0, len(r.rows))
	for _, rw := range r.rows {
		rows = append(rows, rw)
	}
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.session.CreatedAt.Equal(b.session.CreatedAt) {
			return a.session.CreatedAt.After(b.session.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]*workflow.Session, len(rows))
	for i, rw := range rows {
		out[i] = rw.session.Clone()
	}
	return out, nil
}

var _ workflow.Repository = (*SessionRepository)(nil)
