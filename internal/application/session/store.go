// Package session implements the session store: named, persistent snapshots
// of workflow runs that can be listed, restored, renamed and deleted.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Metrics receives one observation per store operation.
type Metrics interface {
	RecordSessionOp(op, status string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSessionOp(string, string) {}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the session store. All sessions handed in or out are deep copies;
// callers never share memory with what is persisted.
type Store struct {
	repo    workflow.Repository
	logger  logging.Logger
	metrics Metrics
	now     func() time.Time
}

// NewStore builds a Store over repo.
func NewStore(repo workflow.Repository, logger logging.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Store{
		repo:    repo,
		logger:  logger.Named("session"),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is the listing view of a session.
type Summary struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Disease    string         `json:"disease,omitempty"`
	Stage      workflow.Stage `json:"stage"`
	Proteins   int            `json:"proteins"`
	Candidates int            `json:"candidates"`
	Docked     bool           `json:"docked"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Summarize builds the listing view of s.
func Summarize(s *workflow.Session) Summary {
	sum := Summary{
		ID:         s.ID,
		Name:       s.DisplayName(),
		Stage:      s.Stage,
		Proteins:   len(s.SelectedProteinRefs()),
		Candidates: len(s.Candidates),
		Docked:     s.DockingResult != nil,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Disease != nil {
		sum.Disease = s.Disease.Name
	}
	return sum
}

// Upsert stores a copy of s, inserting it when its id is new and replacing
// the stored copy otherwise. A session without an id gets a fresh one; a
// session without a name is named after its disease. Writing to an id whose
// stored copy is closed fails with CodeSessionClosed; passing s.Closed closes
// it. The stored copy is returned.
func (st *Store) Upsert(ctx context.Context, s *workflow.Session) (*workflow.Session, error) {
	if s == nil {
		return nil, errors.InvalidParam("session is required")
	}
	c := s.Clone()
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = workflow.DefaultName(c.Disease)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if err := st.checkOpen(ctx, c.ID); err != nil {
		return nil, err
	}
	now := st.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return st.put(ctx, c, "upsert")
}

// checkOpen fails when id is stored and closed.
func (st *Store) checkOpen(ctx context.Context, id string) error {
	prev, err := st.repo.Get(ctx, id)
	switch {
	case errors.IsNotFound(err):
		return nil
	case err != nil:
		st.metrics.RecordSessionOp("upsert", "error")
		return err
	case prev.Closed:
		st.metrics.RecordSessionOp("upsert", "closed")
		return errors.SessionClosed(id)
	}
	return nil
}

func (st *Store) put(ctx context.Context, c *workflow.Session, op string) (*workflow.Session, error) {
	if err := c.Validate(); err != nil {
		st.metrics.RecordSessionOp(op, "invalid")
		return nil, err
	}
	if err := st.repo.Set(ctx, c); err != nil {
		st.metrics.RecordSessionOp(op, "error")
		st.logger.Error("session "+op+" failed", logging.SessionID(c.ID), logging.Err(err))
		return nil, err
	}
	st.metrics.RecordSessionOp(op, "ok")
	st.logger.Debug("session saved", logging.SessionID(c.ID), logging.String("name", c.Name), logging.Bool("closed", c.Closed))
	return c.Clone(), nil
}

// Restore returns a deep copy of the stored session.
func (st *Store) Restore(ctx context.Context, id string) (*workflow.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidParam("session id is required")
	}
	s, err := st.repo.Get(ctx, id)
	if err != nil {
		st.metrics.RecordSessionOp("restore", statusOf(err))
		return nil, err
	}
	st.metrics.RecordSessionOp("restore", "ok")
	return s.Clone(), nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (st *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.InvalidParam("session id is required")
	}
	if err := st.repo.Delete(ctx, id); err != nil {
		st.metrics.RecordSessionOp("delete", "error")
		return err
	}
	st.metrics.RecordSessionOp("delete", "ok")
	st.logger.Info("session deleted", logging.SessionID(id))
	return nil
}

// List returns every session, newest first.
func (st *Store) List(ctx context.Context) ([]*workflow.Session, error) {
	list, err := st.repo.List(ctx)
	if err != nil {
		st.metrics.RecordSessionOp("list", "error")
		return nil, err
	}
	st.metrics.RecordSessionOp("list", "ok")
	out := make([]*workflow.Session, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out, nil
}

// Summaries is List projected to Summary.
func (st *Store) Summaries(ctx context.Context) ([]Summary, error) {
	list, err := st.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(list))
	for i, s := range list {
		out[i] = Summarize(s)
	}
	return out, nil
}

// Rename changes the name of a stored session. Closed sessions can be
// renamed; nothing else about them changes.
func (st *Store) Rename(ctx context.Context, id, name string) (*workflow.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidParam("session name is required")
	}
	s, err := st.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Name = name
	s.UpdatedAt = st.now().UTC()
	return st.put(ctx, s, "rename")
}

func statusOf(err error) string {
	if errors.IsNotFound(err) {
		return "not_found"
	}
	return "error"
}
