package session

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/domain/workflow/workflowtest"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/memory"
	"github.com/turtacn/discovery-engine/internal/testutil"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

type opMetrics struct {
	mu  sync.Mutex
	ops map[string]int
}

func (m *opMetrics) RecordSessionOp(op, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = map[string]int{}
	}
	m.ops[op+"/"+status]++
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := workflowtest.Epoch
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})}, opts...)
	return NewStore(memory.NewSessionRepository(), testutil.NewMockLogger(), opts...)
}

func TestStore_UpsertNamesAfterDisease(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	s := workflow.NewSession("s-1", time.Time{})
	s.Disease = &target.Disease{ID: "D1", Name: "Diabetes"}
	saved, err := st.Upsert(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "Diabetes Research", saved.Name)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, "", s.Name, "caller copy is not modified")

	anon, err := st.Upsert(ctx, workflow.NewSession("s-2", time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, workflow.UntitledName, anon.Name)
}

func TestStore_UpsertAssignsID(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	saved, err := st.Upsert(context.Background(), workflow.NewSession("", time.Time{}))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	_, err = st.Restore(context.Background(), saved.ID)
	assert.NoError(t, err)
}

func TestStore_UpsertKeepsUserName(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	s := workflowtest.FullSession("s-1", workflowtest.Epoch)
	s.Name = "  Metformin follow-up  "
	saved, err := st.Upsert(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Metformin follow-up", saved.Name)
}

func TestStore_UpsertReplacesInPlace(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Upsert(ctx, workflowtest.FullSession("a", time.Time{}))
	require.NoError(t, err)
	_, err = st.Upsert(ctx, workflowtest.FullSession("b", time.Time{}))
	require.NoError(t, err)

	first.Stage = workflow.StageMoleculeGeneration
	updated, err := st.Upsert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, workflow.StageMoleculeGeneration, list[1].Stage)
}

func TestStore_UpsertRejectsInvalid(t *testing.T) {
	t.Parallel()
	m := &opMetrics{}
	st := newTestStore(t, WithMetrics(m))

	_, err := st.Upsert(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	bad := workflow.NewSession("x", time.Time{})
	bad.Stage = workflow.Stage(9)
	_, err = st.Upsert(context.Background(), bad)
	assert.True(t, errors.IsCode(err, errors.CodeSessionInvalid))
	assert.Equal(t, 1, m.ops["upsert/invalid"])
}

func TestStore_RestoreIsDeepCopy(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	in := workflowtest.FullSession("s", workflowtest.Epoch)
	in.RestoredFrom = "s-0"
	_, err := st.Upsert(ctx, in)
	require.NoError(t, err)

	restored, err := st.Restore(ctx, "s")
	require.NoError(t, err)
	// UpdatedAt is stamped by the store; every other field round-trips.
	want := in.Clone()
	want.UpdatedAt = restored.UpdatedAt
	assert.Equal(t, want, restored)
	assert.NotSame(t, in, restored)
	assert.True(t, restored.UpdatedAt.After(in.CreatedAt))

	restored.Candidates = nil
	restored.Disease.Name = "changed"
	restored.SelectedProteins["P2"] = true
	again, err := st.Restore(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, again.Candidates, 2)
	assert.Equal(t, "Diabetes", again.Disease.Name)
	assert.False(t, again.SelectedProteins["P2"])
}

func TestStore_ClosedSessionIsReadOnly(t *testing.T) {
	t.Parallel()
	m := &opMetrics{}
	st := newTestStore(t, WithMetrics(m))
	ctx := context.Background()

	s := workflowtest.FullSession("s", workflowtest.Epoch)
	s.Closed = true
	_, err := st.Upsert(ctx, s)
	require.NoError(t, err)

	s.Closed = false
	s.Stage = workflow.StageProteinSelection
	_, err = st.Upsert(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
	assert.Equal(t, 1, m.ops["upsert/closed"])

	kept, err := st.Restore(ctx, "s")
	require.NoError(t, err)
	assert.True(t, kept.Closed)
	assert.Equal(t, workflow.StageResultsAndDocking, kept.Stage)

	renamed, err := st.Rename(ctx, "s", "Archived")
	require.NoError(t, err)
	assert.True(t, renamed.Closed)
	assert.Equal(t, "Archived", renamed.Name)

	require.NoError(t, st.Delete(ctx, "s"))
	_, err = st.Upsert(ctx, s)
	assert.NoError(t, err, "a deleted id is free again")
}

func TestStore_RestoreMissing(t *testing.T) {
	t.Parallel()
	m := &opMetrics{}
	st := newTestStore(t, WithMetrics(m))

	_, err := st.Restore(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, m.ops["restore/not_found"])

	_, err = st.Restore(context.Background(), " ")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, workflowtest.FullSession("s", workflowtest.Epoch))
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, "s"))
	require.NoError(t, st.Delete(ctx, "s"))

	list, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Rename(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, workflowtest.FullSession("s", workflowtest.Epoch))
	require.NoError(t, err)

	renamed, err := st.Rename(ctx, "s", "Insulin pathway")
	require.NoError(t, err)
	assert.Equal(t, "Insulin pathway", renamed.Name)

	restored, err := st.Restore(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Insulin pathway", restored.Name)

	_, err = st.Rename(ctx, "s", "")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = st.Rename(ctx, "missing", "x")
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_Summaries(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, workflowtest.FullSession("s", workflowtest.Epoch))
	require.NoError(t, err)

	sums, err := st.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, Summary{
		ID:         "s",
		Name:       "Diabetes Research",
		Disease:    "Diabetes",
		Stage:      workflow.StageResultsAndDocking,
		Proteins:   1,
		Candidates: 2,
		Docked:     true,
		CreatedAt:  workflowtest.Epoch,
		UpdatedAt:  sums[0].UpdatedAt,
	}, sums[0])
}

type failingRepo struct {
	workflow.Repository
}

func (failingRepo) Set(context.Context, *workflow.Session) error {
	return errors.New(errors.CodeDatabaseError, "disk full")
}

func TestStore_FailedUpsertLeavesStoreIntact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := memory.NewSessionRepository()
	require.NoError(t, inner.Set(ctx, workflowtest.FullSession("s", workflowtest.Epoch)))

	logger := testutil.NewMockLogger()
	st := NewStore(failingRepo{inner}, logger)

	changed := workflowtest.FullSession("s", workflowtest.Epoch)
	changed.Name = "new"
	_, err := st.Upsert(ctx, changed)
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, errors.ErrSessionNotFound))
	assert.True(t, logger.HasMessage("error", "session upsert failed"))

	kept, err := st.Restore(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Diabetes Research", kept.Name)
}
