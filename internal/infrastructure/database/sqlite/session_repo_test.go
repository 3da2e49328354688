package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/domain/workflow/workflowtest"
	"github.com/turtacn/discovery-engine/internal/testutil"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

func newTestRepo(t *testing.T) *SessionRepository {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), nil)
	require.NoError(t, err)
	repo := NewSessionRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSessionRepository_Contract(t *testing.T) {
	workflowtest.RunRepositoryContract(t, func(t *testing.T) workflow.Repository {
		return newTestRepo(t)
	})
}

func TestOpen_ReopenKeepsDataAndSkipsMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	logger := testutil.NewMockLogger()
	db, err := Open(ctx, path, logger)
	require.NoError(t, err)
	require.True(t, logger.HasField("session database ready", "migrations_applied", 1))
	repo := NewSessionRepository(db)
	require.NoError(t, repo.Set(ctx, workflowtest.FullSession("persisted", workflowtest.Epoch)))
	require.NoError(t, repo.Close())

	logger.Clear()
	db, err = Open(ctx, path, logger)
	require.NoError(t, err)
	assert.True(t, logger.HasField("session database ready", "migrations_applied", 0))
	repo = NewSessionRepository(db)
	defer repo.Close()

	got, err := repo.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "Diabetes Research", got.Name)
	assert.Equal(t, workflow.StageResultsAndDocking, got.Stage)
}

func TestSessionRepository_IndexedColumns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.Set(ctx, workflowtest.FullSession("s1", workflowtest.Epoch)))

	var row sessionRow
	require.NoError(t, repo.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, "s1"))
	assert.Equal(t, "Diabetes", row.Disease)
	assert.Equal(t, int(workflow.StageResultsAndDocking), row.Stage)
	assert.Equal(t, workflowtest.Epoch.UnixNano(), row.CreatedAt)
}

func TestSessionRepository_CorruptRow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, data) VALUES ('bad', 1, 1, '{oops')`)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "bad")
	assert.True(t, errors.IsCode(err, errors.CodeSerialization))
	_, err = repo.List(ctx)
	assert.True(t, errors.IsCode(err, errors.CodeSerialization))
}

func TestSessionRepository_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.Close())

	_, err := repo.Get(ctx, "x")
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseError))
	assert.True(t, errors.IsCode(repo.Set(ctx, workflowtest.FullSession("x", workflowtest.Epoch)), errors.CodeDatabaseError))
	assert.True(t, errors.IsCode(repo.Delete(ctx, "x"), errors.CodeDatabaseError))
}
