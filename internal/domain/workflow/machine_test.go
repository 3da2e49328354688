package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

func newMachine() *StateMachine {
	return NewStateMachine(NewSession("s-1", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)))
}

func withDisease(s *Session) error {
	s.Disease = &target.Disease{ID: "D1", Name: "Diabetes"}
	s.Proteins = []target.Protein{{ID: "P1"}, {ID: "P2"}}
	return nil
}

func TestStateMachine_DiseaseGuard(t *testing.T) {
	m := newMachine()

	_, err := m.Next()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeGuardViolation))
	assert.Equal(t, StageDiseaseSelection, m.Stage())

	require.NoError(t, m.Update(withDisease))
	tr, err := m.Next()
	require.NoError(t, err)
	assert.Equal(t, Transition{From: StageDiseaseSelection, To: StageProteinSelection}, tr)
}

func TestStateMachine_ProteinGuard(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(withDisease))
	_, err := m.Next()
	require.NoError(t, err)

	// Stage 1 with zero proteins selected rejects Next.
	_, err = m.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrGuardViolation)
	assert.Equal(t, StageProteinSelection, m.Stage())

	require.NoError(t, m.Update(func(s *Session) error {
		s.SelectedProteins["P1"] = true
		return nil
	}))
	tr, err := m.Next()
	require.NoError(t, err)
	assert.True(t, tr.Entered(StageMoleculeGeneration))
	assert.Equal(t, StageMoleculeGeneration, m.Stage())
}

func TestStateMachine_SelectionOfUnknownProteinDoesNotCount(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(withDisease))
	_, _ = m.Next()
	require.NoError(t, m.Update(func(s *Session) error {
		s.SelectedProteins["P404"] = true
		return nil
	}))
	_, err := m.Next()
	assert.Error(t, err)
}

func TestStateMachine_CandidateGuardAndLastStage(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(func(s *Session) error {
		_ = withDisease(s)
		s.SelectedProteins["P2"] = true
		return nil
	}))
	_, _ = m.Next()
	_, _ = m.Next()
	require.Equal(t, StageMoleculeGeneration, m.Stage())

	assert.Error(t, m.CanAdvance())
	_, err := m.Next()
	assert.Error(t, err)

	require.NoError(t, m.Update(func(s *Session) error {
		s.Candidates = []candidate.Molecule{{IdentityKey: "C1", ChemblID: "C1", SMILES: "CCO"}}
		return nil
	}))
	_, err = m.Next()
	require.NoError(t, err)
	assert.Equal(t, StageResultsAndDocking, m.Stage())

	_, err = m.Next()
	assert.True(t, errors.IsCode(err, errors.CodeGuardViolation))
}

func TestStateMachine_BackKeepsData(t *testing.T) {
	m := newMachine()
	_, err := m.Back()
	assert.Error(t, err)

	require.NoError(t, m.Update(withDisease))
	_, _ = m.Next()
	tr, err := m.Back()
	require.NoError(t, err)
	assert.Equal(t, StageDiseaseSelection, tr.To)

	snap := m.Snapshot()
	require.NotNil(t, snap.Disease)
	assert.Equal(t, "Diabetes", snap.Disease.Name)
	assert.Len(t, snap.Proteins, 2)
}

func TestStateMachine_ResetClearsEverything(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(func(s *Session) error {
		_ = withDisease(s)
		s.SelectedProteins["P1"] = true
		s.Candidates = []candidate.Molecule{{IdentityKey: "C1"}}
		s.SelectedCandidateIDs["C1"] = true
		s.DockingResult = &docking.Result{Status: docking.StatusSuccess}
		s.DockingVisualization = &docking.Visualization{Format: "html"}
		return nil
	}))
	_, _ = m.Next()
	_, _ = m.Next()

	tr := m.Reset()
	assert.True(t, tr.Reset)
	assert.Equal(t, StageMoleculeGeneration, tr.From)

	snap := m.Snapshot()
	assert.Equal(t, StageDiseaseSelection, snap.Stage)
	assert.Nil(t, snap.Disease)
	assert.Empty(t, snap.Proteins)
	assert.Empty(t, snap.SelectedProteins)
	assert.Empty(t, snap.Candidates)
	assert.Empty(t, snap.SelectedCandidateIDs)
	assert.Nil(t, snap.DockingResult)
	assert.Nil(t, snap.DockingVisualization)
}

func TestStateMachine_ResetToTakesNewIdentity(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(func(s *Session) error {
		_ = withDisease(s)
		s.Name = "first"
		s.Closed = true
		s.RestoredFrom = "s-0"
		return nil
	}))
	var seenID string
	m.OnTransition(func(_ Transition, snap *Session) { seenID = snap.ID })

	created := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	tr := m.ResetTo("s-2", created)
	assert.True(t, tr.Reset)
	assert.Equal(t, "s-2", seenID)

	snap := m.Snapshot()
	assert.Equal(t, "s-2", snap.ID)
	assert.Equal(t, created, snap.CreatedAt)
	assert.Empty(t, snap.Name)
	assert.False(t, snap.Closed)
	assert.Empty(t, snap.RestoredFrom)
	assert.Nil(t, snap.Disease)
}

func TestStateMachine_UpdateCannotMoveStage(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(func(s *Session) error {
		s.Stage = StageResultsAndDocking
		return nil
	}))
	assert.Equal(t, StageDiseaseSelection, m.Stage())
}

func TestStateMachine_ListenersSeeTransitions(t *testing.T) {
	m := newMachine()
	var seen []Transition
	m.OnTransition(func(tr Transition, snap *Session) {
		seen = append(seen, tr)
		assert.Equal(t, tr.To, snap.Stage)
	})

	require.NoError(t, m.Update(withDisease))
	_, _ = m.Next()
	_, _ = m.Back()
	m.Reset()

	require.Len(t, seen, 3)
	assert.Equal(t, StageProteinSelection, seen[0].To)
	assert.Equal(t, StageDiseaseSelection, seen[1].To)
	assert.True(t, seen[2].Reset)
}

func TestStateMachine_ConcurrentNextAdvancesOnce(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Update(withDisease))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Next(); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only 0->1 can pass: 1->2 needs a selected protein.
	assert.Equal(t, 1, ok)
	assert.Equal(t, StageProteinSelection, m.Stage())
}
