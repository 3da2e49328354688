// Package workflowtest holds shared fixtures and the behavioural contract
// every workflow.Repository backend must satisfy.
package workflowtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Epoch is the base time used by fixtures.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// FullSession returns a session populated at every level, docked and named.
func FullSession(id string, createdAt time.Time) *workflow.Session {
	s := workflow.NewSession(id, createdAt)
	s.Name = "Diabetes Research"
	s.Stage = workflow.StageResultsAndDocking
	s.Disease = &target.Disease{ID: "D1", Name: "Diabetes", Aliases: []string{"T2D"}}
	s.Proteins = []target.Protein{
		{ID: "P1", Name: "Insulin receptor", UniprotID: "P06213", DiseaseID: "D1"},
		{ID: "P2", Name: "GLP-1R", PDBID: "5VAI", DiseaseID: "D1"},
	}
	s.SelectedProteins = map[string]bool{"P1": true}
	s.Candidates = []candidate.Molecule{
		{IdentityKey: "C1", ChemblID: "C1", SMILES: "CCO", Source: candidate.SourceBioassay,
			Activity: &candidate.Activity{Value: 12.5, Type: "IC50"}},
		{IdentityKey: "C2", ChemblID: "C2", SMILES: "CCN", Source: candidate.SourceGenerated,
			Properties: map[string]interface{}{"qed": 0.71}},
	}
	s.SelectedCandidateIDs = map[string]bool{"C1": true}
	s.DockingProteinID = "P1"
	s.DockingResult = &docking.Result{
		Poses:        []docking.Pose{{Index: 0, Payload: json.RawMessage(`"MODEL 1"`)}},
		Confidences:  []float64{0.82},
		Status:       docking.StatusSuccess,
		StructureID:  "1IR3",
		ProteinID:    "P1",
		CandidateKey: "C1",
		CompletedAt:  createdAt.Add(time.Minute),
	}
	s.DockingVisualization = &docking.Visualization{Format: "html", Payload: "<div></div>"}
	return s
}

// RunRepositoryContract exercises repo against the Repository contract.
// newRepo must return an empty repository on every call.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) workflow.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeSessionNotFound))
	})

	t.Run("RoundTripIsExact", func(t *testing.T) {
		repo := newRepo(t)
		s := FullSession("s-1", Epoch)
		require.NoError(t, repo.Set(ctx, s))

		got, err := repo.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})

	t.Run("SetReplacesInPlace", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, FullSession("a", Epoch)))
		require.NoError(t, repo.Set(ctx, FullSession("b", Epoch)))

		renamed := FullSession("a", Epoch)
		renamed.Name = "Renamed"
		require.NoError(t, repo.Set(ctx, renamed))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b", list[0].ID)
		assert.Equal(t, "a", list[1].ID)
		assert.Equal(t, "Renamed", list[1].Name)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, FullSession("old", Epoch)))
		require.NoError(t, repo.Set(ctx, FullSession("new", Epoch.Add(time.Hour))))
		require.NoError(t, repo.Set(ctx, FullSession("mid", Epoch.Add(time.Minute))))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.ID
		}
		assert.Equal(t, []string{"new", "mid", "old"}, ids)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, FullSession("gone", Epoch)))
		require.NoError(t, repo.Delete(ctx, "gone"))
		require.NoError(t, repo.Delete(ctx, "gone"))

		_, err := repo.Get(ctx, "gone")
		assert.True(t, errors.IsNotFound(err))
		list, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("RejectsInvalidSession", func(t *testing.T) {
		repo := newRepo(t)
		bad := FullSession("", Epoch)
		assert.Error(t, repo.Set(ctx, bad))
	})

	t.Run("ReturnedCopiesAreIndependent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, FullSession("s", Epoch)))

		got, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		got.Candidates[0].SMILES = "mutated"
		got.SelectedProteins["P2"] = true

		again, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "CCO", again.Candidates[0].SMILES)
		assert.False(t, again.SelectedProteins["P2"])
	})
}
