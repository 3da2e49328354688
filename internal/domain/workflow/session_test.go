package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

func fullSession() *Session {
	s := NewSession("s-42", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	s.Stage = StageResultsAndDocking
	s.Disease = &target.Disease{ID: "D1", Name: "Diabetes", Aliases: []string{"T2D"}}
	s.Proteins = []target.Protein{{ID: "P1", UniprotID: "P01308"}, {ID: "P2", PDBID: "4INS"}}
	s.SelectedProteins = map[string]bool{"P2": true}
	s.Candidates = []candidate.Molecule{
		{IdentityKey: "C1", ChemblID: "C1", SMILES: "CCO", Source: candidate.SourceBioassay,
			Properties: map[string]interface{}{"mw": 46.07}},
		{IdentityKey: "C2", ChemblID: "C2", SMILES: "CCN", Source: candidate.SourceBioassay},
	}
	s.SelectedCandidateIDs = map[string]bool{"C2": true}
	s.DockingProteinID = "P2"
	s.RestoredFrom = "s-41"
	s.DockingResult = &docking.Result{
		Poses:       []docking.Pose{{Index: 0, Payload: json.RawMessage(`"pose"`)}},
		Confidences: []float64{0.8},
		Status:      docking.StatusSuccess,
	}
	return s
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "Diabetes Research", DefaultName(&target.Disease{Name: " Diabetes "}))
	assert.Equal(t, UntitledName, DefaultName(nil))
	assert.Equal(t, UntitledName, DefaultName(&target.Disease{}))
}

func TestSession_DisplayName(t *testing.T) {
	s := fullSession()
	assert.Equal(t, "Diabetes Research", s.DisplayName())
	s.Name = "My run"
	assert.Equal(t, "My run", s.DisplayName())
}

func TestSession_Selections(t *testing.T) {
	s := fullSession()
	refs := s.SelectedProteinRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, "P2", refs[0].ID)

	cands := s.SelectedCandidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "C2", cands[0].IdentityKey)

	p, ok := s.FindProtein("P1")
	assert.True(t, ok)
	assert.Equal(t, "P01308", p.UniprotID)
	_, ok = s.FindProtein("nope")
	assert.False(t, ok)
}

func TestSession_DockingProtein(t *testing.T) {
	s := fullSession()
	p, ok := s.DockingProtein()
	require.True(t, ok)
	assert.Equal(t, "P2", p.ID)

	// several selected proteins need an explicit pick
	s.SelectedProteins = map[string]bool{"P1": true, "P2": true}
	s.DockingProteinID = ""
	_, ok = s.DockingProtein()
	assert.False(t, ok)

	s.DockingProteinID = "P1"
	p, ok = s.DockingProtein()
	require.True(t, ok)
	assert.Equal(t, "P01308", p.UniprotID)

	// a pick that is no longer selected does not count
	delete(s.SelectedProteins, "P1")
	_, ok = s.DockingProtein()
	assert.False(t, ok)

	s.ClearWorkingData()
	assert.Empty(t, s.DockingProteinID)
}

func TestSession_CloneIsDeepAndEqual(t *testing.T) {
	s := fullSession()
	c := s.Clone()
	require.Equal(t, s, c)
	require.NotSame(t, s, c)

	c.Disease.Name = "changed"
	c.Proteins[0].ID = "changed"
	c.SelectedProteins["P1"] = true
	c.Candidates[0].Properties["mw"] = 0.0
	c.SelectedCandidateIDs["C1"] = true
	c.DockingResult.Confidences[0] = 0

	assert.Equal(t, "Diabetes", s.Disease.Name)
	assert.Equal(t, "P1", s.Proteins[0].ID)
	assert.False(t, s.SelectedProteins["P1"])
	assert.Equal(t, 46.07, s.Candidates[0].Properties["mw"])
	assert.False(t, s.SelectedCandidateIDs["C1"])
	assert.Equal(t, 0.8, s.DockingResult.Confidences[0])
}

func TestSession_JSONRoundTrip(t *testing.T) {
	s := fullSession()
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var back Session
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, s, &back)
}

func TestSession_Validate(t *testing.T) {
	assert.NoError(t, fullSession().Validate())

	noID := fullSession()
	noID.ID = ""
	assert.True(t, errors.IsCode(noID.Validate(), errors.CodeSessionInvalid))

	badStage := fullSession()
	badStage.Stage = Stage(9)
	assert.Error(t, badStage.Validate())

	strayPick := fullSession()
	strayPick.DockingProteinID = "P1"
	assert.True(t, errors.IsCode(strayPick.Validate(), errors.CodeSessionInvalid))

	badDock := fullSession()
	badDock.DockingResult.Confidences = nil
	assert.Error(t, badDock.Validate())

	var nilSession *Session
	assert.Error(t, nilSession.Validate())
}

func TestStage_StringAndParse(t *testing.T) {
	assert.Equal(t, "MoleculeGeneration", StageMoleculeGeneration.String())
	assert.Equal(t, "Stage(7)", Stage(7).String())

	s, err := ParseStage("proteinselection")
	require.NoError(t, err)
	assert.Equal(t, StageProteinSelection, s)

	s, err = ParseStage("3")
	require.NoError(t, err)
	assert.Equal(t, StageResultsAndDocking, s)

	_, err = ParseStage("docking")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidStage))
}
