// Package workflow models one discovery investigation: the session that is
// persisted as a unit, and the four-stage state machine that guards how a
// session moves from disease selection to docking.
package workflow

import (
	"strings"
	"time"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// UntitledName names sessions that have neither a user name nor a disease.
const UntitledName = "Untitled Research"

// Session is one complete or in-progress run of the workflow.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Stage     Stage     `json:"stage"`
	// Closed sessions are history: the store rejects further writes.
	Closed bool `json:"closed"`
	// RestoredFrom names the closed session this one was reopened from.
	RestoredFrom string `json:"restored_from,omitempty"`

	Disease *target.Disease `json:"disease,omitempty"`

	// Proteins are the targets loaded for the disease; SelectedProteins is
	// the selection side table keyed by protein id.
	Proteins         []target.Protein `json:"proteins"`
	SelectedProteins map[string]bool  `json:"selected_proteins"`

	Candidates           []candidate.Molecule `json:"candidates"`
	SelectedCandidateIDs map[string]bool      `json:"selected_candidate_ids"`

	// DockingProteinID is the stage-3 pick among the selected proteins.
	DockingProteinID string `json:"docking_protein_id,omitempty"`

	DockingResult        *docking.Result        `json:"docking_result,omitempty"`
	DockingVisualization *docking.Visualization `json:"docking_visualization,omitempty"`
}

// NewSession returns an empty session at stage 0.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:                   id,
		CreatedAt:            now,
		UpdatedAt:            now,
		Stage:                StageDiseaseSelection,
		SelectedProteins:     map[string]bool{},
		SelectedCandidateIDs: map[string]bool{},
	}
}

// DefaultName derives "<DiseaseName> Research" from d.
func DefaultName(d *target.Disease) string {
	if d == nil || strings.TrimSpace(d.Name) == "" {
		return UntitledName
	}
	return strings.TrimSpace(d.Name) + " Research"
}

// DisplayName returns Name, or the name derived from the disease.
func (s *Session) DisplayName() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	return DefaultName(s.Disease)
}

// SelectedProteinRefs returns the selected proteins in load order.
func (s *Session) SelectedProteinRefs() []target.Protein {
	out := make([]target.Protein, 0, len(s.SelectedProteins))
	for _, p := range s.Proteins {
		if s.SelectedProteins[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// SelectedCandidates returns the selected candidates in list order.
func (s *Session) SelectedCandidates() []candidate.Molecule {
	out := make([]candidate.Molecule, 0, len(s.SelectedCandidateIDs))
	for _, c := range s.Candidates {
		if s.SelectedCandidateIDs[c.IdentityKey] {
			out = append(out, c)
		}
	}
	return out
}

// DockingProtein returns the protein to dock against: the explicit pick when
// it is still selected, otherwise the only selected protein. With several
// selected proteins and no pick it reports false.
func (s *Session) DockingProtein() (target.Protein, bool) {
	if s.DockingProteinID != "" {
		if !s.SelectedProteins[s.DockingProteinID] {
			return target.Protein{}, false
		}
		return s.FindProtein(s.DockingProteinID)
	}
	refs := s.SelectedProteinRefs()
	if len(refs) != 1 {
		return target.Protein{}, false
	}
	return refs[0], true
}

// FindProtein looks a loaded protein up by id.
func (s *Session) FindProtein(id string) (target.Protein, bool) {
	for _, p := range s.Proteins {
		if p.ID == id {
			return p, true
		}
	}
	return target.Protein{}, false
}

// ClearWorkingData drops everything a reset discards, disease included.
func (s *Session) ClearWorkingData() {
	s.Disease = nil
	s.Proteins = nil
	s.SelectedProteins = map[string]bool{}
	s.Candidates = nil
	s.SelectedCandidateIDs = map[string]bool{}
	s.DockingProteinID = ""
	s.DockingResult = nil
	s.DockingVisualization = nil
}

// Validate checks the structural invariants of a stored session.
func (s *Session) Validate() error {
	if s == nil {
		return errors.New(errors.CodeSessionInvalid, "session is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.New(errors.CodeSessionInvalid, "session id is required")
	}
	if !s.Stage.Valid() {
		return errors.New(errors.CodeSessionInvalid, "session stage is out of range").WithDetail(s.Stage.String())
	}
	if s.DockingProteinID != "" && !s.SelectedProteins[s.DockingProteinID] {
		return errors.New(errors.CodeSessionInvalid, "docking protein is not selected").WithDetail(s.DockingProteinID)
	}
	if s.DockingResult != nil && len(s.DockingResult.Poses) != len(s.DockingResult.Confidences) {
		return errors.New(errors.CodeSessionInvalid, "docking result pose and confidence counts differ")
	}
	return nil
}

// Clone returns a deep copy; the result shares no maps, slices or pointers
// with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Disease != nil {
		d := s.Disease.Clone()
		out.Disease = &d
	}
	if s.Proteins != nil {
		out.Proteins = make([]target.Protein, len(s.Proteins))
		copy(out.Proteins, s.Proteins)
	}
	out.SelectedProteins = cloneSet(s.SelectedProteins)
	out.Candidates = candidate.CloneAll(s.Candidates)
	out.SelectedCandidateIDs = cloneSet(s.SelectedCandidateIDs)
	out.DockingResult = s.DockingResult.Clone()
	out.DockingVisualization = s.DockingVisualization.Clone()
	return &out
}

func cloneSet(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
