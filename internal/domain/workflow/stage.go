package workflow

import (
	"fmt"
	"strings"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Stage is a step of the four-stage discovery workflow.
type Stage int

const (
	StageDiseaseSelection Stage = iota
	StageProteinSelection
	StageMoleculeGeneration
	StageResultsAndDocking
)

var stageNames = [...]string{
	StageDiseaseSelection:   "DiseaseSelection",
	StageProteinSelection:   "ProteinSelection",
	StageMoleculeGeneration: "MoleculeGeneration",
	StageResultsAndDocking:  "ResultsAndDocking",
}

// String returns the stage name, or "Stage(n)" for out-of-range values.
func (s Stage) String() string {
	if s.Valid() {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Valid reports whether s is one of the four stages.
func (s Stage) Valid() bool {
	return s >= StageDiseaseSelection && s <= StageResultsAndDocking
}

// ParseStage accepts a stage name (case-insensitive) or its ordinal.
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(v)
	for i, n := range stageNames {
		if strings.EqualFold(n, v) || fmt.Sprint(i) == v {
			return Stage(i), nil
		}
	}
	return 0, errors.New(errors.CodeInvalidStage, "unknown workflow stage").WithDetail(v)
}

// Transition records one applied stage change.
type Transition struct {
	From Stage
	To   Stage
	// Reset is set when the change came from Reset rather than Next/Back.
	Reset bool
}

// Entered reports whether the transition moved into s from a different stage.
func (t Transition) Entered(s Stage) bool {
	return t.To == s && t.From != s
}
