// Package docking holds the value types produced by the docking pipeline:
// the scored poses of one ligand against one protein structure and the
// rendering payload derived from them.
package docking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Status is the outcome reported by the docking service.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageStructure     Stage = "structure"
	StageDocking       Stage = "docking"
	StageVisualization Stage = "visualization"
	StageDone          Stage = "done"
)

// Pose is one binding configuration. The payload is opaque to the engine;
// Index is its ordinal position and pairs it with Confidences[Index].
type Pose struct {
	Index   int             `json:"index"`
	Payload json.RawMessage `json:"payload"`
}

// Result is the outcome of a docking job.
type Result struct {
	Poses       []Pose    `json:"poses"`
	Confidences []float64 `json:"confidences"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`

	StructureID  string    `json:"structure_id,omitempty"`
	ProteinID    string    `json:"protein_id,omitempty"`
	CandidateKey string    `json:"candidate_key,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}

// Validate enforces len(Poses) == len(Confidences) and a known status.
func (r *Result) Validate() error {
	if r == nil {
		return errors.New(errors.CodeDockingFailed, "docking service returned no result")
	}
	if len(r.Poses) != len(r.Confidences) {
		return errors.New(errors.CodeDockingFailed, "pose and confidence counts differ").
			WithDetail(fmt.Sprintf("poses=%d confidences=%d", len(r.Poses), len(r.Confidences)))
	}
	switch r.Status {
	case StatusSuccess, StatusError:
	default:
		return errors.New(errors.CodeDockingFailed, "unknown docking status").WithDetail(string(r.Status))
	}
	return nil
}

// Succeeded reports a successful status.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// BestPose returns the index of the highest-confidence pose, or -1.
func (r *Result) BestPose() int {
	if r == nil || len(r.Confidences) == 0 {
		return -1
	}
	best := 0
	for i, c := range r.Confidences {
		if c > r.Confidences[best] {
			best = i
		}
	}
	return best
}

// Clone deep-copies r. A nil receiver yields nil.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.Poses != nil {
		out.Poses = make([]Pose, len(r.Poses))
		for i, p := range r.Poses {
			out.Poses[i] = Pose{Index: p.Index, Payload: clonePayload(p.Payload)}
		}
	}
	if r.Confidences != nil {
		out.Confidences = make([]float64, len(r.Confidences))
		copy(out.Confidences, r.Confidences)
	}
	return &out
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}

// Visualization is a renderable payload for a docking result, typically a
// self-contained viewer HTML document.
type Visualization struct {
	Format      string `json:"format"`
	Payload     string `json:"payload"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
}

// Clone copies v. A nil receiver yields nil.
func (v *Visualization) Clone() *Visualization {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Params tunes a docking job.
type Params struct {
	NumPoses int `json:"num_poses"`
}
