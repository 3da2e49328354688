package client

import (
	"context"
	"strings"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// MoleculesClient drives the generative model service.
type MoleculesClient struct {
	client *Client
}

type generateRequest struct {
	SMILES       string `json:"smiles"`
	NumMolecules int    `json:"num_molecules"`
	Temperature  string `json:"temperature"`
	Noise        string `json:"noise"`
	StepSize     int    `json:"step_size"`
	Scoring      string `json:"scoring"`
	Unique       bool   `json:"unique"`
}

// Generate proposes molecules from one seed SMILES. Zero params take the
// service defaults. Results are normalized and tagged as generated.
func (m *MoleculesClient) Generate(ctx context.Context, seedSMILES string, params candidate.GenerationParams) ([]candidate.Molecule, error) {
	seedSMILES = strings.TrimSpace(seedSMILES)
	if seedSMILES == "" {
		return nil, errors.InvalidParam("seed smiles is required")
	}
	p := params.WithDefaults()
	req := generateRequest{
		SMILES:       seedSMILES,
		NumMolecules: p.NumMolecules,
		Temperature:  p.Temperature,
		Noise:        p.Noise,
		StepSize:     p.StepSize,
		Scoring:      p.Scoring,
		Unique:       p.Unique,
	}
	var raw []drugDTO
	if err := m.client.post(ctx, "/molecules/generate/nvidia-genmol", req, &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeGenerationError, "generate molecules")
	}
	out := make([]candidate.Molecule, 0, len(raw))
	for _, r := range raw {
		mol, err := candidate.Normalize(r.toDomain(candidate.SourceGenerated), candidate.SourceGenerated)
		if err != nil {
			continue
		}
		out = append(out, mol)
	}
	return out, nil
}

// CandidateSource combines bioassay lookup and generation behind one value.
type CandidateSource struct {
	*ProteinsClient
	*MoleculesClient
}

// Candidates returns the combined candidate source.
func (c *Client) Candidates() CandidateSource {
	return CandidateSource{ProteinsClient: c.Proteins(), MoleculesClient: c.Molecules()}
}
