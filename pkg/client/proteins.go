package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// DefaultProteinPageSize is the limit sent with protein lookups.
const DefaultProteinPageSize = 100

// ProteinsClient covers protein lookup, external references and bioassay
// drugs per protein.
type ProteinsClient struct {
	client *Client
}

type proteinDTO struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	UniprotID   string     `json:"uniprot_id"`
	PDBID       string     `json:"pdb_id"`
	DiseaseID   flexString `json:"disease_id"`
	Sequence    string     `json:"sequence"`
	BindingSite string     `json:"binding_site"`
}

func (p proteinDTO) toDomain() target.Protein {
	return target.Protein{
		ID:          strings.TrimSpace(string(p.ID)),
		Name:        strings.TrimSpace(p.Name),
		UniprotID:   strings.TrimSpace(p.UniprotID),
		PDBID:       strings.TrimSpace(p.PDBID),
		DiseaseID:   string(p.DiseaseID),
		Sequence:    p.Sequence,
		BindingSite: p.BindingSite,
	}
}

// ByDiseaseName lists the proteins associated with a disease. Entries
// failing validation are skipped.
func (p *ProteinsClient) ByDiseaseName(ctx context.Context, name string) ([]target.Protein, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidParam("disease name is required")
	}
	path := fmt.Sprintf("/proteins/disease/name/%s?skip=0&limit=%d", url.PathEscape(name), DefaultProteinPageSize)
	var raw []proteinDTO
	if err := p.client.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	out := make([]target.Protein, 0, len(raw))
	for _, r := range raw {
		prot := r.toDomain()
		if err := prot.Validate(); err != nil {
			p.client.logger.Debug("skipping invalid protein", logging.String("id", prot.ID))
			continue
		}
		out = append(out, prot)
	}
	return out, nil
}

// ExternalReferences maps database names (PDB, ChEMBL, ...) to ids for a
// UniProt accession.
func (p *ProteinsClient) ExternalReferences(ctx context.Context, uniprotID string) (map[string]string, error) {
	uniprotID = strings.TrimSpace(uniprotID)
	if uniprotID == "" {
		return nil, errors.InvalidParam("uniprot id is required")
	}
	refs := map[string]string{}
	if err := p.client.get(ctx, "/proteins/external-links/"+url.PathEscape(uniprotID), &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

type drugRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UniprotID string `json:"uniprot_id"`
}

type drugDTO struct {
	ID            flexString             `json:"id"`
	MoleculeID    flexString             `json:"molecule_id"`
	ChemblID      string                 `json:"chembl_id"`
	SMILES        string                 `json:"smiles"`
	Smile         string                 `json:"smile"`
	Name          string                 `json:"name"`
	Properties    map[string]interface{} `json:"properties"`
	ActivityValue flexFloat              `json:"activity_value"`
	ActivityType  string                 `json:"activity_type"`
}

func (d drugDTO) toDomain(source candidate.Source) candidate.Molecule {
	m := candidate.Molecule{
		ID:         string(d.ID),
		ChemblID:   d.ChemblID,
		SMILES:     d.SMILES,
		Name:       d.Name,
		Source:     source,
		Properties: d.Properties,
	}
	if m.ID == "" {
		m.ID = string(d.MoleculeID)
	}
	if m.SMILES == "" {
		m.SMILES = d.Smile
	}
	if d.ActivityValue.Valid {
		m.Activity = &candidate.Activity{Value: d.ActivityValue.Value, Type: d.ActivityType}
	}
	return m
}

type drugStreamResult struct {
	ProteinID   flexString `json:"proteinId"`
	ProteinName string     `json:"proteinName"`
	Drugs       []drugDTO  `json:"drugs"`
	Error       string     `json:"error"`
	Status      string     `json:"status"`
}

// DrugsForProtein fetches the bioassay drugs for one protein through the
// batch stream endpoint. A per-protein error status fails the call.
// Molecules without any identifier are dropped.
func (p *ProteinsClient) DrugsForProtein(ctx context.Context, prot target.Protein) ([]candidate.Molecule, error) {
	req := []drugRequest{{ID: prot.ID, Name: prot.Name, UniprotID: prot.LookupID()}}
	var resp struct {
		Results []drugStreamResult `json:"results"`
	}
	if err := p.client.post(ctx, "/proteins/drugs/stream", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errors.New(errors.CodeFetchError, "no result returned from server").WithDetail(prot.ID)
	}
	res := resp.Results[0]
	if res.Status == "error" || res.Error != "" {
		msg := res.Error
		if msg == "" {
			msg = "drug lookup failed"
		}
		return nil, errors.New(errors.CodeFetchError, msg).WithDetail(prot.ID)
	}

	out := make([]candidate.Molecule, 0, len(res.Drugs))
	for _, d := range res.Drugs {
		m, err := candidate.Normalize(d.toDomain(candidate.SourceBioassay), candidate.SourceBioassay)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
