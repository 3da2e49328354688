// Package target holds the disease and protein references that seed a
// discovery run. Both are value objects: once a disease is selected or a
// protein list is loaded they are never mutated, and protein selection lives
// in a side table on the session.
package target

import (
	"strings"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Disease identifies the condition under investigation.
type Disease struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Validate checks that the disease can name a session.
func (d Disease) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.InvalidParam("disease name is required")
	}
	return nil
}

// Clone returns a copy that shares no slices with d.
func (d Disease) Clone() Disease {
	out := d
	if d.Aliases != nil {
		out.Aliases = make([]string, len(d.Aliases))
		copy(out.Aliases, d.Aliases)
	}
	return out
}

// Protein is a potential drug target associated with a disease.
type Protein struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UniprotID   string `json:"uniprot_id,omitempty"`
	PDBID       string `json:"pdb_id,omitempty"`
	DiseaseID   string `json:"disease_id,omitempty"`
	Sequence    string `json:"sequence,omitempty"`
	BindingSite string `json:"binding_site,omitempty"`
}

// Validate requires a non-empty id, which keys the aggregation cache and the
// selection table.
func (p Protein) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.InvalidParam("protein id is required")
	}
	return nil
}

// LookupID is the identifier sent to bioassay sources: the UniProt accession
// when known, otherwise the PDB id.
func (p Protein) LookupID() string {
	if p.UniprotID != "" {
		return p.UniprotID
	}
	return p.PDBID
}

// DisplayName falls back to the id when the protein has no name.
func (p Protein) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// ExternalReferenceKeyPDB is the database key under which the external-links
// service reports PDB structure ids.
const ExternalReferenceKeyPDB = "PDB"

// FirstPDBID extracts the first structure id from an external references map.
// The service may report several ids separated by commas, semicolons or
// whitespace.
func FirstPDBID(refs map[string]string) string {
	raw, ok := refs[ExternalReferenceKeyPDB]
	if !ok {
		for k, v := range refs {
			if strings.EqualFold(k, ExternalReferenceKeyPDB) {
				raw = v
				break
			}
		}
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
