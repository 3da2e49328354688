// Package candidate models the drug-lead molecules proposed for a target and
// the deduplicating collection that accumulates them across sources.
//
// Every molecule is keyed by an identity derived once at ingestion:
//
//	IdentityKey = ChemblID ?? ID ?? SMILES
//
// (first non-empty, whitespace-trimmed). Downstream code compares keys only
// and never re-derives identity from individual fields.
package candidate

import (
	"strings"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Source records where a candidate came from.
type Source string

const (
	// SourceBioassay marks a molecule with measured activity against a target.
	SourceBioassay Source = "bioassay"
	// SourceGenerated marks a molecule proposed by a generative model.
	SourceGenerated Source = "generated"
)

// Activity is a measured bioactivity value, for example an IC50.
type Activity struct {
	Value float64 `json:"value"`
	Type  string  `json:"type"`
}

// Molecule is a candidate drug lead.
type Molecule struct {
	IdentityKey string                 `json:"identity_key"`
	ID          string                 `json:"id,omitempty"`
	ChemblID    string                 `json:"chembl_id,omitempty"`
	SMILES      string                 `json:"smiles"`
	Name        string                 `json:"name,omitempty"`
	Source      Source                 `json:"source"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Activity    *Activity              `json:"activity,omitempty"`
}

// DeriveIdentityKey returns the first non-empty of chemblID, id, smiles.
func DeriveIdentityKey(chemblID, id, smiles string) string {
	for _, v := range []string{chemblID, id, smiles} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Normalize trims identifiers, defaults the source and sets IdentityKey. It is
// the single ingestion point for molecules from any source. A molecule
// without any identifier is rejected.
func Normalize(m Molecule, defaultSource Source) (Molecule, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.ChemblID = strings.TrimSpace(m.ChemblID)
	m.SMILES = strings.TrimSpace(m.SMILES)
	if m.Source == "" {
		m.Source = defaultSource
	}
	m.IdentityKey = DeriveIdentityKey(m.ChemblID, m.ID, m.SMILES)
	if m.IdentityKey == "" {
		return Molecule{}, errors.New(errors.CodeInvalidCandidate, "molecule has no chembl id, id or smiles")
	}
	return m, nil
}

// Clone returns a deep copy of m.
func (m Molecule) Clone() Molecule {
	out := m
	if m.Properties != nil {
		out.Properties = cloneMap(m.Properties)
	}
	if m.Activity != nil {
		a := *m.Activity
		out.Activity = &a
	}
	return out
}

// DisplayName prefers the name, then the ChEMBL id, then the key.
func (m Molecule) DisplayName() string {
	switch {
	case m.Name != "":
		return m.Name
	case m.ChemblID != "":
		return m.ChemblID
	default:
		return m.IdentityKey
	}
}

// CloneAll deep-copies a slice of molecules.
func CloneAll(ms []Molecule) []Molecule {
	if ms == nil {
		return nil
	}
	out := make([]Molecule, len(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	default:
		return v
	}
}
