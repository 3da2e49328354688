package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

func TestDeriveIdentityKey_Priority(t *testing.T) {
	cases := []struct {
		name   string
		chembl string
		id     string
		smiles string
		want   string
	}{
		{"chembl wins", "CHEMBL25", "mol-1", "CCO", "CHEMBL25"},
		{"id when no chembl", "", "mol-1", "CCO", "mol-1"},
		{"smiles last", "", "", "CCO", "CCO"},
		{"whitespace ignored", "  ", " mol-2 ", "CCO", "mol-2"},
		{"nothing", "", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveIdentityKey(tc.chembl, tc.id, tc.smiles))
		})
	}
}

func TestNormalize(t *testing.T) {
	m, err := Normalize(Molecule{ChemblID: " C1 ", SMILES: " CCO "}, SourceBioassay)
	require.NoError(t, err)
	assert.Equal(t, "C1", m.IdentityKey)
	assert.Equal(t, "CCO", m.SMILES)
	assert.Equal(t, SourceBioassay, m.Source)

	g, err := Normalize(Molecule{SMILES: "CCN", Source: SourceGenerated}, SourceBioassay)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, g.Source)

	_, err = Normalize(Molecule{Name: "nameless"}, SourceBioassay)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidCandidate))
}

func TestMolecule_CloneIsDeep(t *testing.T) {
	orig := Molecule{
		IdentityKey: "C1",
		Properties: map[string]interface{}{
			"qed":    0.7,
			"nested": map[string]interface{}{"a": []interface{}{1.0, 2.0}},
		},
		Activity: &Activity{Value: 12.5, Type: "IC50"},
	}
	c := orig.Clone()
	c.Properties["qed"] = 0.1
	c.Properties["nested"].(map[string]interface{})["a"].([]interface{})[0] = 9.0
	c.Activity.Value = 1

	assert.Equal(t, 0.7, orig.Properties["qed"])
	assert.Equal(t, 1.0, orig.Properties["nested"].(map[string]interface{})["a"].([]interface{})[0])
	assert.Equal(t, 12.5, orig.Activity.Value)
}

func TestMolecule_DisplayName(t *testing.T) {
	assert.Equal(t, "Aspirin", Molecule{Name: "Aspirin", ChemblID: "CHEMBL25"}.DisplayName())
	assert.Equal(t, "CHEMBL25", Molecule{ChemblID: "CHEMBL25"}.DisplayName())
	assert.Equal(t, "CCO", Molecule{IdentityKey: "CCO"}.DisplayName())
}
