package candidate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_DuplicateKeepsFirstCopy(t *testing.T) {
	s := NewStore()

	added, err := s.Add(Molecule{ChemblID: "C1", SMILES: "CCO", Name: "first"}, SourceBioassay)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(Molecule{ChemblID: "C1", SMILES: "CCCO", Name: "second"}, SourceGenerated)
	require.NoError(t, err)
	assert.False(t, added)

	require.Equal(t, 1, s.Len())
	got, ok := s.Get("C1")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, "CCO", got.SMILES)
	assert.Equal(t, SourceBioassay, got.Source)
}

func TestStore_MergeReport(t *testing.T) {
	s := NewStore()
	rep := s.Merge([]Molecule{
		{ChemblID: "C1", SMILES: "CCO"},
		{ChemblID: "C1", SMILES: "CCO"},
		{ChemblID: "C2", SMILES: "CCN"},
		{Name: "no identity"},
	}, SourceBioassay)

	assert.Equal(t, []string{"C1", "C2"}, rep.Added)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, []string{"C1", "C2"}, s.Keys())
}

func TestStore_IdentityAcrossFieldShapes(t *testing.T) {
	s := NewStore()
	s.Merge([]Molecule{{ID: "mol-7", SMILES: "CCO"}}, SourceGenerated)
	s.Merge([]Molecule{{SMILES: "CCO"}}, SourceGenerated)

	// Different keys: one keyed by id, one by smiles.
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("mol-7"))
	assert.True(t, s.Contains("CCO"))
}

func TestStore_ListReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Merge([]Molecule{{ChemblID: "C1", Properties: map[string]interface{}{"qed": 0.5}}}, SourceBioassay)

	list := s.List()
	list[0].Properties["qed"] = 0.0
	list[0].Name = "mutated"

	got, _ := s.Get("C1")
	assert.Equal(t, 0.5, got.Properties["qed"])
	assert.Empty(t, got.Name)
}

func TestStore_ResetAndLoad(t *testing.T) {
	s := NewStore()
	s.Merge([]Molecule{{ChemblID: "C1"}}, SourceBioassay)
	s.Reset()
	assert.Equal(t, 0, s.Len())

	rep := s.Load([]Molecule{{ChemblID: "C9", IdentityKey: "C9"}, {ChemblID: "C9"}})
	assert.Equal(t, []string{"C9"}, rep.Added)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentMerge(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]Molecule, 0, 50)
			for i := 0; i < 50; i++ {
				batch = append(batch, Molecule{ChemblID: fmt.Sprintf("C%d", i)})
			}
			s.Merge(batch, SourceBioassay)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestStore_LoadIsNeverSeenEmpty(t *testing.T) {
	s := NewStore()
	batch := []Molecule{{ChemblID: "C1"}, {ChemblID: "C2"}, {ChemblID: "C3"}}
	s.Load(batch)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Load(batch)
		}
		close(stop)
	}()

	partial := 0
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
			if n := len(s.List()); n != 3 {
				partial++
			}
		}
	}
	wg.Wait()
	assert.Zero(t, partial, "a reader saw a partially loaded store")
}
