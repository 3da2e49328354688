package candidate

import (
	"sync"
)

// MergeReport summarises one Merge call.
type MergeReport struct {
	// Added lists the identity keys that were new, in input order.
	Added []string
	// Duplicates counts molecules dropped because their key was already held.
	Duplicates int
	// Rejected counts molecules without any identifier.
	Rejected int
}

// Store is an insertion-ordered, identity-deduplicating collection of
// candidates. The first copy of a key wins; later copies are dropped without
// error. Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Molecule
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{byKey: make(map[string]Molecule)}
}

// Add ingests one molecule and reports whether it was new.
func (s *Store) Add(m Molecule, defaultSource Source) (bool, error) {
	n, err := Normalize(m, defaultSource)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(n), nil
}

// Merge ingests ms in order under a single lock, so readers never observe a
// half-merged batch.
func (s *Store) Merge(ms []Molecule, defaultSource Source) MergeReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(ms, defaultSource)
}

func (s *Store) mergeLocked(ms []Molecule, defaultSource Source) MergeReport {
	var rep MergeReport
	for _, m := range ms {
		n, err := Normalize(m, defaultSource)
		if err != nil {
			rep.Rejected++
			continue
		}
		if s.insertLocked(n) {
			rep.Added = append(rep.Added, n.IdentityKey)
		} else {
			rep.Duplicates++
		}
	}
	return rep
}

func (s *Store) insertLocked(m Molecule) bool {
	if _, ok := s.byKey[m.IdentityKey]; ok {
		return false
	}
	s.byKey[m.IdentityKey] = m.Clone()
	s.order = append(s.order, m.IdentityKey)
	return true
}

// Get returns a copy of the molecule held under key.
func (s *Store) Get(key string) (Molecule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byKey[key]
	if !ok {
		return Molecule{}, false
	}
	return m.Clone(), true
}

// Contains reports whether key is held.
func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[key]
	return ok
}

// Len returns the number of distinct candidates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns copies of all candidates in insertion order.
func (s *Store) List() []Molecule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Molecule, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k].Clone())
	}
	return out
}

// Keys returns the identity keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Reset drops every candidate.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.order = nil
	s.byKey = make(map[string]Molecule)
}

// Load replaces the content with ms, deduplicating as Merge does. Readers see
// either the old content or the new one. Used when a session is restored.
func (s *Store) Load(ms []Molecule) MergeReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return s.mergeLocked(ms, SourceBioassay)
}
