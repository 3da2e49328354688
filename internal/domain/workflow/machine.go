package workflow

import (
	"sync"
	"time"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Listener observes applied transitions. It runs after the machine lock is
// released, in registration order.
type Listener func(t Transition, snapshot *Session)

// StateMachine owns the active session and serializes every transition and
// every mutation of it. The guard check and the stage write happen under one
// lock, so no other transition or mutation can interleave.
type StateMachine struct {
	mu        sync.Mutex
	session   *Session
	listeners []Listener
	now       func() time.Time
}

// NewStateMachine takes ownership of s. Callers must not touch s afterwards
// except through the machine.
func NewStateMachine(s *Session) *StateMachine {
	if s.SelectedProteins == nil {
		s.SelectedProteins = map[string]bool{}
	}
	if s.SelectedCandidateIDs == nil {
		s.SelectedCandidateIDs = map[string]bool{}
	}
	return &StateMachine{session: s, now: time.Now}
}

// OnTransition registers l for every applied transition.
func (m *StateMachine) OnTransition(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Stage returns the current stage.
func (m *StateMachine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Stage
}

// Snapshot returns a deep copy of the session.
func (m *StateMachine) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Update applies fn to the session under the machine lock. The stage cannot
// be changed through Update.
func (m *StateMachine) Update(fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stage := m.session.Stage
	if err := fn(m.session); err != nil {
		m.session.Stage = stage
		return err
	}
	m.session.Stage = stage
	m.session.UpdatedAt = m.now()
	return nil
}

// CanAdvance reports the guard that Next would evaluate, without moving.
func (m *StateMachine) CanAdvance() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return guardNext(m.session)
}

// Next advances one stage when the guard for the current stage holds.
func (m *StateMachine) Next() (Transition, error) {
	m.mu.Lock()
	if err := guardNext(m.session); err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	t := Transition{From: m.session.Stage, To: m.session.Stage + 1}
	m.session.Stage = t.To
	m.session.UpdatedAt = m.now()
	m.release(t)
	return t, nil
}

// Back moves one stage back, keeping all data. It is rejected at stage 0.
func (m *StateMachine) Back() (Transition, error) {
	m.mu.Lock()
	if m.session.Stage <= StageDiseaseSelection {
		m.mu.Unlock()
		return Transition{}, errors.GuardViolation("already at the first stage")
	}
	t := Transition{From: m.session.Stage, To: m.session.Stage - 1}
	m.session.Stage = t.To
	m.session.UpdatedAt = m.now()
	m.release(t)
	return t, nil
}

// Reset clears the working data, disease included, and returns to stage 0.
// It is allowed from any stage.
func (m *StateMachine) Reset() Transition {
	m.mu.Lock()
	return m.resetLocked(nil)
}

// ResetTo is Reset onto a new, unsaved session identity. Listeners see the
// new id.
func (m *StateMachine) ResetTo(id string, createdAt time.Time) Transition {
	m.mu.Lock()
	return m.resetLocked(func(s *Session) {
		s.ID = id
		s.Name = ""
		s.CreatedAt = createdAt
		s.Closed = false
		s.RestoredFrom = ""
	})
}

func (m *StateMachine) resetLocked(rename func(s *Session)) Transition {
	t := Transition{From: m.session.Stage, To: StageDiseaseSelection, Reset: true}
	m.session.ClearWorkingData()
	m.session.Stage = StageDiseaseSelection
	if rename != nil {
		rename(m.session)
	}
	m.session.UpdatedAt = m.now()
	m.release(t)
	return t
}

// release snapshots the session, unlocks and notifies listeners.
func (m *StateMachine) release(t Transition) {
	snap := m.session.Clone()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(t, snap)
	}
}

func guardNext(s *Session) error {
	switch s.Stage {
	case StageDiseaseSelection:
		if s.Disease == nil {
			return errors.GuardViolation("select a disease before choosing proteins").
				WithDetail(s.Stage.String())
		}
	case StageProteinSelection:
		if len(s.SelectedProteinRefs()) == 0 {
			return errors.GuardViolation("select at least one protein before generating molecules").
				WithDetail(s.Stage.String())
		}
	case StageMoleculeGeneration:
		if len(s.Candidates) == 0 && len(s.SelectedCandidateIDs) == 0 {
			return errors.GuardViolation("at least one candidate molecule is required").
				WithDetail(s.Stage.String())
		}
	default:
		return errors.GuardViolation("already at the last stage").WithDetail(s.Stage.String())
	}
	return nil
}
