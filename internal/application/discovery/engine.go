// Package discovery composes the workflow state machine, the aggregation
// cache, the session store and the docking orchestrator into the end-to-end
// discovery workflow that front ends drive.
//
// An Engine is long-lived and shared; each investigation is a Run owning its
// own state machine, candidate store and aggregation cache, so concurrent runs
// never observe each other's state.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	dockingapp "github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/internal/application/session"
	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Ports
// ─────────────────────────────────────────────────────────────────────────────

// DiseaseLookup suggests diseases for a free-text query.
type DiseaseLookup interface {
	Suggest(ctx context.Context, query string) ([]target.Disease, error)
}

// ProteinLookup lists the proteins associated with a disease.
type ProteinLookup interface {
	ByDiseaseName(ctx context.Context, name string) ([]target.Protein, error)
}

// CandidateSource provides bioassay candidates and generated molecules.
type CandidateSource interface {
	aggregation.Fetcher
	Generate(ctx context.Context, seedSMILES string, params candidate.GenerationParams) ([]candidate.Molecule, error)
}

// Docker runs the docking pipeline for a session's selection.
type Docker interface {
	Dock(ctx context.Context, req dockingapp.Request) dockingapp.Outcome
}

// EventPublisher delivers workflow events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev workflow.Event) error
}

// Metrics receives workflow observations.
type Metrics interface {
	RecordTransition(from, to string)
	RecordGeneration(status string, molecules int)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, workflow.Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordTransition(string, string) {}
func (nopMetrics) RecordGeneration(string, int)    {}

// ─────────────────────────────────────────────────────────────────────────────
// Engine
// ─────────────────────────────────────────────────────────────────────────────

// Dependencies are the collaborators every Run uses.
type Dependencies struct {
	Diseases   DiseaseLookup
	Proteins   ProteinLookup
	Candidates CandidateSource
	Sessions   *session.Store
	Docking    Docker
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventPublisher sets the event sink.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithAggregationOptions is applied to every Run's aggregation cache.
func WithAggregationOptions(opts ...aggregation.Option) Option {
	return func(e *Engine) { e.aggOpts = append(e.aggOpts, opts...) }
}

// WithAutoSync toggles saving the session after every mutation.
func WithAutoSync(on bool) Option { return func(e *Engine) { e.autoSync = on } }

// WithGenerationDefaults sets the parameters used when a Generate call leaves
// fields zero.
func WithGenerationDefaults(p candidate.GenerationParams) Option {
	return func(e *Engine) { e.genDefaults = p.WithDefaults() }
}

// WithGenerationParallelism bounds concurrent generation calls per Run.
// Zero or less means one call per seed, all at once.
func WithGenerationParallelism(n int) Option {
	return func(e *Engine) { e.genParallel = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDGenerator overrides uuid.NewString for session and event ids.
func WithIDGenerator(gen func() string) Option { return func(e *Engine) { e.newID = gen } }

// Engine creates and tracks Runs.
type Engine struct {
	deps        Dependencies
	events      EventPublisher
	metrics     Metrics
	logger      logging.Logger
	aggOpts     []aggregation.Option
	autoSync    bool
	genDefaults candidate.GenerationParams
	genParallel int
	now         func() time.Time
	newID       func() string

	mu   sync.Mutex
	runs map[string]*Run
}

// NewEngine builds an Engine.
func NewEngine(deps Dependencies, logger logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		deps:        deps,
		events:      nopPublisher{},
		metrics:     nopMetrics{},
		logger:      logger.Named("engine"),
		autoSync:    true,
		genDefaults: candidate.DefaultGenerationParams(),
		now:         time.Now,
		newID:       uuid.NewString,
		runs:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a Run on a fresh session at stage 0. The session is persisted
// once it has a disease.
func (e *Engine) Start(ctx context.Context) (*Run, error) {
	s := workflow.NewSession(e.newID(), e.now().UTC())
	r := e.open(s)
	logging.FromContext(ctx).Info("run started", logging.SessionID(r.ID()))
	return r, nil
}

// Resume continues a stored session in a new Run under a fresh id, leaving
// the stored one as it is. The new session records where it came from. An id
// that already has an active Run returns that Run.
func (e *Engine) Resume(ctx context.Context, id string) (*Run, error) {
	if r, ok := e.Get(id); ok {
		return r, nil
	}
	s, err := e.deps.Sessions.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	s.ID = e.newID()
	s.Name = ""
	s.CreatedAt = e.now().UTC()
	s.Closed = false
	s.RestoredFrom = id

	r := e.open(s)
	if s.Stage == workflow.StageMoleculeGeneration {
		r.cache.Request(ctx, s.SelectedProteinRefs())
	}
	e.logger.Info("run resumed",
		logging.SessionID(s.ID),
		logging.String("restored_from", id),
		logging.Stage(s.Stage.String()))
	return r, nil
}

// Lookup returns the active Run for id. A stored session that is still open,
// such as one left behind by a restart, is reopened under its own id; a
// closed one is refused with CodeSessionClosed and must be resumed instead.
func (e *Engine) Lookup(ctx context.Context, id string) (*Run, error) {
	if r, ok := e.Get(id); ok {
		return r, nil
	}
	s, err := e.deps.Sessions.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Closed {
		return nil, errors.SessionClosed(id)
	}
	e.mu.Lock()
	if r, ok := e.runs[id]; ok {
		e.mu.Unlock()
		return r, nil
	}
	r := newRun(e, s)
	e.runs[id] = r
	e.mu.Unlock()

	if s.Stage == workflow.StageMoleculeGeneration {
		r.cache.Request(ctx, s.SelectedProteinRefs())
	}
	e.logger.Info("run reopened", logging.SessionID(id), logging.Stage(s.Stage.String()))
	return r, nil
}

// Get returns the active Run for a session id.
func (e *Engine) Get(id string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

// Active returns the ids of all open runs.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

// Close detaches the Run for id. Its stored session is kept.
func (e *Engine) Close(id string) {
	e.mu.Lock()
	r, ok := e.runs[id]
	delete(e.runs, id)
	e.mu.Unlock()
	if ok {
		r.detach()
	}
}

// SuggestDiseases forwards to the disease lookup. Blank queries return
// nothing without a network call.
func (e *Engine) SuggestDiseases(ctx context.Context, query string) ([]target.Disease, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return e.deps.Diseases.Suggest(ctx, query)
}

// ProteinsForDisease forwards to the protein lookup.
func (e *Engine) ProteinsForDisease(ctx context.Context, name string) ([]target.Protein, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidParam("disease name is required")
	}
	return e.deps.Proteins.ByDiseaseName(ctx, name)
}

// Sessions exposes the session store to front ends.
func (e *Engine) Sessions() *session.Store { return e.deps.Sessions }

func (e *Engine) open(s *workflow.Session) *Run {
	r := newRun(e, s)
	e.mu.Lock()
	e.runs[s.ID] = r
	e.mu.Unlock()
	return r
}

func (e *Engine) rekey(oldID, newID string, r *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.runs[oldID]; ok && cur == r {
		delete(e.runs, oldID)
	}
	e.runs[newID] = r
}

func (e *Engine) publish(ctx context.Context, typ workflow.EventType, sessionID string, payload map[string]interface{}) {
	ev := workflow.Event{
		ID:         e.newID(),
		Type:       typ,
		SessionID:  sessionID,
		OccurredAt: e.now().UTC(),
		Payload:    payload,
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish workflow event",
			logging.String("type", string(typ)), logging.SessionID(sessionID), logging.Err(err))
	}
}
