package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	dockingapp "github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Run is one investigation. All methods are safe for concurrent use.
type Run struct {
	engine  *Engine
	machine *workflow.StateMachine
	store   *candidate.Store
	cache   *aggregation.Cache
	logger  logging.Logger

	unsubscribe func()

	// syncMu serializes saves so a stale snapshot never overwrites a newer
	// one, and orders id changes against them.
	syncMu sync.Mutex

	// epoch changes whenever the working data is discarded (reset, new
	// disease). Slow operations started in an older epoch drop their results.
	// resetMu is held for writing while the data is discarded.
	epoch   atomic.Uint64
	resetMu sync.RWMutex
}

func newRun(e *Engine, s *workflow.Session) *Run {
	store := candidate.NewStore()
	store.Load(s.Candidates)

	r := &Run{
		engine:  e,
		machine: workflow.NewStateMachine(s),
		store:   store,
		logger:  e.logger,
	}
	r.cache = aggregation.New(e.deps.Candidates, store, e.logger, e.aggOpts...)
	r.machine.OnTransition(r.onTransition)
	r.unsubscribe = r.cache.Subscribe(r.onAggregation)
	return r
}

// ID returns the current session id. It changes after Reset.
func (r *Run) ID() string { return r.machine.Snapshot().ID }

// Stage returns the current workflow stage.
func (r *Run) Stage() workflow.Stage { return r.machine.Stage() }

// Snapshot returns a deep copy of the session.
func (r *Run) Snapshot() *workflow.Session { return r.machine.Snapshot() }

// CanAdvance reports why Next would fail, or nil.
func (r *Run) CanAdvance() error { return r.machine.CanAdvance() }

// AggregationResults returns every resolved protein request of this run.
func (r *Run) AggregationResults() []aggregation.Result { return r.cache.Results() }

// ─────────────────────────────────────────────────────────────────────────────
// Stage 0: disease
// ─────────────────────────────────────────────────────────────────────────────

// SelectDisease sets the disease under investigation. Choosing a different
// disease discards proteins, candidates and docking data from the previous
// one.
func (r *Run) SelectDisease(ctx context.Context, d target.Disease) error {
	if err := d.Validate(); err != nil {
		return err
	}
	snap := r.machine.Snapshot()
	if err := requireStage(snap, workflow.StageDiseaseSelection); err != nil {
		return err
	}
	if snap.Disease != nil && snap.Disease.ID == d.ID && snap.Disease.Name == d.Name {
		return nil
	}

	r.resetMu.Lock()
	r.epoch.Add(1)
	// Nothing fetched for the previous disease may land after this point.
	r.cache.Clear()
	r.store.Reset()
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageDiseaseSelection); err != nil {
			return err
		}
		s.ClearWorkingData()
		dc := d.Clone()
		s.Disease = &dc
		return nil
	})
	r.resetMu.Unlock()
	if err != nil {
		return err
	}
	r.engine.publish(ctx, workflow.EventDiseaseSelected, r.ID(), map[string]interface{}{
		"disease_id": d.ID, "disease_name": d.Name,
	})
	return r.sync(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Stage 1: proteins
// ─────────────────────────────────────────────────────────────────────────────

// LoadProteins fetches the proteins for the selected disease and installs
// them with SetProteins.
func (r *Run) LoadProteins(ctx context.Context) ([]target.Protein, error) {
	snap := r.machine.Snapshot()
	if snap.Disease == nil {
		return nil, errors.GuardViolation("select a disease before loading proteins")
	}
	ps, err := r.engine.ProteinsForDisease(ctx, snap.Disease.Name)
	if err != nil {
		return nil, err
	}
	if err := r.SetProteins(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// SetProteins replaces the loaded protein list. Selections of proteins that
// are no longer listed are dropped.
func (r *Run) SetProteins(ctx context.Context, ps []target.Protein) error {
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageProteinSelection); err != nil {
			return err
		}
		s.Proteins = append([]target.Protein(nil), ps...)
		keep := make(map[string]bool, len(s.SelectedProteins))
		for _, p := range ps {
			if s.SelectedProteins[p.ID] {
				keep[p.ID] = true
			}
		}
		s.SelectedProteins = keep
		dropStaleDockingPick(s)
		return nil
	})
	if err != nil {
		return err
	}
	return r.sync(ctx)
}

// ToggleProtein flips the selection of one loaded protein and returns the
// new state.
func (r *Run) ToggleProtein(ctx context.Context, id string) (bool, error) {
	var selected bool
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageProteinSelection); err != nil {
			return err
		}
		if _, ok := s.FindProtein(id); !ok {
			return errors.NotFound("protein is not loaded").WithDetail(id)
		}
		selected = !s.SelectedProteins[id]
		if selected {
			s.SelectedProteins[id] = true
		} else {
			delete(s.SelectedProteins, id)
		}
		dropStaleDockingPick(s)
		return nil
	})
	if err != nil {
		return false, err
	}
	return selected, r.sync(ctx)
}

// SelectProteins replaces the selection with ids. Every id must be loaded.
func (r *Run) SelectProteins(ctx context.Context, ids []string) error {
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageProteinSelection); err != nil {
			return err
		}
		sel := make(map[string]bool, len(ids))
		for _, id := range ids {
			if _, ok := s.FindProtein(id); !ok {
				return errors.InvalidParam("protein is not loaded").WithDetail(id)
			}
			sel[id] = true
		}
		s.SelectedProteins = sel
		dropStaleDockingPick(s)
		return nil
	})
	if err != nil {
		return err
	}
	return r.sync(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Navigation
// ─────────────────────────────────────────────────────────────────────────────

// Next advances one stage. Entering molecule generation starts candidate
// aggregation for the selected proteins.
func (r *Run) Next(ctx context.Context) (workflow.Transition, error) {
	t, err := r.machine.Next()
	if err != nil {
		return t, err
	}
	return t, r.sync(ctx)
}

// Back moves one stage back, keeping all data.
func (r *Run) Back(ctx context.Context) (workflow.Transition, error) {
	t, err := r.machine.Back()
	if err != nil {
		return t, err
	}
	return t, r.sync(ctx)
}

// Reset starts over on a fresh session id at stage 0. With save, the current
// session is first stored closed, regardless of auto-sync; otherwise it stays
// as last synced.
func (r *Run) Reset(ctx context.Context, save bool) (string, error) {
	r.resetMu.Lock()
	defer r.resetMu.Unlock()

	oldID := r.ID()
	if save {
		if _, err := r.close(ctx); err != nil {
			return oldID, err
		}
	}

	r.epoch.Add(1)
	// Clear first: an aggregation result must not refill the fresh session.
	r.cache.Clear()
	r.store.Reset()

	r.syncMu.Lock()
	newID := r.engine.newID()
	r.machine.ResetTo(newID, r.engine.now().UTC())
	r.syncMu.Unlock()

	r.engine.rekey(oldID, newID, r)
	r.logger.Info("run reset", logging.String("previous_session_id", oldID), logging.SessionID(newID))
	return newID, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Stage 2: candidates
// ─────────────────────────────────────────────────────────────────────────────

// WaitForAggregation blocks until every selected protein's request resolved.
func (r *Run) WaitForAggregation(ctx context.Context) ([]aggregation.Result, error) {
	refs := r.machine.Snapshot().SelectedProteinRefs()
	ids := make([]string, len(refs))
	for i, p := range refs {
		ids[i] = p.ID
	}
	return r.cache.Wait(ctx, ids...)
}

// SeedOutcome reports one seed of a generation request.
type SeedOutcome struct {
	Seed      string   `json:"seed"`
	SMILES    string   `json:"smiles"`
	Generated int      `json:"generated"`
	Added     []string `json:"added"`
	Err       error    `json:"-"`
	Message   string   `json:"error,omitempty"`
}

// GenerationReport summarises Generate.
type GenerationReport struct {
	Params candidate.GenerationParams `json:"params"`
	Seeds  []SeedOutcome              `json:"seeds"`
	Added  []string                   `json:"added"`
}

// Failed counts seeds whose call failed.
func (g GenerationReport) Failed() int {
	n := 0
	for _, s := range g.Seeds {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Generate asks the generative model for molecules similar to each seed. Seeds
// are candidate identity keys; with none given, the selected candidates are
// used. The requested molecule count is split over the seeds. A failing seed
// is reported in the result and never stops the others.
func (r *Run) Generate(ctx context.Context, seeds []string, params candidate.GenerationParams) (GenerationReport, error) {
	snap := r.machine.Snapshot()
	if err := requireStage(snap, workflow.StageMoleculeGeneration); err != nil {
		return GenerationReport{}, err
	}
	if len(seeds) == 0 {
		for _, m := range snap.SelectedCandidates() {
			seeds = append(seeds, m.IdentityKey)
		}
	}
	if len(seeds) == 0 {
		return GenerationReport{}, errors.InvalidParam("select at least one seed molecule")
	}
	mols := make([]candidate.Molecule, len(seeds))
	for i, key := range seeds {
		m, ok := r.store.Get(key)
		if !ok {
			return GenerationReport{}, errors.InvalidParam("seed is not a known candidate").WithDetail(key)
		}
		if m.SMILES == "" {
			return GenerationReport{}, errors.InvalidParam("seed has no SMILES").WithDetail(key)
		}
		mols[i] = m
	}

	epoch := r.epoch.Load()
	params = mergeParams(params, r.engine.genDefaults).PerSeed(len(mols))
	report := GenerationReport{Params: params, Seeds: make([]SeedOutcome, len(mols))}
	produced := make([][]candidate.Molecule, len(mols))

	g, gctx := errgroup.WithContext(ctx)
	if r.engine.genParallel > 0 {
		g.SetLimit(r.engine.genParallel)
	}
	for i, m := range mols {
		i, m := i, m
		report.Seeds[i] = SeedOutcome{Seed: m.IdentityKey, SMILES: m.SMILES}
		g.Go(func() error {
			out, err := r.engine.deps.Candidates.Generate(gctx, m.SMILES, params)
			if err != nil {
				report.Seeds[i].Err = errors.Wrap(err, errors.CodeGenerationError, "generate from seed "+m.IdentityKey)
				report.Seeds[i].Message = err.Error()
				return nil
			}
			produced[i] = out
			return nil
		})
	}
	_ = g.Wait()

	r.resetMu.RLock()
	defer r.resetMu.RUnlock()
	if r.epoch.Load() != epoch {
		r.logger.Info("discarding generation from before a reset", logging.SessionID(snap.ID))
		return report, errors.New(errors.CodeInvalidStage, "the run was reset while generating")
	}
	for i := range mols {
		if report.Seeds[i].Err != nil {
			r.engine.metrics.RecordGeneration("error", 0)
			continue
		}
		rep := r.store.Merge(produced[i], candidate.SourceGenerated)
		report.Seeds[i].Generated = len(produced[i])
		report.Seeds[i].Added = rep.Added
		report.Added = append(report.Added, rep.Added...)
		r.engine.metrics.RecordGeneration("ok", len(produced[i]))
	}

	r.refreshCandidates()
	r.logger.Info("generation finished",
		logging.SessionID(snap.ID),
		logging.Int("seeds", len(mols)),
		logging.Int("failed", report.Failed()),
		logging.Int("added", len(report.Added)))
	r.engine.publish(ctx, workflow.EventCandidatesGenerated, snap.ID, map[string]interface{}{
		"seeds": len(mols), "added": len(report.Added), "failed": report.Failed(),
	})
	if len(report.Seeds) == report.Failed() {
		return report, errors.New(errors.CodeGenerationError, "every seed failed")
	}
	return report, r.sync(ctx)
}

// SelectCandidate sets whether a candidate is selected, either as a
// generation seed or for docking.
func (r *Run) SelectCandidate(ctx context.Context, key string, selected bool) error {
	if !r.store.Contains(key) {
		return errors.NotFound("candidate is not known").WithDetail(key)
	}
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageMoleculeGeneration, workflow.StageResultsAndDocking); err != nil {
			return err
		}
		if selected {
			s.SelectedCandidateIDs[key] = true
		} else {
			delete(s.SelectedCandidateIDs, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.sync(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Stage 3: docking
// ─────────────────────────────────────────────────────────────────────────────

// SelectDockingProtein picks which of the selected proteins the next docking
// run targets. The aggregation selection is kept as it is.
func (r *Run) SelectDockingProtein(ctx context.Context, id string) error {
	err := r.machine.Update(func(s *workflow.Session) error {
		if err := requireStage(s, workflow.StageResultsAndDocking); err != nil {
			return err
		}
		if !s.SelectedProteins[id] {
			return errors.InvalidParam("protein is not selected").WithDetail(id)
		}
		s.DockingProteinID = id
		return nil
	})
	if err != nil {
		return err
	}
	return r.sync(ctx)
}

// Dock runs the docking pipeline for the docking protein and the selected
// candidate, and records the outcome on the session. A failed docking stage
// leaves any earlier result in place; a failed visualization stage still
// records the docking result.
func (r *Run) Dock(ctx context.Context) dockingapp.Outcome {
	snap := r.machine.Snapshot()
	if err := requireStage(snap, workflow.StageResultsAndDocking); err != nil {
		return dockingapp.Outcome{Err: err}
	}
	var proteins []target.Protein
	if p, ok := snap.DockingProtein(); ok {
		proteins = []target.Protein{p}
	}
	epoch := r.epoch.Load()
	out := r.engine.deps.Docking.Dock(ctx, dockingapp.Request{
		SessionID:  snap.ID,
		Proteins:   proteins,
		Candidates: snap.SelectedCandidates(),
	})

	if out.Result != nil {
		r.resetMu.RLock()
		if r.epoch.Load() == epoch {
			_ = r.machine.Update(func(s *workflow.Session) error {
				s.DockingResult = out.Result.Clone()
				s.DockingVisualization = out.Visualization.Clone()
				return nil
			})
		}
		r.resetMu.RUnlock()
		if err := r.sync(ctx); err != nil {
			r.logger.Warn("save docking result", logging.SessionID(snap.ID), logging.Err(err))
		}
	}

	payload := map[string]interface{}{"stage": string(out.Stage), "structure_id": out.StructureID}
	if out.Err != nil {
		payload["error_code"] = string(errors.GetCode(out.Err))
	}
	r.engine.publish(ctx, workflow.EventDockingCompleted, snap.ID, payload)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Persistence
// ─────────────────────────────────────────────────────────────────────────────

// Save stores the session closed, renaming it first when name is not empty.
// The closed copy is read-only history; the run carries on under a fresh id,
// so later edits start a new entry instead of rewriting the saved one.
func (r *Run) Save(ctx context.Context, name string) (*workflow.Session, error) {
	if name != "" {
		_ = r.machine.Update(func(s *workflow.Session) error {
			s.Name = name
			return nil
		})
	}
	saved, err := r.close(ctx)
	if err != nil {
		return nil, err
	}

	r.syncMu.Lock()
	newID := r.engine.newID()
	now := r.engine.now().UTC()
	_ = r.machine.Update(func(s *workflow.Session) error {
		s.ID = newID
		s.Name = ""
		s.CreatedAt = now
		s.RestoredFrom = saved.ID
		return nil
	})
	r.syncMu.Unlock()
	r.engine.rekey(saved.ID, newID, r)
	r.logger.Debug("run continues after save", logging.String("saved_session_id", saved.ID), logging.SessionID(newID))
	return saved, nil
}

// close stores a closed copy of the current session under its id.
func (r *Run) close(ctx context.Context) (*workflow.Session, error) {
	r.syncMu.Lock()
	snap := r.machine.Snapshot()
	snap.Closed = true
	saved, err := r.engine.deps.Sessions.Upsert(ctx, snap)
	r.syncMu.Unlock()
	if err != nil {
		return nil, err
	}
	r.engine.publish(ctx, workflow.EventSessionSaved, saved.ID, map[string]interface{}{"name": saved.Name})
	return saved, nil
}

// sync is the auto-save after a mutation. Sessions without a disease are not
// worth keeping and are skipped.
func (r *Run) sync(ctx context.Context) error {
	if !r.engine.autoSync {
		return nil
	}
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	snap := r.machine.Snapshot()
	if snap.Disease == nil {
		return nil
	}
	if _, err := r.engine.deps.Sessions.Upsert(ctx, snap); err != nil {
		r.logger.Warn("auto-save failed", logging.SessionID(snap.ID), logging.Err(err))
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Listeners
// ─────────────────────────────────────────────────────────────────────────────

func (r *Run) onTransition(t workflow.Transition, snap *workflow.Session) {
	r.engine.metrics.RecordTransition(t.From.String(), t.To.String())
	if t.Entered(workflow.StageMoleculeGeneration) && !t.Reset {
		r.cache.Request(logging.WithContext(context.Background(), r.logger), snap.SelectedProteinRefs())
	}
	r.engine.publish(context.Background(), workflow.EventStageChanged, snap.ID, map[string]interface{}{
		"from": t.From.String(), "to": t.To.String(), "reset": t.Reset,
	})
}

func (r *Run) onAggregation(res aggregation.Result) {
	if res.FromCache {
		return
	}
	r.refreshCandidates()
	ctx := context.Background()
	id := r.ID()
	if err := r.sync(ctx); err != nil {
		r.logger.Warn("save after aggregation", logging.SessionID(id), logging.Err(err))
	}
	payload := map[string]interface{}{
		"protein_id": res.ProteinID,
		"status":     string(res.Status),
		"candidates": len(res.Candidates),
		"added":      len(res.Added),
	}
	r.engine.publish(ctx, workflow.EventAggregationResolved, id, payload)
}

// refreshCandidates copies the candidate store into the session.
func (r *Run) refreshCandidates() {
	list := r.store.List()
	_ = r.machine.Update(func(s *workflow.Session) error {
		s.Candidates = list
		return nil
	})
}

func (r *Run) detach() {
	r.unsubscribe()
}

// dropStaleDockingPick forgets the docking pick once its protein is no
// longer selected.
func dropStaleDockingPick(s *workflow.Session) {
	if s.DockingProteinID != "" && !s.SelectedProteins[s.DockingProteinID] {
		s.DockingProteinID = ""
	}
}

func requireStage(s *workflow.Session, allowed ...workflow.Stage) error {
	for _, st := range allowed {
		if s.Stage == st {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, st := range allowed {
		names[i] = st.String()
	}
	return errors.New(errors.CodeInvalidStage, "operation is not available at this stage").
		WithDetail(fmt.Sprintf("stage=%s allowed=%v", s.Stage, names))
}

func mergeParams(p, defaults candidate.GenerationParams) candidate.GenerationParams {
	if p.NumMolecules <= 0 {
		p.NumMolecules = defaults.NumMolecules
	}
	if p.Temperature == "" {
		p.Temperature = defaults.Temperature
	}
	if p.Noise == "" {
		p.Noise = defaults.Noise
	}
	if p.StepSize <= 0 {
		p.StepSize = defaults.StepSize
	}
	if p.Scoring == "" {
		p.Scoring = defaults.Scoring
	}
	return p.WithDefaults()
}
