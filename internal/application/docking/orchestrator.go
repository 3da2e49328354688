// Package docking runs the three-stage docking pipeline for one selected
// protein and one selected candidate: structure resolution, docking and
// visualization. Each stage fails with its own error code and a later stage
// never runs after an earlier one failed.
package docking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	domainDock "github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Ports
// ─────────────────────────────────────────────────────────────────────────────

// ProteinLookup resolves external database references for a UniProt
// accession, e.g. {"PDB": "1IR3, 4IBM", "ChEMBL": "CHEMBL1981"}.
type ProteinLookup interface {
	ExternalReferences(ctx context.Context, uniprotID string) (map[string]string, error)
}

// StructureSource downloads a 3-D structure file by structure id.
type StructureSource interface {
	FetchStructure(ctx context.Context, structureID string) ([]byte, error)
}

// Docker runs a docking job.
type Docker interface {
	Dock(ctx context.Context, structure []byte, smiles string, params domainDock.Params) (*domainDock.Result, error)
}

// Renderer turns docked poses into a viewer payload.
type Renderer interface {
	Render(ctx context.Context, structure []byte, poses []domainDock.Pose, confidences []float64) (*domainDock.Visualization, error)
}

// Locker is an optional cross-process mutual exclusion on docking runs.
// TryAcquire reports acquired=false without error when another holder owns
// key.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// ArtifactStore archives docking artifacts and returns their URI.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Metrics receives one observation per finished run.
type Metrics interface {
	RecordDocking(stage, status string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordDocking(string, string, time.Duration) {}

// ─────────────────────────────────────────────────────────────────────────────
// Request / Outcome
// ─────────────────────────────────────────────────────────────────────────────

// Request carries the current selection of a session.
type Request struct {
	SessionID  string
	Proteins   []target.Protein
	Candidates []candidate.Molecule
	Params     domainDock.Params
}

// Outcome is the typed result of a run. Stage names the last stage reached:
// the failing stage when Err is set, StageDone otherwise. Stage is empty when
// the request was rejected before any stage ran. Result is set whenever
// docking succeeded, even if visualization then failed.
type Outcome struct {
	Stage         domainDock.Stage          `json:"stage"`
	StructureID   string                    `json:"structure_id,omitempty"`
	Result        *domainDock.Result        `json:"result,omitempty"`
	Visualization *domainDock.Visualization `json:"visualization,omitempty"`
	Err           error                     `json:"-"`
}

// OK reports a run that completed every stage.
func (o Outcome) OK() bool { return o.Err == nil && o.Stage == domainDock.StageDone }

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator
// ─────────────────────────────────────────────────────────────────────────────

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker adds a distributed lock on top of the in-process guard.
func WithLocker(l Locker) Option { return func(o *Orchestrator) { o.locker = l } }

// WithArtifactStore archives poses and viewer payloads.
func WithArtifactStore(a ArtifactStore) Option { return func(o *Orchestrator) { o.artifacts = a } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDefaultParams is used for requests that leave Params zero.
func WithDefaultParams(p domainDock.Params) Option {
	return func(o *Orchestrator) { o.defaults = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// Orchestrator runs docking pipelines. It allows at most one run per session
// at a time and memoizes protein to structure-id mappings.
type Orchestrator struct {
	lookup     ProteinLookup
	structures StructureSource
	docker     Docker
	renderer   Renderer
	locker     Locker
	artifacts  ArtifactStore
	metrics    Metrics
	logger     logging.Logger
	defaults   domainDock.Params
	now        func() time.Time

	mu         sync.Mutex
	inFlight   map[string]struct{}
	structByID map[string]string
}

// NewOrchestrator wires an Orchestrator from its ports.
func NewOrchestrator(lookup ProteinLookup, structures StructureSource, docker Docker, renderer Renderer, logger logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	o := &Orchestrator{
		lookup:     lookup,
		structures: structures,
		docker:     docker,
		renderer:   renderer,
		metrics:    nopMetrics{},
		logger:     logger.Named("docking"),
		defaults:   domainDock.Params{NumPoses: 10},
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
		structByID: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InProgress reports whether a run is active for sessionID in this process.
func (o *Orchestrator) InProgress(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[sessionID]
	return ok
}

// Dock runs the pipeline. It never panics on service failures and never
// retries; every failure is reported through Outcome.Err.
func (o *Orchestrator) Dock(ctx context.Context, req Request) Outcome {
	if len(req.Proteins) != 1 || len(req.Candidates) != 1 {
		return Outcome{Err: errors.New(errors.CodeSelectionIncomplete,
			"docking needs exactly one selected protein and one selected candidate").
			WithDetail(fmt.Sprintf("proteins=%d candidates=%d", len(req.Proteins), len(req.Candidates)))}
	}

	if !o.enter(req.SessionID) {
		return Outcome{Err: errors.New(errors.CodeAlreadyInProgress, "docking is already running for this session").
			WithDetail("session=" + req.SessionID)}
	}
	defer o.leave(req.SessionID)

	if o.locker != nil {
		release, ok, err := o.locker.TryAcquire(ctx, "docking:"+req.SessionID)
		if err != nil {
			o.logger.Warn("distributed docking lock unavailable, continuing with local guard",
				logging.SessionID(req.SessionID), logging.Err(err))
		} else if !ok {
			return Outcome{Err: errors.New(errors.CodeAlreadyInProgress, "docking is already running for this session in another process").
				WithDetail("session=" + req.SessionID)}
		} else {
			defer func() {
				if err := release(context.Background()); err != nil {
					o.logger.Warn("release docking lock", logging.SessionID(req.SessionID), logging.Err(err))
				}
			}()
		}
	}

	start := o.now()
	out := o.run(ctx, req)
	status := "ok"
	if out.Err != nil {
		status = string(errors.GetCode(out.Err))
	}
	o.metrics.RecordDocking(string(out.Stage), status, o.now().Sub(start))
	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request) Outcome {
	protein, mol := req.Proteins[0], req.Candidates[0]
	log := o.logger.With(logging.SessionID(req.SessionID), logging.ProteinID(protein.ID))

	structureID, err := o.resolveStructure(ctx, protein)
	if err != nil {
		log.Warn("structure resolution failed", logging.Err(err))
		return Outcome{Stage: domainDock.StageStructure, Err: err}
	}
	log.Info("structure resolved", logging.String("structure_id", structureID))

	out := Outcome{Stage: domainDock.StageDocking, StructureID: structureID}
	if strings.TrimSpace(mol.SMILES) == "" {
		out.Err = errors.New(errors.CodeDockingFailed, "candidate has no SMILES").WithDetail(mol.IdentityKey)
		return out
	}

	structure, err := o.structures.FetchStructure(ctx, structureID)
	if err != nil {
		out.Err = errors.Wrap(err, errors.CodeDockingFailed, "fetch structure "+structureID)
		log.Warn("structure download failed", logging.Err(err))
		return out
	}

	params := req.Params
	if params.NumPoses <= 0 {
		params = o.defaults
	}
	res, err := o.docker.Dock(ctx, structure, mol.SMILES, params)
	if err != nil {
		out.Err = errors.Wrap(err, errors.CodeDockingFailed, "docking service call failed")
		log.Warn("docking failed", logging.Err(err))
		return out
	}
	if err := res.Validate(); err != nil {
		out.Err = err
		log.Warn("docking returned an invalid result", logging.Err(err))
		return out
	}
	if !res.Succeeded() {
		out.Err = errors.New(errors.CodeDockingFailed, "docking service reported an error").WithDetail(res.Message)
		return out
	}
	res = res.Clone()
	res.StructureID = structureID
	res.ProteinID = protein.ID
	res.CandidateKey = mol.IdentityKey
	res.CompletedAt = o.now().UTC()
	out.Result = res
	log.Info("docking completed", logging.Int("poses", len(res.Poses)), logging.Int("best_pose", res.BestPose()))

	out.Stage = domainDock.StageVisualization
	vis, err := o.renderer.Render(ctx, structure, res.Poses, res.Confidences)
	if err == nil && vis == nil {
		err = errors.New(errors.CodeVisualizationFailed, "renderer returned nothing")
	}
	if err != nil {
		out.Err = errors.Wrap(err, errors.CodeVisualizationFailed, "render docking result")
		log.Warn("visualization failed", logging.Err(err))
		o.archive(ctx, req.SessionID, res, nil)
		return out
	}
	out.Visualization = vis.Clone()
	o.archive(ctx, req.SessionID, res, out.Visualization)

	out.Stage = domainDock.StageDone
	return out
}

// resolveStructure prefers the protein's own PDB id, then a memoized mapping,
// then an external-references lookup by UniProt accession.
func (o *Orchestrator) resolveStructure(ctx context.Context, p target.Protein) (string, error) {
	if id := strings.ToUpper(strings.TrimSpace(p.PDBID)); id != "" {
		return id, nil
	}

	o.mu.Lock()
	cached, ok := o.structByID[p.ID]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}

	if strings.TrimSpace(p.UniprotID) == "" {
		return "", errors.New(errors.CodeNoStructureAvailable, "protein has neither a PDB id nor a UniProt accession").
			WithDetail(p.ID)
	}
	refs, err := o.lookup.ExternalReferences(ctx, p.UniprotID)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeNoStructureAvailable, "external reference lookup failed for "+p.UniprotID)
	}
	id := target.FirstPDBID(refs)
	if id == "" {
		return "", errors.New(errors.CodeNoStructureAvailable, "no PDB structure referenced").WithDetail(p.UniprotID)
	}

	o.mu.Lock()
	o.structByID[p.ID] = id
	o.mu.Unlock()
	return id, nil
}

func (o *Orchestrator) enter(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[sessionID]; busy {
		return false
	}
	o.inFlight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) leave(sessionID string) {
	o.mu.Lock()
	delete(o.inFlight, sessionID)
	o.mu.Unlock()
}

// archive is best effort; failures are logged only.
func (o *Orchestrator) archive(ctx context.Context, sessionID string, res *domainDock.Result, vis *domainDock.Visualization) {
	if o.artifacts == nil {
		return
	}
	prefix := fmt.Sprintf("sessions/%s/docking/%s", sessionID, res.CompletedAt.Format("20060102T150405Z"))

	body, err := json.Marshal(res)
	if err == nil {
		_, err = o.artifacts.PutArtifact(ctx, prefix+"/result.json", "application/json", body)
	}
	if err != nil {
		o.logger.Warn("archive docking result", logging.SessionID(sessionID), logging.Err(err))
	}

	if vis == nil {
		return
	}
	uri, err := o.artifacts.PutArtifact(ctx, prefix+"/viewer.html", "text/html; charset=utf-8", []byte(vis.Payload))
	if err != nil {
		o.logger.Warn("archive docking viewer", logging.SessionID(sessionID), logging.Err(err))
		return
	}
	vis.ArtifactURI = uri
}
