package cli

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/app"
	dockingapp "github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	domainDock "github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/memory"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/internal/testutil"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

func init() { color.NoColor = true }

type fakeBackend struct{}

func (fakeBackend) Suggest(_ context.Context, q string) ([]target.Disease, error) {
	if strings.HasPrefix(strings.ToLower(q), "dia") {
		return []target.Disease{{ID: "D1", Name: "Diabetes"}}, nil
	}
	return nil, nil
}

func (fakeBackend) ByDiseaseName(_ context.Context, name string) ([]target.Protein, error) {
	if name != "Diabetes" {
		return nil, errors.New(errors.CodeExternalService, "unknown disease")
	}
	return []target.Protein{
		{ID: "P1", Name: "Insulin receptor", PDBID: "1IR3"},
		{ID: "P2", Name: "GLP-1R", PDBID: "5VAI"},
	}, nil
}

func (fakeBackend) DrugsForProtein(_ context.Context, p target.Protein) ([]candidate.Molecule, error) {
	switch p.ID {
	case "P1":
		return []candidate.Molecule{{ChemblID: "C1", SMILES: "CCO"}}, nil
	case "P2":
		return []candidate.Molecule{{ChemblID: "C2", SMILES: "CCN"}}, nil
	}
	return nil, nil
}

func (fakeBackend) Generate(_ context.Context, seed string, _ candidate.GenerationParams) ([]candidate.Molecule, error) {
	return []candidate.Molecule{{SMILES: seed + "C"}}, nil
}

type fakeDocker struct{ fail bool }

func (d fakeDocker) Dock(_ context.Context, req dockingapp.Request) dockingapp.Outcome {
	if d.fail {
		return dockingapp.Outcome{Stage: domainDock.StageDocking, StructureID: "1IR3",
			Err: errors.New(errors.CodeDockingFailed, "docking service returned 500")}
	}
	if len(req.Proteins) != 1 || len(req.Candidates) != 1 {
		return dockingapp.Outcome{Err: errors.New(errors.CodeSelectionIncomplete, "selection incomplete")}
	}
	return dockingapp.Outcome{
		Stage:       domainDock.StageDone,
		StructureID: "1IR3",
		Result: &domainDock.Result{
			Poses:       []domainDock.Pose{{Index: 0, Payload: json.RawMessage(`"m"`)}},
			Confidences: []float64{0.82},
			Status:      domainDock.StatusSuccess,
		},
	}
}

type fakeEvents struct {
	events []workflow.Event
	closed bool
}

func (f *fakeEvents) Run(ctx context.Context, handle kafka.EventHandler) error {
	for _, ev := range f.events {
		if ctx.Err() != nil {
			return nil
		}
		if err := handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeEvents) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	mu     sync.Mutex
	repo   *memory.SessionRepository
	cfg    func() *config.Config
	docker fakeDocker
	events *fakeEvents
	builds int
	group  string
}

func newHarness() *harness {
	return &harness{
		repo: memory.NewSessionRepository(),
		cfg: func() *config.Config {
			cfg := config.Default()
			cfg.Session.Backend = config.BackendMemory
			return cfg
		},
		events: &fakeEvents{},
	}
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		LoadConfig: func(string) (*config.Config, error) { return h.cfg(), nil },
		BuildContainer: func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app.Container, error) {
			h.mu.Lock()
			h.builds++
			h.mu.Unlock()
			b := fakeBackend{}
			return app.Build(ctx, cfg,
				app.WithLogger(testutil.NewMockLogger()),
				app.WithSessionRepository(h.repo),
				app.WithServices(app.Services{Diseases: b, Proteins: b, Candidates: b, Docking: h.docker}))
		},
		OpenEvents: func(_ config.KafkaConfig, groupID string, _ logging.Logger) (EventSource, error) {
			h.group = groupID
			return h.events, nil
		},
	}
}

func (h *harness) exec(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand(h.deps())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--no-color", "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand(DefaultDependencies())
	assert.Equal(t, "discovery", cmd.Use)
	assert.NotEmpty(t, cmd.Long)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"session", "run", "events", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	for _, flag := range []string{"config", "log-level", "output", "no-color", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
	assert.Equal(t, OutputText, cmd.PersistentFlags().Lookup("output").DefValue)
}

func TestVersion_DoesNotBuildContainer(t *testing.T) {
	h := newHarness()
	out, _, err := h.exec(t, "version", "-o", "json")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.Zero(t, h.builds)
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	h := newHarness()
	_, _, err := h.exec(t, "version", "-o", "yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	assert.Equal(t, 2, exitCode(err))
}

func TestRootCommand_ConfigError(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.LoadConfig = func(string) (*config.Config, error) { return nil, stderrors.New("bad yaml") }
	cmd := NewRootCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"session", "list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad yaml")
	assert.Equal(t, 1, exitCode(err))
}

func TestPrintError_IncludesCode(t *testing.T) {
	cmd := NewRootCommand(DefaultDependencies())
	var errOut bytes.Buffer
	cmd.SetErr(&errOut)

	PrintError(cmd, errors.SessionNotFound("s1"))
	assert.Contains(t, errOut.String(), "[SES_001]")

	errOut.Reset()
	PrintError(cmd, stderrors.New("plain"))
	assert.Equal(t, "Error: plain\n", errOut.String())

	errOut.Reset()
	PrintError(cmd, nil)
	assert.Empty(t, errOut.String())
}

func TestCommandContext_AppliesTimeout(t *testing.T) {
	cmd := NewRootCommand(DefaultDependencies())
	cmd.SetContext(context.Background())
	c := &CLIContext{Logger: testutil.NewMockLogger(), Timeout: time.Minute}

	ctx, cancel := commandContext(cmd, c)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	c.Timeout = 0
	ctx2, cancel2 := commandContext(cmd, c)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.False(t, ok)
}

func TestGetCLIContext_NotInitialized(t *testing.T) {
	cmd := NewRootCommand(DefaultDependencies())
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.True(t, errors.IsCode(err, errors.CodeInternal))
}
