package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	"github.com/turtacn/discovery-engine/internal/application/discovery"
	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

type runOptions struct {
	disease  string
	proteins int
	generate bool
	dock     bool
	dockOn   string
	name     string
	count    int
}

// RunSummary is the output of `run`.
type RunSummary struct {
	SessionID   string                      `json:"session_id"`
	Name        string                      `json:"name"`
	Stage       string                      `json:"stage"`
	Disease     string                      `json:"disease"`
	Proteins    []string                    `json:"proteins"`
	Aggregation []aggregation.Result        `json:"aggregation"`
	Candidates  []candidate.Molecule        `json:"candidates"`
	Generation  *discovery.GenerationReport `json:"generation,omitempty"`
	Docking     *DockingSummary             `json:"docking,omitempty"`
}

// DockingSummary reports the docking step of a run.
type DockingSummary struct {
	Stage       string    `json:"stage"`
	StructureID string    `json:"structure_id,omitempty"`
	Protein     string    `json:"protein"`
	Candidate   string    `json:"candidate"`
	Confidences []float64 `json:"confidences,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (s RunSummary) TableHeaders() []string {
	return []string{"Key", "Name", "SMILES", "Source"}
}

func (s RunSummary) TableRows() [][]string {
	rows := make([][]string, 0, len(s.Candidates))
	for _, m := range s.Candidates {
		rows = append(rows, []string{m.IdentityKey, m.DisplayName(), m.SMILES, string(m.Source)})
	}
	return rows
}

func (s RunSummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session  %s (%s)\n", s.SessionID, s.Name)
	fmt.Fprintf(&sb, "Disease  %s\n", s.Disease)
	fmt.Fprintf(&sb, "Proteins %s\n", strings.Join(s.Proteins, ", "))
	for _, r := range s.Aggregation {
		status := color.GreenString(string(r.Status))
		if r.Status != aggregation.StatusSuccess {
			status = color.RedString(string(r.Status))
		}
		fmt.Fprintf(&sb, "  %-10s %-8s %d candidates", r.ProteinID, status, len(r.Candidates))
		if r.Message != "" {
			fmt.Fprintf(&sb, " (%s)", r.Message)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Candidates %d\n", len(s.Candidates))
	if g := s.Generation; g != nil {
		fmt.Fprintf(&sb, "Generated %d new molecules from %d seeds", len(g.Added), len(g.Seeds))
		if n := g.Failed(); n > 0 {
			fmt.Fprintf(&sb, ", %s", color.RedString("%d seeds failed", n))
		}
		sb.WriteString("\n")
	}
	if d := s.Docking; d != nil {
		if d.Error != "" {
			fmt.Fprintf(&sb, "Docking  %s at %s: %s\n", color.RedString("failed"), d.Stage, d.Error)
		} else {
			fmt.Fprintf(&sb, "Docking  %s %s against %s (%s), confidences %v\n",
				color.GreenString("done"), d.Candidate, d.Protein, d.StructureID, d.Confidences)
		}
	}
	fmt.Fprintf(&sb, "Stage    %s", s.Stage)
	return sb.String()
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a workflow run end to end",
		Long: "run picks the best disease match for --disease, selects the first\n" +
			"--proteins proteins, aggregates their candidates and saves the session.\n" +
			"--generate adds molecules generated from the top candidate; --dock docks\n" +
			"the top candidate against --dock-protein, the first selected protein by default.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.disease, "disease", "", "disease name or prefix (required)")
	f.IntVar(&opts.proteins, "proteins", 1, "number of proteins to select")
	f.BoolVar(&opts.generate, "generate", false, "generate molecules from the top candidate")
	f.IntVar(&opts.count, "count", 0, "molecules to generate (default from config)")
	f.BoolVar(&opts.dock, "dock", false, "dock the top candidate")
	f.StringVar(&opts.dockOn, "dock-protein", "", "selected protein id to dock against")
	f.StringVar(&opts.name, "name", "", "session name")
	_ = cmd.MarkFlagRequired("disease")
	return cmd
}

func runWorkflow(cmd *cobra.Command, opts *runOptions) error {
	if strings.TrimSpace(opts.disease) == "" {
		return errors.InvalidParam("--disease is required")
	}
	if opts.proteins < 1 {
		return errors.InvalidParam("--proteins must be at least 1")
	}
	if opts.dockOn != "" && !opts.dock {
		return errors.InvalidParam("--dock-protein needs --dock")
	}

	c, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ct, err := c.Container(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, c)
	defer cancel()
	engine := ct.Engine
	log := c.Logger.Named("run")

	diseases, err := engine.SuggestDiseases(ctx, opts.disease)
	if err != nil {
		return err
	}
	if len(diseases) == 0 {
		return errors.NotFound("no disease matches").WithDetail(opts.disease)
	}
	disease := diseases[0]

	run, err := engine.Start(ctx)
	if err != nil {
		return err
	}
	// Save moves the run to a new id, so close whatever id it ends with.
	defer func() { engine.Close(run.ID()) }()

	if err := run.SelectDisease(ctx, disease); err != nil {
		return err
	}
	if _, err := run.Next(ctx); err != nil {
		return err
	}
	proteins, err := run.LoadProteins(ctx)
	if err != nil {
		return err
	}
	if len(proteins) == 0 {
		return errors.NotFound("no proteins for disease").WithDetail(disease.Name)
	}
	n := opts.proteins
	if n > len(proteins) {
		n = len(proteins)
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = proteins[i].ID
	}
	if err := run.SelectProteins(ctx, ids); err != nil {
		return err
	}
	if _, err := run.Next(ctx); err != nil {
		return err
	}
	results, err := run.WaitForAggregation(ctx)
	if err != nil {
		return err
	}
	log.Info("aggregation finished", logging.SessionID(run.ID()), logging.Int("proteins", len(results)))

	summary := RunSummary{Disease: disease.Name, Proteins: ids, Aggregation: results}
	snap := run.Snapshot()

	if (opts.generate || opts.dock) && len(snap.Candidates) == 0 {
		return errors.NotFound("no candidates were found for the selected proteins")
	}
	var top string
	if len(snap.Candidates) > 0 {
		top = snap.Candidates[0].IdentityKey
	}

	if opts.generate {
		if err := run.SelectCandidate(ctx, top, true); err != nil {
			return err
		}
		report, err := run.Generate(ctx, []string{top}, candidate.GenerationParams{NumMolecules: opts.count})
		if err != nil && len(report.Seeds) == 0 {
			return err
		}
		summary.Generation = &report
		if err := run.SelectCandidate(ctx, top, false); err != nil {
			return err
		}
	}

	if opts.dock {
		if err := run.SelectCandidate(ctx, top, true); err != nil {
			return err
		}
		if _, err := run.Next(ctx); err != nil {
			return err
		}
		on := opts.dockOn
		if on == "" {
			on = ids[0]
		}
		if err := run.SelectDockingProtein(ctx, on); err != nil {
			return err
		}
		out := run.Dock(ctx)
		ds := &DockingSummary{Stage: string(out.Stage), StructureID: out.StructureID, Protein: on, Candidate: top}
		if out.Result != nil {
			ds.Confidences = out.Result.Confidences
		}
		if out.Err != nil {
			ds.Error = out.Err.Error()
		}
		summary.Docking = ds
	}

	saved, err := run.Save(ctx, opts.name)
	if err != nil {
		return err
	}
	final := run.Snapshot()
	summary.SessionID = saved.ID
	summary.Name = saved.DisplayName()
	summary.Stage = final.Stage.String()
	summary.Candidates = final.Candidates

	if err := PrintResult(cmd, summary); err != nil {
		return err
	}
	if summary.Docking != nil && summary.Docking.Error != "" {
		return errors.New(errors.CodeDockingFailed, "docking did not complete").WithDetail(summary.Docking.Error)
	}
	return nil
}
