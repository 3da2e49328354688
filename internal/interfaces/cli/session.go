package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/discovery-engine/internal/application/session"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// SessionList is the output of `session list`.
type SessionList []session.Summary

func (l SessionList) TableHeaders() []string {
	return []string{"ID", "Name", "Disease", "Stage", "Proteins", "Candidates", "Docked", "Updated"}
}

func (l SessionList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{
			s.ID,
			s.Name,
			s.Disease,
			stageLabel(s.Stage),
			strconv.Itoa(s.Proteins),
			strconv.Itoa(s.Candidates),
			yesNo(s.Docked),
			s.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func (l SessionList) String() string {
	if len(l) == 0 {
		return "no saved sessions"
	}
	var sb strings.Builder
	for _, s := range l {
		fmt.Fprintf(&sb, "%s  %-24s %-12s %s\n", s.ID, s.Name, stageLabel(s.Stage), s.Disease)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SessionDetail is the output of `session show`.
type SessionDetail struct {
	*workflow.Session
}

func (d SessionDetail) String() string {
	s := d.Session
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session   %s\n", s.ID)
	fmt.Fprintf(&sb, "Name      %s\n", s.DisplayName())
	fmt.Fprintf(&sb, "Stage     %s\n", stageLabel(s.Stage))
	if s.Closed {
		sb.WriteString("Status    closed\n")
	}
	if s.RestoredFrom != "" {
		fmt.Fprintf(&sb, "From      %s\n", s.RestoredFrom)
	}
	if s.Disease != nil {
		fmt.Fprintf(&sb, "Disease   %s (%s)\n", s.Disease.Name, s.Disease.ID)
	}
	fmt.Fprintf(&sb, "Proteins  %d loaded, %d selected\n", len(s.Proteins), len(s.SelectedProteinRefs()))
	for _, p := range s.SelectedProteinRefs() {
		fmt.Fprintf(&sb, "  - %s %s\n", p.ID, p.Name)
	}
	fmt.Fprintf(&sb, "Candidates %d, %d selected\n", len(s.Candidates), len(s.SelectedCandidates()))
	for _, m := range s.SelectedCandidates() {
		fmt.Fprintf(&sb, "  - %s %s\n", m.IdentityKey, m.SMILES)
	}
	if r := s.DockingResult; r != nil {
		fmt.Fprintf(&sb, "Docking   %s, %d poses", r.Status, len(r.Poses))
		if r.StructureID != "" {
			fmt.Fprintf(&sb, " against %s", r.StructureID)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Updated   %s", s.UpdatedAt.Local().Format(time.DateTime))
	return sb.String()
}

func (d SessionDetail) TableHeaders() []string { return []string{"Field", "Value"} }

func (d SessionDetail) TableRows() [][]string {
	s := d.Session
	disease := ""
	if s.Disease != nil {
		disease = s.Disease.Name
	}
	return [][]string{
		{"ID", s.ID},
		{"Name", s.DisplayName()},
		{"Stage", stageLabel(s.Stage)},
		{"Disease", disease},
		{"Proteins", fmt.Sprintf("%d/%d", len(s.SelectedProteinRefs()), len(s.Proteins))},
		{"Candidates", fmt.Sprintf("%d/%d", len(s.SelectedCandidates()), len(s.Candidates))},
		{"Docked", yesNo(s.DockingResult != nil)},
	}
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage saved sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved sessions, newest first",
			Args:  cobra.NoArgs,
			RunE:  runSessionList,
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show one saved session",
			Args:  cobra.ExactArgs(1),
			RunE:  runSessionShow,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE:  runSessionDelete,
		},
		&cobra.Command{
			Use:   "rename <id> <name>",
			Short: "Rename a saved session",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runSessionRename,
		},
	)
	return cmd
}

func sessionStore(cmd *cobra.Command) (*CLIContext, *session.Store, error) {
	c, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	ct, err := c.Container(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return c, ct.Sessions, nil
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	c, store, err := sessionStore(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, c)
	defer cancel()

	sums, err := store.Summaries(ctx)
	if err != nil {
		return err
	}
	if sums == nil {
		sums = []session.Summary{}
	}
	return PrintResult(cmd, SessionList(sums))
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	c, store, err := sessionStore(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, c)
	defer cancel()

	s, err := store.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	if c.OutputFormat == OutputJSON {
		return PrintResult(cmd, s)
	}
	return PrintResult(cmd, SessionDetail{Session: s})
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	c, store, err := sessionStore(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, c)
	defer cancel()

	if err := store.Delete(ctx, args[0]); err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("session %s deleted", args[0]))
	return nil
}

func runSessionRename(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(strings.Join(args[1:], " "))
	if name == "" {
		return errors.InvalidParam("name is required")
	}
	c, store, err := sessionStore(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, c)
	defer cancel()

	s, err := store.Rename(ctx, args[0], name)
	if err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("session %s renamed to %q", s.ID, s.Name))
	return nil
}

func stageLabel(s workflow.Stage) string {
	name := s.String()
	switch s {
	case workflow.StageDiseaseSelection:
		return color.WhiteString(name)
	case workflow.StageProteinSelection:
		return color.CyanString(name)
	case workflow.StageMoleculeGeneration:
		return color.YellowString(name)
	case workflow.StageResultsAndDocking:
		return color.GreenString(name)
	}
	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
