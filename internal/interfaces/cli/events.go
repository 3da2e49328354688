package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

type eventsOptions struct {
	group string
	limit int
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the workflow event stream",
	}
	opts := &eventsOptions{}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print workflow events as they are published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsTail(cmd, opts)
		},
	}
	tail.Flags().StringVar(&opts.group, "group", "", "consumer group (default: read without committing offsets)")
	tail.Flags().IntVar(&opts.limit, "limit", 0, "stop after this many events (0 = until interrupted)")
	cmd.AddCommand(tail)
	return cmd
}

func runEventsTail(cmd *cobra.Command, opts *eventsOptions) error {
	if opts.limit < 0 {
		return errors.InvalidParam("--limit must not be negative")
	}
	c, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if !c.Config.Kafka.Enabled() {
		return errors.New(errors.CodeInvalidConfig, "kafka is not configured").WithDetail("set kafka.brokers and kafka.topic")
	}
	open := c.deps.OpenEvents
	if open == nil {
		open = DefaultDependencies().OpenEvents
	}
	src, err := open(c.Config.Kafka, opts.group, c.Logger)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := commandContext(cmd, c)
	defer cancel()

	out := cmd.OutOrStdout()
	seen := 0
	err = src.Run(ctx, func(_ context.Context, ev workflow.Event) error {
		if err := printEvent(out, c.OutputFormat, ev); err != nil {
			return err
		}
		seen++
		if opts.limit > 0 && seen >= opts.limit {
			cancel()
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Logger.Debug("events tail stopped", logging.Int("events", seen))
	return nil
}

func printEvent(w io.Writer, format string, ev workflow.Event) error {
	if format == OutputJSON {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	_, err := fmt.Fprintf(w, "%s  %-22s %s%s\n",
		ev.OccurredAt.Local().Format(time.RFC3339),
		color.CyanString(string(ev.Type)),
		ev.SessionID,
		formatPayload(ev.Payload))
	return err
}

func formatPayload(p map[string]interface{}) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return "  " + strings.Join(parts, " ")
}
