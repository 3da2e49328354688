// Package cli implements the discovery command-line front end. Commands are
// thin adapters over the engine built by internal/app.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/discovery-engine/internal/app"
	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	NoColor      bool
	Timeout      time.Duration
}

// EventSource streams workflow events, e.g. a Kafka subscriber.
type EventSource interface {
	Run(ctx context.Context, handle kafka.EventHandler) error
	Close() error
}

// Dependencies are the factories commands use to reach infrastructure.
// Tests replace them with in-memory versions.
type Dependencies struct {
	BuildContainer func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app.Container, error)
	OpenEvents     func(cfg config.KafkaConfig, groupID string, logger logging.Logger) (EventSource, error)
	LoadConfig     func(path string) (*config.Config, error)
}

// DefaultDependencies wires the real container and Kafka subscriber.
func DefaultDependencies() Dependencies {
	return Dependencies{
		BuildContainer: func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app.Container, error) {
			return app.Build(ctx, cfg, app.WithLogger(logger))
		},
		OpenEvents: func(cfg config.KafkaConfig, groupID string, logger logging.Logger) (EventSource, error) {
			return kafka.NewEventSubscriber(kafka.SubscriberConfig{
				Brokers: cfg.Brokers,
				Topic:   cfg.Topic,
				GroupID: groupID,
			}, logger)
		},
		LoadConfig: config.Load,
	}
}

// CLIContext carries initialized state through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	NoColor      bool
	Timeout      time.Duration

	deps      Dependencies
	container *app.Container
}

// Container builds the engine on first use. Commands that only print
// version information never touch the backend or the session store.
func (c *CLIContext) Container(ctx context.Context) (*app.Container, error) {
	if c.container != nil {
		return c.container, nil
	}
	ct, err := c.deps.BuildContainer(ctx, c.Config, c.Logger)
	if err != nil {
		return nil, err
	}
	c.container = ct
	return ct, nil
}

func (c *CLIContext) close() error {
	if c.container == nil {
		return nil
	}
	err := c.container.Close()
	c.container = nil
	return err
}

// NewRootCommand creates the root command with global flags and every
// subcommand.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &RootOptions{}
	var cliCtx *CLIContext

	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Drug-discovery workflow engine",
		Long: "discovery drives the four-stage drug-discovery workflow: pick a disease,\n" +
			"select target proteins, aggregate and generate candidate molecules, and\n" +
			"dock one candidate against one protein. Sessions are saved automatically.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := initContext(opts, deps)
			if err != nil {
				return err
			}
			cliCtx = c
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, c))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx == nil {
				return nil
			}
			_ = cliCtx.Logger.Sync()
			return cliCtx.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: DISCOVERY_* environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "overall timeout of one command")

	cmd.AddCommand(
		newSessionCmd(),
		newRunCmd(),
		newEventsCmd(),
		newVersionCmd(),
	)
	return cmd
}

func initContext(opts *RootOptions, deps Dependencies) (*CLIContext, error) {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputText, OutputJSON, OutputTable:
	default:
		return nil, errors.InvalidParam("unsupported output format").WithDetail(opts.OutputFormat)
	}

	load := deps.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Log.Level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	if opts.NoColor {
		color.NoColor = true
	}
	return &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		NoColor:      opts.NoColor,
		Timeout:      opts.Timeout,
		deps:         deps,
	}, nil
}

// GetCLIContext extracts the CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.CodeInternal, "command context is nil")
	}
	c, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || c == nil {
		return nil, errors.New(errors.CodeInternal, "CLI context not initialized")
	}
	return c, nil
}

// commandContext bounds a command by the --timeout flag.
func commandContext(cmd *cobra.Command, c *CLIContext) (context.Context, context.CancelFunc) {
	ctx := logging.WithContext(cmd.Context(), c.Logger)
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// Execute runs the CLI with the real dependencies.
func Execute() error {
	rootCmd := NewRootCommand(DefaultDependencies())
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	c, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd.OutOrStdout(), data)
	}
	switch c.OutputFormat {
	case OutputJSON:
		return printJSON(cmd.OutOrStdout(), data)
	case OutputTable:
		return printTable(cmd.OutOrStdout(), data)
	default:
		return printText(cmd.OutOrStdout(), data)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(w, v)
	case fmt.Stringer:
		fmt.Fprintln(w, v.String())
	case tableProvider:
		return printTable(w, v)
	default:
		fmt.Fprintf(w, "%+v\n", v)
	}
	return nil
}

func printTable(w io.Writer, data interface{}) error {
	tp, ok := data.(tableProvider)
	if !ok {
		return printText(w, data)
	}
	table := tablewriter.NewWriter(w)
	table.Header(tp.TableHeaders())
	for _, row := range tp.TableRows() {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintError writes a formatted error to stderr, with the error code when
// there is one.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	code := errors.GetCode(err)
	prefix := color.RedString("Error:")
	if code != errors.CodeOK && code != errors.CodeUnknown {
		prefix = color.RedString("Error [%s]:", code)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", prefix, err.Error())
}

// PrintSuccess writes a success line to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

// ─────────────────────────────────────────────────────────────────────────────
// version
// ─────────────────────────────────────────────────────────────────────────────

// BuildInfo holds version information injected at build time.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("discovery %s (commit %s, built %s)", b.Version, b.Commit, b.BuildDate)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, BuildInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.IsCode(err, errors.CodeInvalidParam) {
		return 2
	}
	return 1
}

// Main runs the CLI and exits the process with a status derived from the
// error.
func Main() {
	os.Exit(exitCode(Execute()))
}
