// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	debug   bool
	dir     string
	logger  *slog.Logger
	cleanup func()
}

// loadConfig loads the configuration for the project directory and
// applies its log level to the stderr logger.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.dir)
	if err != nil {
		return nil, amerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Run 'amanrag config' to see the effective settings")
	}
	if !a.debug {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.LogLevel
		if logger, _, err := logging.Setup(logCfg); err == nil {
			a.logger = logger
			slog.SetDefault(logger)
		}
	}
	return cfg, nil
}

// NewRootCmd creates the root command for amanrag CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid evidence retrieval over local documents and the web",
		Long: `amanrag retrieves evidence for a question from a local vector index
of your documents and from live web search, then fuses both into one
ranked, deduplicated list.

Index a directory first with 'amanrag index <dir>', then ask with
'amanrag retrieve "<question>"'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.start,
		PersistentPostRun: func(*cobra.Command, []string) { a.stop() },
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "Project directory holding .amanrag.yaml")

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newRetrieveCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start sets up logging: a JSON log file with --debug, stderr otherwise.
func (a *app) start(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	if a.debug {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger, a.cleanup = logger, cleanup
	slog.SetDefault(logger)
	if a.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func (a *app) stop() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	a.stop()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err, a.debug))
	}
	return err
}
