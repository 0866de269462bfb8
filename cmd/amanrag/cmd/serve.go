package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval to AI clients over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout. Clients get a
'retrieve' tool that returns fused evidence, an 'index_status' tool and a
retrieval_metrics resource. Logs go to stderr.`,
		Example: `  # Register with an MCP client
  {"command": "amanrag", "args": ["serve", "--dir", "/path/to/project"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, a)
		},
	}
}

func runServe(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	var (
		opts    []retrieve.Option
		metrics *telemetry.Metrics
	)
	metricsStore, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.Index.DataDir, telemetry.MetricsFile))
	if err != nil {
		a.logger.Warn("telemetry_unavailable", amerrors.LogAttrs(err)...)
	} else {
		metrics = telemetry.NewMetrics(metricsStore)
		defer func() {
			if err := metrics.Close(); err != nil {
				a.logger.Warn("telemetry_flush_failed", amerrors.LogAttrs(err)...)
			}
		}()
		opts = append(opts, retrieve.WithMetrics(metrics))
	}

	r, err := retrieve.NewFromConfig(ctx, cfg, a.logger, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	srv, err := mcp.NewServer(r, cfg)
	if err != nil {
		return err
	}
	srv.SetLogger(a.logger)
	if metrics != nil {
		srv.SetMetrics(metrics)
	}
	return srv.Serve(ctx)
}
