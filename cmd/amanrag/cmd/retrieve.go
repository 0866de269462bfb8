package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newRetrieveCmd(a *app) *cobra.Command {
	var (
		limit  int
		noWeb  bool
		format string
	)

	cmd := &cobra.Command{
		Use:     "retrieve <query>",
		Aliases: []string{"r"},
		Short:   "Retrieve fused evidence for a question",
		Long: `Query the local index and web search concurrently and print one ranked,
deduplicated evidence list. A failing path degrades the result with a
warning; the command fails only when no path produced evidence.`,
		Example: `  amanrag retrieve "how do arctic foxes survive winter"
  amanrag retrieve --no-web --limit 5 "fox diet"
  amanrag retrieve --format json "fox diet" | jq '.chunks[].metadata.url'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return amerrors.ValidationError(err.Error(), nil)
			}
			q := strings.Join(args, " ")
			return runRetrieve(cmd, a, q, limit, noWeb, f)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Search the local index only")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func runRetrieve(cmd *cobra.Command, a *app, query string, limit int, noWeb bool, format output.Format) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("limit") {
		limit = cfg.Retrieval.DefaultLimit
	}
	includeWeb := cfg.Retrieval.IncludeWeb && !noWeb
	if noWeb {
		// Skip building the web clients entirely.
		cfg.Retrieval.IncludeWeb = false
	}

	var opts []retrieve.Option
	metricsStore, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.Index.DataDir, telemetry.MetricsFile))
	if err != nil {
		a.logger.Warn("telemetry_unavailable", amerrors.LogAttrs(err)...)
	} else {
		metrics := telemetry.NewMetrics(metricsStore)
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

	res, err := r.Retrieve(ctx, retrieve.Query{Text: query, Limit: limit, IncludeWeb: includeWeb})
	if err != nil {
		return err
	}
	return output.New(cmd.OutOrStdout()).Result(res, format)
}
