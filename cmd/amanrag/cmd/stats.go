package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		days   int
		format string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show retrieval statistics",
		Long: `Show how retrieval has been performing: query counts, zero-result
queries, latency buckets and how often each path degraded.`,
		Example: `  amanrag stats
  amanrag stats --days 7 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return amerrors.ValidationError(err.Error(), nil)
			}
			if days < 1 {
				return amerrors.ValidationError("--days must be at least 1", nil)
			}
			return runStats(cmd, a, days, f, time.Now())
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Number of days to summarise, including today")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func runStats(cmd *cobra.Command, a *app, days int, format output.Format, now time.Time) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	st, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.Index.DataDir, telemetry.MetricsFile))
	if err != nil {
		return amerrors.IOError("failed to open telemetry database", err)
	}
	defer func() { _ = st.Close() }()

	from := now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly)
	snap, err := st.Summary(from, now.Format(time.DateOnly))
	if err != nil {
		return amerrors.IOError("failed to read telemetry", err)
	}
	return output.New(cmd.OutOrStdout()).Stats(snap, format)
}
