package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/archive"
)

func newRollupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Roll up daily visitor and interaction stats",
		Long:  "Roll up one UTC day (default yesterday), or every day from --date through --through.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dateFlag, _ := cmd.Flags().GetString("date")
			throughFlag, _ := cmd.Flags().GetString("through")

			from, err := parseDay(dateFlag, time.Now())
			if err != nil {
				return err
			}
			to := from
			if throughFlag != "" {
				if to, err = parseDay(throughFlag, time.Now()); err != nil {
					return err
				}
				if to.Before(from) {
					return fmt.Errorf("--through must not be before --date")
				}
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.shutdown.Shutdown()

			ctx := cmd.Context()
			cm, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}

			start := time.Now()
			err = analytics.NewAggregator(cm.Primary()).RollupRange(ctx, from, to)
			a.metrics.ObserveJob("rollup", start, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled up %s through %s\n", from.Format(DateLayout), to.Format(DateLayout))
			return nil
		},
	}
	cmd.Flags().String("date", "", "first day to roll up, YYYY-MM-DD (default yesterday UTC)")
	cmd.Flags().String("through", "", "last day to roll up, YYYY-MM-DD (default --date)")
	return cmd
}

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export one day of events to S3 as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dateFlag, _ := cmd.Flags().GetString("date")
			day, err := parseDay(dateFlag, time.Now())
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.shutdown.Shutdown()

			ctx := cmd.Context()
			s3, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			cm, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}

			repo := analytics.NewRepository(cm, a.metrics)
			start := time.Now()
			results, err := archive.NewExporter(repo, s3, a.cfg.Archive.Prefix, a.logger, a.metrics).ExportDay(ctx, day)
			a.metrics.ObserveJob("archive", start, err)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().String("date", "", "day to export, YYYY-MM-DD (default yesterday UTC)")
	return cmd
}

// Summary kinds
const (
	KindVisitors     = "visitors"
	KindInteractions = "interactions"
)

func newSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print a dashboard summary as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			days, _ := cmd.Flags().GetInt("days")
			if kind != KindVisitors && kind != KindInteractions {
				return fmt.Errorf("--kind must be %s or %s", KindVisitors, KindInteractions)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.shutdown.Shutdown()

			ctx := cmd.Context()
			cm, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = a.cfg.Analytics.VisitorDays
				if kind == KindInteractions {
					days = a.cfg.Analytics.InteractionDays
				}
			}

			// one-shot read, no cache
			service := analytics.NewService(analytics.NewRepository(cm, a.metrics), analytics.ServiceConfig{}, a.metrics)
			return printSummary(ctx, cmd.OutOrStdout(), service, kind, days)
		},
	}
	cmd.Flags().String("kind", KindVisitors, "summary kind: visitors or interactions")
	cmd.Flags().Int("days", 0, "window in days (default 30 for visitors, 7 for interactions)")
	return cmd
}

type summarizer interface {
	VisitorSummary(ctx context.Context, days int) (analytics.VisitorSummary, error)
	InteractionSummary(ctx context.Context, days int) (analytics.InteractionSummary, error)
}

func printSummary(ctx context.Context, w io.Writer, s summarizer, kind string, days int) error {
	var (
		summary interface{}
		err     error
	)
	switch kind {
	case KindVisitors:
		summary, err = s.VisitorSummary(ctx, days)
	case KindInteractions:
		summary, err = s.InteractionSummary(ctx, days)
	default:
		return fmt.Errorf("unknown summary kind %q", kind)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, summary)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
