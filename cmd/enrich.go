package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxa-enrich/internal/classify"
	"github.com/sells-group/taxa-enrich/internal/config"
	"github.com/sells-group/taxa-enrich/internal/enrich"
	"github.com/sells-group/taxa-enrich/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Resolve pending names against the naming sources",
	Long: "Takes pending names from the store in descending reference order, queries WoRMS and/or GBIF " +
		"under the fallback policy, and writes the audit log and cache. --dry-run computes every decision " +
		"without writing anything.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeEnrich); err != nil {
			return err
		}

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		src, _ := cmd.Flags().GetString("source")
		if src == "" {
			src = cfg.Enrich.DefaultSource
		}
		pref, err := model.ParsePreference(src)
		if err != nil {
			return err
		}
		if batchSize <= 0 {
			batchSize = cfg.Enrich.BatchSize
		}

		classifier, err := classify.New(cfg.Classify.KeywordsFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := []enrich.Option{
			enrich.WithClassifier(classifier),
			enrich.WithMetrics(enrich.DefaultMetrics()),
			enrich.WithMaxConsecutiveWriteFailures(cfg.Enrich.MaxConsecutiveWriteFailures),
		}
		if dryRun {
			opts = append(opts, enrich.WithObserver(dryRunPrinter(os.Stdout)))
		}
		orch := enrich.New(st, initSources(cfg), opts...)

		stats, runErr := orch.Run(ctx, enrich.Options{
			BatchSize:  batchSize,
			Limit:      limit,
			DryRun:     dryRun,
			Preference: pref,
			Force:      force,
		})
		if stats != nil {
			formatSummary(os.Stdout, stats)
		}
		if runErr != nil {
			zap.L().Error("enrich run failed", zap.Error(runErr))
			return eris.Wrap(runErr, "enrich")
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().Int("batch-size", 0, "entities per progress batch (default from config)")
	enrichCmd.Flags().Int("limit", 0, "max entities to process (0 = all pending)")
	enrichCmd.Flags().Bool("dry-run", false, "compute decisions without writing the cache or audit log")
	enrichCmd.Flags().String("source", "", "source preference: auto, worms or gbif (default from config)")
	enrichCmd.Flags().Bool("force", false, "re-query sources that already resolved an entity")
	rootCmd.AddCommand(enrichCmd)
}

// dryRunPrinter prints one line per computed attempt.
func dryRunPrinter(out io.Writer) enrich.Observer {
	return enrich.ObserverFunc(func(rec *model.AuditRecord) {
		selected := "-"
		if rec.SelectedID != nil {
			selected = *rec.SelectedID
		}
		_, _ = fmt.Fprintf(out, "[dry-run] %s %q %s status=%d method=%s confidence=%.2f selected=%s review=%s\n",
			rec.EntityID, rec.Query, rec.Source, rec.Status, rec.Method, rec.Confidence, selected, reviewLabel(rec.NeedsReview, rec.ReviewReason))
	})
}

func reviewLabel(needs bool, reason model.ReviewReason) string {
	switch {
	case needs && reason != "":
		return string(reason)
	case needs:
		return "yes"
	case reason != "":
		return "no (" + string(reason) + ")"
	default:
		return "no"
	}
}

// formatSummary writes the run summary table to w.
func formatSummary(out io.Writer, stats *model.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if stats.DryRun {
		_, _ = fmt.Fprintln(w, "DRY RUN: no cache or audit rows were written")
	}
	for _, row := range enrich.Summary(stats) {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", row.Label, row.Value)
	}
	_ = w.Flush()
}
