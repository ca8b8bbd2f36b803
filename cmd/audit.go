package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the enrichment audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit rows, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := auditFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListAudit(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "audit list")
		}
		if len(recs) == 0 {
			fmt.Println("No audit rows found.")
			return nil
		}
		formatAuditList(os.Stdout, recs)
		return nil
	},
}

func init() {
	addAuditFlags(auditListCmd)
	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}

func addAuditFlags(c *cobra.Command) {
	c.Flags().String("run", "", "filter by run ID")
	c.Flags().String("entity", "", "filter by entity ID")
	c.Flags().String("source", "", "filter by source (worms or gbif)")
	c.Flags().String("since", "", "only rows at or after this time (RFC 3339 or YYYY-MM-DD)")
	c.Flags().String("until", "", "only rows before this time (RFC 3339 or YYYY-MM-DD)")
	c.Flags().Int("limit", 100, "max rows to return")
}

func auditFilterFromFlags(cmd *cobra.Command) (audit.Filter, error) {
	var f audit.Filter
	f.RunID, _ = cmd.Flags().GetString("run")
	f.EntityID, _ = cmd.Flags().GetString("entity")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	if s, _ := cmd.Flags().GetString("source"); s != "" {
		src, err := model.ParseSource(s)
		if err != nil {
			return f, err
		}
		f.Source = src
	}

	var err error
	since, _ := cmd.Flags().GetString("since")
	if f.Since, err = parseTimeFlag("since", since); err != nil {
		return f, err
	}
	until, _ := cmd.Flags().GetString("until")
	if f.Until, err = parseTimeFlag("until", until); err != nil {
		return f, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Until.After(f.Since) {
		return f, eris.New("--until must be after --since")
	}
	return f, nil
}

// parseTimeFlag accepts RFC 3339 or a bare UTC date. Empty means unset.
func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid --%s %q: want RFC 3339 or YYYY-MM-DD", name, v)
	}
	return t, nil
}

func formatAuditList(out io.Writer, recs []model.AuditRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tRUN\tENTITY\tSOURCE\tSTATUS\tMS\tCANDS\tSELECTED\tCONF\tMETHOD\tREVIEW\tERROR")
	_, _ = fmt.Fprintln(w, "----\t---\t------\t------\t------\t--\t-----\t--------\t----\t------\t------\t-----")
	for _, r := range recs {
		runID := r.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		errMsg := deref(r.Error)
		if len(errMsg) > 40 {
			errMsg = errMsg[:40] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%.2f\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			runID,
			r.EntityID,
			r.Source,
			r.Status,
			r.LatencyMS,
			r.CandidateCount,
			dash(deref(r.SelectedID)),
			r.Confidence,
			dash(string(r.Method)),
			reviewLabel(r.NeedsReview, r.ReviewReason),
			dash(errMsg),
		)
	}
	_ = w.Flush()
}
