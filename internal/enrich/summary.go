package enrich

import (
	"strconv"
	"time"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// SummaryRow is one label/value line of a run summary.
type SummaryRow struct {
	Label string
	Value string
}

// Summary renders stats as ordered rows for tabular output.
func Summary(s *model.RunStats) []SummaryRow {
	itoa := strconv.Itoa
	rows := []SummaryRow{
		{"Run", s.RunID},
		{"Pending", itoa(s.Pending)},
		{"Processed", itoa(s.Processed)},
		{"Skipped", itoa(s.Skipped)},
	}
	for _, src := range model.Sources {
		rows = append(rows, SummaryRow{"Successes (" + string(src) + ")", itoa(s.Successes[src])})
	}
	rows = append(rows,
		SummaryRow{"Failures", itoa(s.Failures)},
		SummaryRow{"No match", itoa(s.NoMatch)},
		SummaryRow{"Needs review", itoa(s.NeedsReview)},
	)
	for _, src := range model.Sources {
		rows = append(rows, SummaryRow{"API calls (" + string(src) + ")", itoa(s.APICalls[src])})
	}
	if !s.DryRun {
		rows = append(rows,
			SummaryRow{"Cache writes", itoa(s.CacheWrites)},
			SummaryRow{"Cache write failures", itoa(s.CacheWriteFailures)},
			SummaryRow{"Audit failures", itoa(s.AuditFailures)},
		)
	}
	if s.Interrupted {
		rows = append(rows, SummaryRow{"Interrupted", "yes"})
	}
	rows = append(rows, SummaryRow{"Elapsed", s.Elapsed.Round(time.Millisecond).String()})
	return rows
}
