package model

import "time"

// RunStats aggregates the outcome of one orchestrator run.
type RunStats struct {
	RunID              string         `json:"run_id"`
	DryRun             bool           `json:"dry_run"`
	Pending            int            `json:"pending"`
	Processed          int            `json:"processed"`
	Skipped            int            `json:"skipped"`
	Successes          map[Source]int `json:"successes"`
	Failures           int            `json:"failures"`
	NoMatch            int            `json:"no_match"`
	NeedsReview        int            `json:"needs_review"`
	APICalls           map[Source]int `json:"api_calls"`
	CacheWrites        int            `json:"cache_writes"`
	CacheWriteFailures int            `json:"cache_write_failures"`
	AuditFailures      int            `json:"audit_failures"`
	Interrupted        bool           `json:"interrupted"`
	Elapsed            time.Duration  `json:"elapsed"`
}

// NewRunStats returns zeroed stats with initialized maps.
func NewRunStats(runID string, dryRun bool) *RunStats {
	return &RunStats{
		RunID:     runID,
		DryRun:    dryRun,
		Successes: make(map[Source]int),
		APICalls:  make(map[Source]int),
	}
}

// TotalSuccesses sums successes across sources.
func (s *RunStats) TotalSuccesses() int {
	n := 0
	for _, v := range s.Successes {
		n += v
	}
	return n
}

// TotalAPICalls sums outbound requests across sources.
func (s *RunStats) TotalAPICalls() int {
	n := 0
	for _, v := range s.APICalls {
		n += v
	}
	return n
}
