package model

import "time"

// AuditRecord is one immutable row per enrichment attempt, written whether
// or not the attempt produced a cache write.
type AuditRecord struct {
	ID             string       `json:"id"`
	RunID          string       `json:"run_id"`
	EntityID       string       `json:"entity_id"`
	Query          string       `json:"query"`
	Source         Source       `json:"source"`
	Status         int          `json:"status"` // 0 = no HTTP response
	LatencyMS      int64        `json:"latency_ms"`
	CandidateCount int          `json:"candidate_count"`
	SelectedID     *string      `json:"selected_id,omitempty"`
	Confidence     float64      `json:"confidence"`
	Method         MatchMethod  `json:"method"`
	NeedsReview    bool         `json:"needs_review"`
	ReviewReason   ReviewReason `json:"review_reason"`
	Error          *string      `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
