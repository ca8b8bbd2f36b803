// Package audit records one immutable row per enrichment attempt.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	RunID    string
	EntityID string
	Source   model.Source
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Appender is the store's append-only primitive.
type Appender interface {
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
}

// Log appends audit records without ever failing the caller. Write errors
// are logged and counted.
type Log struct {
	store    Appender
	now      func() time.Time
	failures atomic.Int64
	log      *zap.Logger
}

// New creates a Log over store.
func New(store Appender) *Log {
	return &Log{
		store: store,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "audit")),
	}
}

// Append stamps and writes rec. It reports whether the write succeeded.
func (l *Log) Append(ctx context.Context, rec *model.AuditRecord) bool {
	Stamp(rec, l.now)
	if err := l.store.AppendAudit(ctx, rec); err != nil {
		l.failures.Add(1)
		l.log.Error("audit append failed",
			zap.String("entity", rec.EntityID),
			zap.String("source", string(rec.Source)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Failures returns the number of failed appends.
func (l *Log) Failures() int64 {
	return l.failures.Load()
}

// Stamp fills the id and creation time if they are unset.
func Stamp(rec *model.AuditRecord, now func() time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now().UTC()
	}
}

// Build assembles the audit record for one (entity, source) attempt.
func Build(runID string, e model.Entity, src model.Source, status int, latency time.Duration, m model.MatchResult, err error) *model.AuditRecord {
	rec := &model.AuditRecord{
		RunID:          runID,
		EntityID:       e.ID,
		Query:          e.Name,
		Source:         src,
		Status:         status,
		LatencyMS:      latency.Milliseconds(),
		CandidateCount: m.CandidateCount,
		Confidence:     m.Confidence,
		Method:         m.Method,
		NeedsReview:    m.NeedsReview,
		ReviewReason:   m.ReviewReason,
	}
	if m.Candidate != nil {
		id := m.Candidate.ExternalID
		rec.SelectedID = &id
	}
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	}
	return rec
}
