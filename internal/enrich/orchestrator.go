// Package enrich runs the enrichment loop: for each pending name it queries
// the planned sources, scores and selects a candidate, and records the
// outcome in the audit log and the cache.
package enrich

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/cache"
	"github.com/sells-group/taxa-enrich/internal/classify"
	"github.com/sells-group/taxa-enrich/internal/match"
	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/scorer"
	"github.com/sells-group/taxa-enrich/internal/source"
	"github.com/sells-group/taxa-enrich/internal/store"
)

// ErrStorageUnavailable aborts a run after too many persistence failures in
// a row.
var ErrStorageUnavailable = eris.New("enrich: storage unavailable")

// ErrNoSources is returned when a run has no configured source to query.
var ErrNoSources = eris.New("enrich: no source configured")

const (
	// DefaultBatchSize is the number of entities between progress logs.
	DefaultBatchSize = 40
	// DefaultMaxConsecutiveWriteFailures bounds back-to-back failed writes.
	DefaultMaxConsecutiveWriteFailures = 10
)

// Store is the subset of store.Store the orchestrator needs.
type Store interface {
	PendingEntities(ctx context.Context, filter store.PendingFilter) ([]model.Entity, error)
	cache.Writer
	audit.Appender
}

// Observer receives every audit record the run computes, including dry-run
// records that are never persisted.
type Observer interface {
	Attempt(rec *model.AuditRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec *model.AuditRecord)

// Attempt calls f(rec).
func (f ObserverFunc) Attempt(rec *model.AuditRecord) { f(rec) }

// Options control one run.
type Options struct {
	BatchSize  int
	Limit      int
	DryRun     bool
	Preference model.Preference
	Force      bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Preference == "" {
		o.Preference = model.PreferenceAuto
	}
	return o
}

// Orchestrator drives enrichment runs.
type Orchestrator struct {
	store       Store
	sources     *source.Registry
	classifier  classify.Classifier
	audit       *audit.Log
	cache       *cache.Cache
	metrics     *Metrics
	observer    Observer
	now         func() time.Time
	maxFailures int
	log         *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier sets the marine classifier used by the auto policy.
func WithClassifier(c classify.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver registers an observer for computed audit records.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMaxConsecutiveWriteFailures sets the abort threshold; n <= 0 keeps the
// default.
func WithMaxConsecutiveWriteFailures(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxFailures = n
		}
	}
}

// New creates an Orchestrator over st and the registered sources.
func New(st Store, sources *source.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		sources:     sources,
		classifier:  classify.NewKeywordClassifier(classify.DefaultKeywords()),
		now:         time.Now,
		maxFailures: DefaultMaxConsecutiveWriteFailures,
		log:         zap.L().With(zap.String("component", "enrich")),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.audit = audit.New(st)
	o.cache = cache.New(st)
	return o
}

// run is the state of one Run call.
type run struct {
	id          string
	opts        Options
	configured  []model.Source
	stats       *model.RunStats
	consecutive int
	log         *zap.Logger
}

// wrote records a persistence outcome and reports whether the failure
// threshold has been reached.
func (r *run) wrote(ok bool, limit int) bool {
	if ok {
		r.consecutive = 0
		return false
	}
	r.consecutive++
	return r.consecutive >= limit
}

// Run processes the pending feed once. The returned stats are populated even
// when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.RunStats, error) {
	opts = opts.withDefaults()
	start := o.now()
	id := uuid.NewString()
	r := &run{
		id:    id,
		opts:  opts,
		stats: model.NewRunStats(id, opts.DryRun),
	}
	r.log = o.log.With(zap.String("run_id", r.id), zap.Bool("dry_run", opts.DryRun))

	finish := func(err error) (*model.RunStats, error) {
		end := o.now()
		r.stats.Elapsed = end.Sub(start)
		o.metrics.RecordRunFinished(end)
		o.logSummary(r)
		return r.stats, err
	}

	r.configured = o.sources.List()
	if len(r.configured) == 0 {
		return finish(ErrNoSources)
	}
	if opts.Preference != model.PreferenceAuto && !slices.Contains(r.configured, model.Source(opts.Preference)) {
		return finish(eris.Wrapf(ErrNoSources, "enrich: %s", opts.Preference))
	}

	entities, err := o.store.PendingEntities(ctx, store.PendingFilter{
		Limit:           opts.Limit,
		IncludeResolved: opts.Force,
	})
	if err != nil {
		r.log.Error("enrich: load pending entities failed", zap.Error(err))
		return finish(eris.Wrap(err, "enrich: load pending entities"))
	}
	r.stats.Pending = len(entities)
	r.log.Info("enrich: starting run",
		zap.Int("pending", len(entities)),
		zap.String("source", string(opts.Preference)),
		zap.Bool("force", opts.Force),
		zap.Int("batch_size", opts.BatchSize),
	)

	for i := 0; i < len(entities); i += opts.BatchSize {
		batch := entities[i:min(i+opts.BatchSize, len(entities))]
		for _, e := range batch {
			if ctx.Err() != nil {
				r.stats.Interrupted = true
				r.log.Warn("enrich: run interrupted", zap.Int("processed", r.stats.Processed))
				return finish(nil)
			}
			// Once started, an entity finishes its writes even if the run
			// is cancelled.
			if abort := o.processEntity(context.WithoutCancel(ctx), r, e); abort {
				r.log.Error("enrich: aborting after consecutive write failures",
					zap.Int("failures", r.consecutive))
				return finish(ErrStorageUnavailable)
			}
		}
		r.log.Info("enrich: batch complete",
			zap.Int("batch", i/opts.BatchSize+1),
			zap.Int("done", i+len(batch)),
			zap.Int("total", len(entities)),
		)
	}
	return finish(nil)
}

// processEntity walks the plan for e. It reports whether the run must abort.
func (o *Orchestrator) processEntity(ctx context.Context, r *run, e model.Entity) bool {
	log := r.log.With(zap.String("entity", e.ID), zap.String("name", e.Name))

	plan := slices.DeleteFunc(Plan(e, r.opts.Preference, r.opts.Force, o.classifier), func(src model.Source) bool {
		return !slices.Contains(r.configured, src)
	})
	if len(plan) == 0 {
		r.stats.Skipped++
		o.metrics.RecordEntity("skipped")
		log.Debug("enrich: nothing to resolve")
		return false
	}
	r.stats.Processed++
	o.metrics.RecordEntity("processed")

	for _, src := range plan {
		client, err := o.sources.Get(src)
		if err != nil {
			log.Warn("enrich: source not configured", zap.String("source", string(src)))
			continue
		}

		res := client.Search(ctx, source.Query{Name: e.Name, Hints: e.Hints})
		r.stats.APICalls[src] += res.Calls

		var m model.MatchResult
		if res.Failed() {
			m = match.Failed()
		} else {
			m = match.Select(scorer.ScoreAll(e.Name, res.Candidates))
		}

		outcome := tally(r.stats, src, res, m)
		o.metrics.RecordAttempt(src, outcome, res.Calls, res.Latency, m)
		log.Info("enrich: attempt",
			zap.String("source", string(src)),
			zap.String("outcome", outcome),
			zap.Int("status", res.Status),
			zap.Int("candidates", m.CandidateCount),
			zap.Float64("confidence", m.Confidence),
			zap.String("method", string(m.Method)),
			zap.String("review_reason", string(m.ReviewReason)),
		)

		rec := audit.Build(r.id, e, src, res.Status, res.Latency, m, res.Err)
		audit.Stamp(rec, o.now)
		if !r.opts.DryRun {
			ok := o.audit.Append(ctx, rec)
			if !ok {
				r.stats.AuditFailures++
				o.metrics.RecordWriteFailure("audit")
			}
			if r.wrote(ok, o.maxFailures) {
				return true
			}
		}
		if o.observer != nil {
			o.observer.Attempt(rec)
		}

		if m.Selected() && !r.opts.DryRun {
			ok := o.writeCache(ctx, log, e, src, m)
			if ok {
				r.stats.CacheWrites++
			} else {
				r.stats.CacheWriteFailures++
				o.metrics.RecordWriteFailure("cache")
			}
			if r.wrote(ok, o.maxFailures) {
				return true
			}
		}

		if m.Settled() {
			break
		}
	}
	return false
}

func (o *Orchestrator) writeCache(ctx context.Context, log *zap.Logger, e model.Entity, src model.Source, m model.MatchResult) bool {
	fields, err := cache.FieldsFor(src, m, o.now())
	if err == nil {
		err = o.cache.Upsert(ctx, e.ID, src, fields)
	}
	if err != nil {
		log.Error("enrich: cache write failed", zap.String("source", string(src)), zap.Error(err))
		return false
	}
	return true
}

// tally updates stats for one attempt and returns its outcome label.
func tally(stats *model.RunStats, src model.Source, res source.Result, m model.MatchResult) string {
	switch {
	case res.Failed():
		stats.Failures++
		return OutcomeFailed
	case !m.Selected():
		stats.NoMatch++
		return OutcomeNoMatch
	case m.NeedsReview:
		stats.Successes[src]++
		stats.NeedsReview++
		return OutcomeNeedsReview
	default:
		stats.Successes[src]++
		return OutcomeAccepted
	}
}

func (o *Orchestrator) logSummary(r *run) {
	s := r.stats
	r.log.Info("enrich: run summary",
		zap.Int("pending", s.Pending),
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("successes_worms", s.Successes[model.SourceWoRMS]),
		zap.Int("successes_gbif", s.Successes[model.SourceGBIF]),
		zap.Int("failures", s.Failures),
		zap.Int("no_match", s.NoMatch),
		zap.Int("needs_review", s.NeedsReview),
		zap.Int("api_calls", s.TotalAPICalls()),
		zap.Int("cache_writes", s.CacheWrites),
		zap.Int("cache_write_failures", s.CacheWriteFailures),
		zap.Int("audit_failures", s.AuditFailures),
		zap.Bool("interrupted", s.Interrupted),
		zap.Duration("elapsed", s.Elapsed),
	)
}
