package source

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/resilience"
)

// Config holds the collaborators shared by every source adapter.
type Config struct {
	Limiter Limiter
	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
	// Now is the clock used for latency, for tests.
	Now func() time.Time
}

// fetchFunc performs one request. Errors must already be classified:
// *resilience.TransientError to retry, *malformedError for bad bodies,
// anything else is terminal.
type fetchFunc func(ctx context.Context, name string) ([]model.Candidate, int, error)

// malformedError marks an undecodable response.
type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// classifyHTTP maps a request outcome to the retry taxonomy. Transport
// failures (no status) and transient statuses become retryable.
func classifyHTTP(ctx context.Context, status int, retryAfter string, err error, now time.Time) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if status == 0 || resilience.IsTransientHTTPStatus(status) {
		return &resilience.TransientError{
			Err:        err,
			StatusCode: status,
			RetryAfter: resilience.ParseRetryAfter(retryAfter, now),
		}
	}
	return err
}

// retryable only trusts errors the adapters classified as transient.
func retryable(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te)
}

// searcher runs the exact query, then the fuzzy query when the exact one
// succeeds with nothing, all through the limiter, retry and breaker.
type searcher struct {
	name model.Source
	cfg  Config
	log  *zap.Logger
}

func newSearcher(name model.Source, cfg Config) searcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retryable
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(string(name), "search")
	}
	return searcher{
		name: name,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "source"), zap.String("source", string(name))),
	}
}

func (s searcher) search(ctx context.Context, q Query, exact, fuzzy fetchFunc) Result {
	start := s.cfg.Now()

	if s.cfg.Breaker != nil {
		if err := s.cfg.Breaker.Allow(); err != nil {
			s.log.Warn("search rejected", zap.String("query", q.Name), zap.Error(err))
			return Result{Err: err, Kind: KindTerminal, Mode: model.MatchModeExact}
		}
	}

	res := s.run(ctx, q.Name, model.MatchModeExact, exact)
	if !res.Failed() && len(res.Candidates) == 0 && fuzzy != nil {
		calls := res.Calls
		res = s.run(ctx, q.Name, model.MatchModeFuzzy, fuzzy)
		res.Calls += calls
	}
	res.Latency = s.cfg.Now().Sub(start)

	if s.cfg.Breaker != nil {
		s.cfg.Breaker.Record(res.Kind == KindTransient || res.Kind == KindMalformed)
	}
	return res
}

func (s searcher) run(ctx context.Context, name string, mode model.MatchMode, fetch fetchFunc) Result {
	var lastStatus, calls int
	cands, attempts, err := resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) ([]model.Candidate, error) {
		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}
		calls++
		cands, status, err := fetch(ctx, name)
		lastStatus = status
		return cands, err
	})

	res := Result{Status: lastStatus, Calls: calls, Mode: mode, Err: err}
	if err == nil {
		for i := range cands {
			cands[i].Source = s.name
			cands[i].MatchMode = mode
		}
		res.Candidates = cands
		return res
	}

	var te *resilience.TransientError
	var me *malformedError
	switch {
	case errors.As(err, &me):
		res.Kind = KindMalformed
		s.log.Warn("malformed response", zap.String("query", name), zap.String("mode", string(mode)),
			zap.Int("status", lastStatus), zap.Error(err))
	case errors.As(err, &te):
		res.Kind = KindTransient
		s.log.Warn("retries exhausted", zap.String("query", name), zap.String("mode", string(mode)),
			zap.Int("status", lastStatus), zap.Int("attempts", attempts), zap.Error(err))
	default:
		res.Kind = KindTerminal
		s.log.Warn("search failed", zap.String("query", name), zap.String("mode", string(mode)),
			zap.Int("status", lastStatus), zap.Error(err))
	}
	return res
}
