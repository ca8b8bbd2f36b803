package main

import (
	"net/http"
	"time"

	"github.com/sells-group/taxa-enrich/internal/config"
	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/ratelimit"
	"github.com/sells-group/taxa-enrich/internal/resilience"
	"github.com/sells-group/taxa-enrich/internal/source"
	"github.com/sells-group/taxa-enrich/pkg/gbif"
	"github.com/sells-group/taxa-enrich/pkg/worms"
)

// initSources wires each naming source with its own limiter, retry policy
// and circuit breaker.
func initSources(c *config.Config) *source.Registry {
	wormsAPI := worms.NewClient(
		worms.WithBaseURL(c.WoRMS.BaseURL),
		worms.WithHTTPClient(httpClient(c.WoRMS)),
		worms.WithUserAgent(c.WoRMS.UserAgent),
	)
	gbifAPI := gbif.NewClient(
		gbif.WithBaseURL(c.GBIF.BaseURL),
		gbif.WithHTTPClient(httpClient(c.GBIF)),
		gbif.WithUserAgent(c.GBIF.UserAgent),
	)

	return source.NewRegistry(
		source.NewWoRMS(wormsAPI, sourceConfig(model.SourceWoRMS, c.WoRMS)),
		source.NewGBIF(gbifAPI, sourceConfig(model.SourceGBIF, c.GBIF)),
	)
}

func httpClient(sc config.SourceConfig) *http.Client {
	timeout := time.Duration(sc.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func sourceConfig(name model.Source, sc config.SourceConfig) source.Config {
	return source.Config{
		Limiter: ratelimit.New(
			sc.Rate.MaxRequests,
			time.Duration(sc.Rate.WindowSeconds)*time.Second,
			ratelimit.WithName(string(name)),
		),
		Retry:   resilience.FromRetryConfig(sc.Retry.MaxAttempts, sc.Retry.InitialBackoffMs, sc.Retry.MaxBackoffMs),
		Breaker: resilience.NewCircuitBreaker(string(name), resilience.FromCircuitConfig(sc.Breaker.FailureThreshold, sc.Breaker.ResetTimeoutSecs)),
	}
}
