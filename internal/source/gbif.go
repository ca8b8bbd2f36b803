package source

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/pkg/gbif"
)

const (
	gbifSpeciesURL = "https://www.gbif.org/species/"
	gbifPageSize   = 20
)

// GBIF adapts the GBIF species client. The secondary mode is the backbone
// matcher with alternatives.
type GBIF struct {
	api gbif.Client
	searcher
}

// NewGBIF wires a GBIF client to its limiter, retry policy and breaker.
func NewGBIF(api gbif.Client, cfg Config) *GBIF {
	return &GBIF{api: api, searcher: newSearcher(model.SourceGBIF, cfg)}
}

// Name implements Client.
func (g *GBIF) Name() model.Source { return model.SourceGBIF }

// Search implements Client.
func (g *GBIF) Search(ctx context.Context, q Query) Result {
	return g.search(ctx, q, g.exact, g.fuzzy)
}

func (g *GBIF) exact(ctx context.Context, name string) ([]model.Candidate, int, error) {
	page, status, err := g.api.Search(ctx, name, gbifPageSize)
	if err != nil {
		return nil, status, g.classify(ctx, status, err)
	}

	cands := make([]model.Candidate, 0, len(page.Results))
	for _, u := range page.Results {
		if u.Key == 0 {
			continue
		}
		cands = append(cands, usageCandidate(u))
	}
	return cands, status, nil
}

func (g *GBIF) fuzzy(ctx context.Context, name string) ([]model.Candidate, int, error) {
	m, status, err := g.api.Match(ctx, name)
	if err != nil {
		return nil, status, g.classify(ctx, status, err)
	}

	var cands []model.Candidate
	if m.Matched() {
		cands = append(cands, matchCandidate(*m))
	}
	for _, alt := range m.Alternatives {
		if alt.Matched() {
			cands = append(cands, matchCandidate(alt))
		}
	}
	return cands, status, nil
}

func (g *GBIF) classify(ctx context.Context, status int, err error) error {
	var decErr *gbif.DecodeError
	if errors.As(err, &decErr) {
		return &malformedError{err: err}
	}
	retryAfter := ""
	var apiErr *gbif.APIError
	if errors.As(err, &apiErr) {
		retryAfter = apiErr.RetryAfter
	}
	return classifyHTTP(ctx, status, retryAfter, err, g.cfg.Now())
}

func usageCandidate(u gbif.NameUsage) model.Candidate {
	id := strconv.FormatInt(u.Key, 10)
	c := model.Candidate{
		Source:     model.SourceGBIF,
		ExternalID: id,
		Name:       firstNonEmpty(u.CanonicalName, u.ScientificName),
		Authority:  strings.TrimSpace(u.Authorship),
		Rank:       strings.ToLower(u.Rank),
		Status:     strings.ToLower(u.TaxonomicStatus),
		URL:        gbifSpeciesURL + id,
		Hierarchy: model.Hierarchy{
			Kingdom: u.Kingdom,
			Phylum:  u.Phylum,
			Class:   u.Class,
			Order:   u.Order,
			Family:  u.Family,
			Genus:   u.Genus,
		},
	}
	if u.AcceptedKey != 0 {
		c.AcceptedID = strconv.FormatInt(u.AcceptedKey, 10)
		c.AcceptedName = u.Accepted
	}
	if len(u.ThreatStatuses) > 0 {
		c.ThreatStatus = u.ThreatStatuses[0]
	}
	return c
}

func matchCandidate(m gbif.Match) model.Candidate {
	id := strconv.FormatInt(m.UsageKey, 10)
	c := model.Candidate{
		Source:     model.SourceGBIF,
		ExternalID: id,
		Name:       firstNonEmpty(m.CanonicalName, m.ScientificName),
		Rank:       strings.ToLower(m.Rank),
		Status:     strings.ToLower(m.Status),
		URL:        gbifSpeciesURL + id,
		Hierarchy: model.Hierarchy{
			Kingdom: m.Kingdom,
			Phylum:  m.Phylum,
			Class:   m.Class,
			Order:   m.Order,
			Family:  m.Family,
			Genus:   m.Genus,
		},
	}
	if m.CanonicalName != "" && len(m.ScientificName) > len(m.CanonicalName) {
		c.Authority = strings.TrimSpace(strings.TrimPrefix(m.ScientificName, m.CanonicalName))
	}
	if m.Synonym && m.AcceptedUsageKey != 0 {
		c.AcceptedID = strconv.FormatInt(m.AcceptedUsageKey, 10)
	}
	return c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
