package source

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/pkg/worms"
)

const wormsTaxonURL = "https://www.marinespecies.org/aphia.php?p=taxdetails&id="

// WoRMS adapts the WoRMS REST client. The secondary mode is TAXAMATCH.
type WoRMS struct {
	api worms.Client
	searcher
}

// NewWoRMS wires a WoRMS client to its limiter, retry policy and breaker.
func NewWoRMS(api worms.Client, cfg Config) *WoRMS {
	return &WoRMS{api: api, searcher: newSearcher(model.SourceWoRMS, cfg)}
}

// Name implements Client.
func (w *WoRMS) Name() model.Source { return model.SourceWoRMS }

// Search implements Client.
func (w *WoRMS) Search(ctx context.Context, q Query) Result {
	return w.search(ctx, q, w.fetch(w.api.RecordsByName), w.fetch(w.api.MatchNames))
}

func (w *WoRMS) fetch(call func(context.Context, string) (*worms.Response, error)) fetchFunc {
	return func(ctx context.Context, name string) ([]model.Candidate, int, error) {
		resp, err := call(ctx, name)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if err != nil {
			var decErr *worms.DecodeError
			if errors.As(err, &decErr) {
				return nil, status, &malformedError{err: err}
			}
			var apiErr *worms.APIError
			retryAfter := ""
			if errors.As(err, &apiErr) {
				retryAfter = apiErr.RetryAfter
			}
			return nil, status, classifyHTTP(ctx, status, retryAfter, err, w.cfg.Now())
		}

		cands := make([]model.Candidate, 0, len(resp.Records))
		for _, rec := range resp.Records {
			if rec.AphiaID == 0 || rec.ScientificName == "" {
				continue
			}
			cands = append(cands, wormsCandidate(rec))
		}
		return cands, status, nil
	}
}

func wormsCandidate(rec worms.AphiaRecord) model.Candidate {
	c := model.Candidate{
		Source:     model.SourceWoRMS,
		ExternalID: strconv.Itoa(rec.AphiaID),
		Name:       rec.ScientificName,
		Authority:  rec.Authority,
		Rank:       strings.ToLower(rec.Rank),
		Status:     strings.ToLower(rec.Status),
		URL:        rec.URL,
		Hierarchy: model.Hierarchy{
			Kingdom: rec.Kingdom,
			Phylum:  rec.Phylum,
			Class:   rec.Class,
			Order:   rec.Order,
			Family:  rec.Family,
			Genus:   rec.Genus,
		},
		Habitat: model.HabitatFlags{
			Marine:      flag(rec.IsMarine),
			Brackish:    flag(rec.IsBrackish),
			Freshwater:  flag(rec.IsFreshwater),
			Terrestrial: flag(rec.IsTerrestrial),
			Extinct:     flag(rec.IsExtinct),
		},
	}
	if c.URL == "" {
		c.URL = wormsTaxonURL + c.ExternalID
	}
	if rec.ValidAphiaID != 0 {
		c.AcceptedID = strconv.Itoa(rec.ValidAphiaID)
		c.AcceptedName = rec.ValidName
	}
	return c
}

func flag(v *int) *bool {
	if v == nil {
		return nil
	}
	b := *v != 0
	return &b
}
