// Package match picks the best scored candidate for a query and decides
// whether the pick needs manual review.
package match

import (
	"slices"

	"github.com/sells-group/taxa-enrich/internal/model"
)

const (
	// ReviewThreshold is the lowest confidence accepted without review.
	ReviewThreshold = 0.8
	// AmbiguityMargin is the top-two confidence gap below which a pick is
	// ambiguous.
	AmbiguityMargin = 0.1

	// epsilon absorbs float error so 1.0-0.9 counts as a full margin.
	epsilon = 1e-9
)

// Select ranks scored candidates by confidence (stable, descending) and
// returns the result for the best one. Only the top two candidates are
// compared for ambiguity.
func Select(scored []model.ScoredCandidate) model.MatchResult {
	if len(scored) == 0 {
		return NoMatch()
	}

	ranked := slices.Clone(scored)
	slices.SortStableFunc(ranked, func(a, b model.ScoredCandidate) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})

	top := ranked[0]
	res := model.MatchResult{
		Candidate:      &top,
		Confidence:     top.Confidence,
		Method:         top.Method,
		NeedsReview:    top.Confidence < ReviewThreshold,
		CandidateCount: len(ranked),
	}

	switch {
	case len(ranked) >= 2 && top.Confidence-ranked[1].Confidence < AmbiguityMargin-epsilon:
		res.NeedsReview = true
		res.ReviewReason = model.ReasonAmbiguous
	case res.NeedsReview:
		res.ReviewReason = model.ReasonLowConfidence
	case top.Method != model.MethodExact || top.MatchMode == model.MatchModeFuzzy:
		res.ReviewReason = model.ReasonFuzzyMatch
	default:
		res.ReviewReason = model.ReasonNone
	}
	return res
}

// NoMatch is the result for a successful search with zero candidates.
func NoMatch() model.MatchResult {
	return model.MatchResult{
		Confidence:   0,
		Method:       model.MethodNoMatch,
		NeedsReview:  true,
		ReviewReason: model.ReasonNoMatch,
	}
}

// Failed is the result recorded when the source failed terminally and no
// candidates could be scored.
func Failed() model.MatchResult {
	return model.MatchResult{
		Confidence:   0,
		Method:       model.MethodAPIError,
		NeedsReview:  true,
		ReviewReason: model.ReasonAPIError,
	}
}
