// Package scorer assigns a confidence and match method to a candidate name
// returned by a naming source. It performs no I/O.
package scorer

import (
	"github.com/adrg/strutil/metrics"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Confidence values per match method.
const (
	ConfidenceExact          = 1.0
	ConfidenceHighSimilarity = 0.9
	ConfidenceFuzzy          = 0.7
	ConfidenceGenusOnly      = 0.5
	ConfidenceLow            = 0.3
)

// Similarity thresholds on the Jaro ratio of the normalized names.
const (
	HighSimilarityThreshold = 0.95
	FuzzyThreshold          = 0.8
)

var jaro = metrics.NewJaro()

// Similarity returns the Jaro similarity of two names after normalization,
// in [0,1]. It is symmetric.
func Similarity(a, b string) float64 {
	return similarity(Normalize(a), Normalize(b))
}

func similarity(na, nb string) float64 {
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return jaro.Compare(na, nb)
}

// Score rates candidateName against query. Rules apply in order and the
// first that fires wins: exact, similarity bands, shared genus, fallback.
func Score(query, candidateName string) (float64, model.MatchMethod) {
	nq, nc := Normalize(query), Normalize(candidateName)
	if nq == "" || nc == "" {
		return ConfidenceLow, model.MethodLowConfidence
	}

	if nq == nc {
		return ConfidenceExact, model.MethodExact
	}

	ratio := similarity(nq, nc)
	switch {
	case ratio >= HighSimilarityThreshold:
		return ConfidenceHighSimilarity, model.MethodHighSimilarity
	case ratio >= FuzzyThreshold:
		return ConfidenceFuzzy, model.MethodFuzzy
	}

	if Genus(nq) == Genus(nc) {
		return ConfidenceGenusOnly, model.MethodGenusOnly
	}
	return ConfidenceLow, model.MethodLowConfidence
}

// ScoreAll scores every candidate against query, preserving input order.
func ScoreAll(query string, candidates []model.Candidate) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		conf, method := Score(query, c.Name)
		out[i] = model.ScoredCandidate{Candidate: c, Confidence: conf, Method: method}
	}
	return out
}
