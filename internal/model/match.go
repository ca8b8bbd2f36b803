package model

// MatchMethod is the qualitative label attached to a confidence score.
type MatchMethod string

const (
	MethodExact          MatchMethod = "exact"
	MethodHighSimilarity MatchMethod = "high_similarity"
	MethodFuzzy          MatchMethod = "fuzzy"
	MethodGenusOnly      MatchMethod = "genus_only"
	MethodLowConfidence  MatchMethod = "low_confidence"
	MethodNoMatch        MatchMethod = "no_match"
	MethodAPIError       MatchMethod = "api_error"
)

// ReviewReason explains why a match was routed to manual review.
type ReviewReason string

const (
	ReasonNone          ReviewReason = ""
	ReasonFuzzyMatch    ReviewReason = "fuzzy_match"
	ReasonLowConfidence ReviewReason = "low_confidence"
	ReasonAmbiguous     ReviewReason = "ambiguous"
	ReasonNoMatch       ReviewReason = "no_match"
	ReasonAPIError      ReviewReason = "api_error"
)

// MatchResult is the outcome of selecting among candidates for one
// (entity, source) pair.
type MatchResult struct {
	Candidate      *ScoredCandidate `json:"candidate,omitempty"`
	Confidence     float64          `json:"confidence"`
	Method         MatchMethod      `json:"method"`
	NeedsReview    bool             `json:"needs_review"`
	ReviewReason   ReviewReason     `json:"review_reason"`
	CandidateCount int              `json:"candidate_count"`
}

// Selected reports whether a candidate was chosen.
func (m MatchResult) Selected() bool {
	return m.Candidate != nil
}

// Accepted reports whether the match can be taken without human review.
func (m MatchResult) Accepted() bool {
	return m.Candidate != nil && !m.NeedsReview
}

// Settled reports whether the match ends the fallback for this run: taken
// without review and naming a currently accepted taxon.
func (m MatchResult) Settled() bool {
	return m.Accepted() && m.Candidate.IsAccepted()
}
