package model

import "strings"

// StatusAccepted is the taxonomic status of a currently accepted name.
const StatusAccepted = "accepted"

// MatchMode records which query mode of a source produced a candidate.
type MatchMode string

const (
	MatchModeExact MatchMode = "exact"
	MatchModeFuzzy MatchMode = "fuzzy"
)

// Hierarchy is the Linnaean classification of a candidate.
type Hierarchy struct {
	Kingdom string `json:"kingdom,omitempty"`
	Phylum  string `json:"phylum,omitempty"`
	Class   string `json:"class,omitempty"`
	Order   string `json:"order,omitempty"`
	Family  string `json:"family,omitempty"`
	Genus   string `json:"genus,omitempty"`
}

// HabitatFlags are the WoRMS environment flags. Nil means unknown.
type HabitatFlags struct {
	Marine      *bool `json:"marine,omitempty"`
	Brackish    *bool `json:"brackish,omitempty"`
	Freshwater  *bool `json:"freshwater,omitempty"`
	Terrestrial *bool `json:"terrestrial,omitempty"`
	Extinct     *bool `json:"extinct,omitempty"`
}

// Candidate is one raw match returned by a source for a query.
type Candidate struct {
	Source       Source       `json:"source"`
	ExternalID   string       `json:"external_id"`
	Name         string       `json:"name"`
	Authority    string       `json:"authority,omitempty"`
	Rank         string       `json:"rank,omitempty"`
	Status       string       `json:"status,omitempty"`
	URL          string       `json:"url,omitempty"`
	AcceptedID   string       `json:"accepted_id,omitempty"`
	AcceptedName string       `json:"accepted_name,omitempty"`
	Hierarchy    Hierarchy    `json:"hierarchy"`
	Habitat      HabitatFlags `json:"habitat"`
	ThreatStatus string       `json:"threat_status,omitempty"`
	MatchMode    MatchMode    `json:"match_mode"`
}

// IsAccepted reports whether the source lists the name as currently
// accepted rather than as a synonym or unaccepted name.
func (c Candidate) IsAccepted() bool {
	return strings.EqualFold(c.Status, StatusAccepted)
}

// ScoredCandidate is a candidate annotated with its confidence.
type ScoredCandidate struct {
	Candidate
	Confidence float64     `json:"confidence"`
	Method     MatchMethod `json:"method"`
}
