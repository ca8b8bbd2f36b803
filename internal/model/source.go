package model

import "github.com/rotisserie/eris"

// Source identifies an external naming authority.
type Source string

const (
	// SourceWoRMS is the World Register of Marine Species.
	SourceWoRMS Source = "worms"
	// SourceGBIF is the GBIF backbone taxonomy.
	SourceGBIF Source = "gbif"
)

// Sources lists every known source in default fallback order.
var Sources = []Source{SourceWoRMS, SourceGBIF}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceWoRMS, SourceGBIF:
		return Source(s), nil
	default:
		return "", eris.Errorf("unknown source %q", s)
	}
}

// Preference selects which sources a run may query.
type Preference string

const (
	// PreferenceAuto applies the marine-first fallback policy.
	PreferenceAuto Preference = "auto"
	// PreferenceWoRMS forces WoRMS only.
	PreferenceWoRMS Preference = Preference(SourceWoRMS)
	// PreferenceGBIF forces GBIF only.
	PreferenceGBIF Preference = Preference(SourceGBIF)
)

// ParsePreference validates a --source flag value.
func ParsePreference(s string) (Preference, error) {
	switch Preference(s) {
	case "", PreferenceAuto:
		return PreferenceAuto, nil
	case PreferenceWoRMS, PreferenceGBIF:
		return Preference(s), nil
	default:
		return "", eris.Errorf("invalid source preference %q (want auto, worms or gbif)", s)
	}
}
