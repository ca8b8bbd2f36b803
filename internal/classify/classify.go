// Package classify decides whether an entity belongs to the marine domain,
// which routes it to WoRMS before GBIF.
package classify

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Classifier reports whether an entity is likely marine.
type Classifier interface {
	IsMarine(e model.Entity) bool
}

// Func adapts a plain function to Classifier.
type Func func(e model.Entity) bool

// IsMarine implements Classifier.
func (f Func) IsMarine(e model.Entity) bool { return f(e) }

// Keywords is the lookup table behind KeywordClassifier.
type Keywords struct {
	// Habitat terms matched as whole words (or word runs) of any hint value.
	// A trailing "s" on the hint word is tolerated.
	Habitat []string `yaml:"habitat"`
	// NonMarine terms veto a match when found in the habitat hint.
	NonMarine []string `yaml:"non_marine"`
	// Groups are taxon names matched exactly against hint values
	// (kingdom, phylum, class, order, family).
	Groups []string `yaml:"groups"`
	// Genera are matched against the first token of the entity name.
	Genera []string `yaml:"genera"`
}

// DefaultKeywords returns the built-in marine table.
func DefaultKeywords() Keywords {
	return Keywords{
		Habitat: []string{
			"marine", "ocean", "oceanic", "sea", "seawater", "coastal", "reef", "benthic",
			"pelagic", "estuary", "estuarine", "estuaries", "brackish", "intertidal",
			"subtidal", "abyssal",
		},
		NonMarine: []string{"terrestrial", "freshwater", "limnic"},
		Groups: []string{
			"Chondrichthyes", "Elasmobranchii", "Cnidaria", "Anthozoa", "Scyphozoa",
			"Echinodermata", "Asteroidea", "Echinoidea", "Holothuroidea",
			"Porifera", "Ctenophora", "Cetacea", "Sirenia", "Pinnipedia",
			"Phaeophyceae", "Laminariales", "Fucales", "Rhodophyta",
			"Cephalopoda", "Polyplacophora", "Thaliacea", "Ascidiacea",
			"Scombridae", "Carcharhinidae", "Lamnidae", "Pomacentridae",
		},
		Genera: []string{
			"Thunnus", "Katsuwonus", "Sardinops", "Sardina", "Engraulis",
			"Ecklonia", "Macrocystis", "Durvillaea", "Posidonia", "Zostera",
			"Acropora", "Porites", "Carcharodon", "Orcinus", "Mytilus", "Crassostrea",
			"Haliotis", "Octopus", "Sepia", "Gadus",
		},
	}
}

// LoadKeywords reads a YAML keyword table. Sections left empty in the file
// keep the defaults.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, eris.Wrapf(err, "classify: read %s", path)
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, eris.Wrapf(err, "classify: parse %s", path)
	}

	def := DefaultKeywords()
	if len(kw.Habitat) == 0 {
		kw.Habitat = def.Habitat
	}
	if len(kw.NonMarine) == 0 {
		kw.NonMarine = def.NonMarine
	}
	if len(kw.Groups) == 0 {
		kw.Groups = def.Groups
	}
	if len(kw.Genera) == 0 {
		kw.Genera = def.Genera
	}
	return kw, nil
}

// KeywordClassifier is a static lookup over entity hints and genus.
type KeywordClassifier struct {
	habitat   [][]string
	nonMarine [][]string
	groups    map[string]bool
	genera    map[string]bool
}

// NewKeywordClassifier builds a classifier from a keyword table. All
// comparisons are case-insensitive.
func NewKeywordClassifier(kw Keywords) *KeywordClassifier {
	c := &KeywordClassifier{
		habitat:   tokenizeAll(kw.Habitat),
		nonMarine: tokenizeAll(kw.NonMarine),
		groups:    make(map[string]bool, len(kw.Groups)),
		genera:    make(map[string]bool, len(kw.Genera)),
	}
	for _, g := range kw.Groups {
		c.groups[strings.ToLower(g)] = true
	}
	for _, g := range kw.Genera {
		c.genera[strings.ToLower(g)] = true
	}
	return c
}

// New returns the classifier for a configured keywords file, or the
// default table when path is empty.
func New(path string) (*KeywordClassifier, error) {
	if path == "" {
		return NewKeywordClassifier(DefaultKeywords()), nil
	}
	kw, err := LoadKeywords(path)
	if err != nil {
		return nil, err
	}
	return NewKeywordClassifier(kw), nil
}

// IsMarine implements Classifier. An explicit non-marine habitat hint wins
// over every other signal.
func (c *KeywordClassifier) IsMarine(e model.Entity) bool {
	if v, ok := e.HintValue("habitat"); ok {
		words := tokenize(v)
		if hasAnyTerm(words, c.nonMarine) && !hasAnyTerm(words, c.habitat) {
			return false
		}
	}

	for _, h := range e.Hints {
		v := strings.ToLower(strings.TrimSpace(h.Value))
		if v == "" {
			continue
		}
		if c.groups[v] || hasAnyTerm(tokenize(v), c.habitat) {
			return true
		}
	}

	genus, _, _ := strings.Cut(strings.TrimSpace(e.Name), " ")
	return c.genera[strings.ToLower(genus)]
}

// tokenize lowercases s and splits it into letter runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) })
}

func tokenizeAll(in []string) [][]string {
	out := make([][]string, 0, len(in))
	for _, s := range in {
		if t := tokenize(s); len(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// hasAnyTerm reports whether any term appears in words as a consecutive run.
func hasAnyTerm(words []string, terms [][]string) bool {
	for _, term := range terms {
		for i := 0; i+len(term) <= len(words); i++ {
			if termAt(words[i:i+len(term)], term) {
				return true
			}
		}
	}
	return false
}

func termAt(words, term []string) bool {
	for j, t := range term {
		if words[j] != t && words[j] != t+"s" {
			return false
		}
	}
	return true
}
