package model

import "strings"

// Hint is one attribute carried over from a prior partial resolution,
// e.g. {Key: "rank", Value: "Species"}.
type Hint struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entity is a locally recorded name pending resolution. The engine never
// creates or mutates entities.
type Entity struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Hints    []Hint          `json:"hints,omitempty"`
	Priority int             `json:"priority"`
	Resolved map[Source]bool `json:"resolved,omitempty"`
}

// HintValue returns the first hint value for key (case-insensitive key match).
func (e Entity) HintValue(key string) (string, bool) {
	for _, h := range e.Hints {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// ResolvedBy reports whether src already resolved this entity in a prior run.
func (e Entity) ResolvedBy(src Source) bool {
	return e.Resolved[src]
}
