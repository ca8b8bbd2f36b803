// Package source turns a name query into raw candidates from one naming
// authority, handling rate limiting, retries and the secondary fuzzy mode.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Kind classifies the outcome of a search.
type Kind int

const (
	// KindNone is a successful search, possibly with zero candidates.
	KindNone Kind = iota
	// KindTransient means retries were exhausted on transient failures.
	KindTransient
	// KindTerminal is a non-retryable failure (4xx, open circuit, cancel).
	KindTerminal
	// KindMalformed means the source replied with an undecodable body.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Query is a name to resolve plus optional hints.
type Query struct {
	Name  string
	Hints []model.Hint
}

// Result is the outcome of one Search. Status is the last HTTP status seen,
// 0 when no response was received. Calls counts every outbound request.
type Result struct {
	Candidates []model.Candidate
	Status     int
	Latency    time.Duration
	Calls      int
	Mode       model.MatchMode
	Err        error
	Kind       Kind
}

// Failed reports whether the search failed rather than completing.
func (r Result) Failed() bool {
	return r.Kind != KindNone
}

// Client searches one naming authority.
type Client interface {
	Name() model.Source
	Search(ctx context.Context, q Query) Result
}

// Limiter gates every outbound request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ErrUnknownSource is returned by Registry.Get for an unregistered source.
var ErrUnknownSource = errors.New("source: not registered")

// Registry holds the configured clients by source.
type Registry struct {
	mu      sync.RWMutex
	clients map[model.Source]Client
}

// NewRegistry creates a registry holding the given clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[model.Source]Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a client.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get returns the client for src.
func (r *Registry) Get(src model.Source) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[src]
	if !ok {
		return nil, ErrUnknownSource
	}
	return c, nil
}

// List returns the registered sources in default fallback order.
func (r *Registry) List() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Source
	for _, src := range model.Sources {
		if _, ok := r.clients[src]; ok {
			out = append(out, src)
		}
	}
	return out
}
