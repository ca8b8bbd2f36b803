// Package store persists the pending-name feed, the enrichment cache and the
// audit log.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// PendingFilter narrows the pending feed.
type PendingFilter struct {
	// Limit caps the number of entities; 0 means no cap.
	Limit int `json:"limit,omitempty"`
	// IncludeResolved also returns entities whose cache row is already
	// confidently resolved (forced re-runs).
	IncludeResolved bool `json:"include_resolved,omitempty"`
}

// ReviewFilter narrows the needs-review listing.
type ReviewFilter struct {
	// Source limits the listing to rows whose flag for that source is set.
	Source model.Source `json:"source,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// Store defines the persistence interface for the enrichment engine.
type Store interface {
	// Feed
	PendingEntities(ctx context.Context, filter PendingFilter) ([]model.Entity, error)
	SeedTaxa(ctx context.Context, taxa []model.Entity) (int64, error)

	// Cache
	UpsertCache(ctx context.Context, rec *model.CacheRecord) error
	GetCache(ctx context.Context, entityID string) (*model.CacheRecord, error)
	ListNeedsReview(ctx context.Context, filter ReviewFilter) ([]model.CacheRecord, error)

	// Audit
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	ListAudit(ctx context.Context, filter audit.Filter) ([]model.AuditRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

const (
	defaultListLimit = 100
	taxaTable        = "taxa"
)

// reviewColumn maps a review filter to the flag column it reads.
func reviewColumn(src model.Source) (string, error) {
	switch src {
	case "":
		return "needs_review", nil
	case model.SourceWoRMS:
		return "worms_needs_review", nil
	case model.SourceGBIF:
		return "gbif_needs_review", nil
	default:
		return "", eris.Errorf("store: unknown review source %q", src)
	}
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func encodeHints(h []model.Hint) ([]byte, error) {
	if h == nil {
		h = []model.Hint{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal hints")
	}
	return b, nil
}

func decodeHints(b []byte) ([]model.Hint, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h []model.Hint
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal hints")
	}
	return h, nil
}

func resolvedMap(worms, gbif bool) map[model.Source]bool {
	m := map[model.Source]bool{}
	if worms {
		m[model.SourceWoRMS] = true
	}
	if gbif {
		m[model.SourceGBIF] = true
	}
	return m
}
