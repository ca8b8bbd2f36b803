package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/cache"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// MemoryStore is an in-process Store used by tests and throwaway runs.
// Cache writes go through the same merge policy as the SQL stores.
type MemoryStore struct {
	mu    sync.Mutex
	taxa  map[string]model.Entity
	cache map[string]*model.CacheRecord
	audit []model.AuditRecord
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		taxa:  make(map[string]model.Entity),
		cache: make(map[string]*model.CacheRecord),
	}
}

func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) PendingEntities(_ context.Context, filter PendingFilter) ([]model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Entity
	for _, e := range s.taxa {
		rec := s.cache[e.ID]
		e.Resolved = resolvedMap(rec != nil && rec.ResolvedBy(model.SourceWoRMS), rec != nil && rec.ResolvedBy(model.SourceGBIF))
		if !filter.IncludeResolved && rec != nil && !rec.NeedsReview {
			continue
		}
		e.Hints = slices.Clone(e.Hints)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b model.Entity) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SeedTaxa(_ context.Context, taxa []model.Entity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range taxa {
		e.Resolved = nil
		e.Hints = slices.Clone(e.Hints)
		s.taxa[e.ID] = e
	}
	return int64(len(taxa)), nil
}

func (s *MemoryStore) UpsertCache(_ context.Context, rec *model.CacheRecord) error {
	if rec == nil || rec.EntityID == "" {
		return eris.New("memory: upsert cache: missing entity id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cache[rec.EntityID]
	if !ok {
		cp := &model.CacheRecord{EntityID: rec.EntityID, CreatedAt: rec.CreatedAt}
		cache.Merge(cp, rec)
		cp.NeedsReview = rec.NeedsReview
		cp.Confidence = rec.Confidence
		s.cache[rec.EntityID] = cp
		return nil
	}
	cache.Merge(cur, rec)
	return nil
}

func (s *MemoryStore) GetCache(_ context.Context, entityID string) (*model.CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache[entityID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListNeedsReview(_ context.Context, filter ReviewFilter) ([]model.CacheRecord, error) {
	if _, err := reviewColumn(filter.Source); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.CacheRecord
	for _, rec := range s.cache {
		if flagged(rec, filter.Source) {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b model.CacheRecord) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	if n := listLimit(filter.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func flagged(rec *model.CacheRecord, src model.Source) bool {
	switch src {
	case model.SourceWoRMS:
		return rec.WoRMSNeedsReview != nil && *rec.WoRMSNeedsReview
	case model.SourceGBIF:
		return rec.GBIFNeedsReview != nil && *rec.GBIFNeedsReview
	default:
		return rec.NeedsReview
	}
}

func (s *MemoryStore) AppendAudit(_ context.Context, rec *model.AuditRecord) error {
	if rec == nil {
		return eris.New("memory: append audit: nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.audit {
		if r.ID == rec.ID {
			return eris.Errorf("memory: duplicate audit id %s", rec.ID)
		}
	}
	s.audit = append(s.audit, *rec)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, filter audit.Filter) ([]model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.AuditRecord
	for _, r := range s.audit {
		switch {
		case filter.RunID != "" && r.RunID != filter.RunID,
			filter.EntityID != "" && r.EntityID != filter.EntityID,
			filter.Source != "" && r.Source != filter.Source,
			!filter.Since.IsZero() && r.CreatedAt.Before(filter.Since),
			!filter.Until.IsZero() && !r.CreatedAt.Before(filter.Until):
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b model.AuditRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n := listLimit(filter.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
