// Package cache owns the merge policy for the per-entity enrichment cache:
// which source may write which column and how a write combines with the
// stored value.
package cache

import (
	"time"

	"github.com/sells-group/taxa-enrich/internal/db"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// Table is the cache table name.
const Table = "taxon_cache"

// KeyColumn is the conflict key.
const KeyColumn = "entity_id"

// Shared marks columns any source may write.
const Shared model.Source = ""

// Field is one row of the merge-policy table.
type Field struct {
	Column string
	Owner  model.Source
	Rule   db.Rule

	get   func(r *model.CacheRecord) (any, bool)
	merge func(dst, src *model.CacheRecord)
	dest  func(r *model.CacheRecord) any
}

// Get returns the column value carried by r and whether r supplies it.
func (f Field) Get(r *model.CacheRecord) (any, bool) { return f.get(r) }

// Dest returns a scan target for the column inside r.
func (f Field) Dest(r *model.CacheRecord) any { return f.dest(r) }

// identity is a source-owned pointer column that the latest write replaces.
func identity[T any](col string, owner model.Source, p func(*model.CacheRecord) **T) Field {
	return Field{
		Column: col,
		Owner:  owner,
		Rule:   db.Overwrite,
		get: func(r *model.CacheRecord) (any, bool) {
			if v := *p(r); v != nil {
				return *v, true
			}
			return nil, false
		},
		merge: func(dst, src *model.CacheRecord) {
			if v := *p(src); v != nil {
				cp := *v
				*p(dst) = &cp
				return
			}
			*p(dst) = nil
		},
		dest: func(r *model.CacheRecord) any { return p(r) },
	}
}

// supplied returns the value r writes to the column. A record written by a
// source carries every column that source owns: owned columns it leaves
// unset are written as NULL so no value from an earlier resolution survives.
func (f Field) supplied(r *model.CacheRecord) (any, bool) {
	if v, ok := f.get(r); ok {
		return v, true
	}
	if f.Owner != Shared && f.Owner == r.LastSource {
		return nil, true
	}
	return nil, false
}

// shared is a descriptive column filled only while empty.
func shared(col string, p func(*model.CacheRecord) **string) Field {
	return Field{
		Column: col,
		Owner:  Shared,
		Rule:   db.FillEmpty,
		get: func(r *model.CacheRecord) (any, bool) {
			if v := *p(r); v != nil && *v != "" {
				return *v, true
			}
			return nil, false
		},
		merge: func(dst, src *model.CacheRecord) {
			if cur := *p(dst); cur != nil && *cur != "" {
				return
			}
			if v := *p(src); v != nil && *v != "" {
				cp := *v
				*p(dst) = &cp
			}
		},
		dest: func(r *model.CacheRecord) any { return p(r) },
	}
}

// Policy is the declared merge table, in column order. The key column is
// not part of it.
var Policy = []Field{
	identity("worms_aphia_id", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSAphiaID }),
	identity("worms_url", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSURL }),
	identity("worms_status", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSStatus }),
	identity("worms_valid_aphia_id", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSValidAphiaID }),
	identity("worms_valid_name", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSValidName }),
	identity("worms_confidence", model.SourceWoRMS, func(r *model.CacheRecord) **float64 { return &r.WoRMSConfidence }),
	identity("worms_match_method", model.SourceWoRMS, func(r *model.CacheRecord) **string { return &r.WoRMSMatchMethod }),
	identity("worms_needs_review", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSNeedsReview }),
	identity("worms_is_marine", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSHabitat.Marine }),
	identity("worms_is_brackish", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSHabitat.Brackish }),
	identity("worms_is_freshwater", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSHabitat.Freshwater }),
	identity("worms_is_terrestrial", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSHabitat.Terrestrial }),
	identity("worms_is_extinct", model.SourceWoRMS, func(r *model.CacheRecord) **bool { return &r.WoRMSHabitat.Extinct }),
	identity("worms_resolved_at", model.SourceWoRMS, func(r *model.CacheRecord) **time.Time { return &r.WoRMSResolvedAt }),

	identity("gbif_taxon_key", model.SourceGBIF, func(r *model.CacheRecord) **string { return &r.GBIFTaxonKey }),
	identity("gbif_url", model.SourceGBIF, func(r *model.CacheRecord) **string { return &r.GBIFURL }),
	identity("gbif_status", model.SourceGBIF, func(r *model.CacheRecord) **string { return &r.GBIFStatus }),
	identity("gbif_confidence", model.SourceGBIF, func(r *model.CacheRecord) **float64 { return &r.GBIFConfidence }),
	identity("gbif_match_method", model.SourceGBIF, func(r *model.CacheRecord) **string { return &r.GBIFMatchMethod }),
	identity("gbif_needs_review", model.SourceGBIF, func(r *model.CacheRecord) **bool { return &r.GBIFNeedsReview }),
	identity("gbif_threat_status", model.SourceGBIF, func(r *model.CacheRecord) **string { return &r.GBIFThreatStatus }),
	identity("gbif_resolved_at", model.SourceGBIF, func(r *model.CacheRecord) **time.Time { return &r.GBIFResolvedAt }),

	shared("scientific_name", func(r *model.CacheRecord) **string { return &r.ScientificName }),
	shared("authority", func(r *model.CacheRecord) **string { return &r.Authority }),
	shared("rank", func(r *model.CacheRecord) **string { return &r.Rank }),
	shared("kingdom", func(r *model.CacheRecord) **string { return &r.Kingdom }),
	shared("phylum", func(r *model.CacheRecord) **string { return &r.Phylum }),
	shared("class", func(r *model.CacheRecord) **string { return &r.Class }),
	shared("order_name", func(r *model.CacheRecord) **string { return &r.Order }),
	shared("family", func(r *model.CacheRecord) **string { return &r.Family }),
	shared("genus", func(r *model.CacheRecord) **string { return &r.Genus }),

	{
		Column: "needs_review",
		Owner:  Shared,
		Rule:   db.And,
		get:    func(r *model.CacheRecord) (any, bool) { return r.NeedsReview, true },
		merge:  func(dst, src *model.CacheRecord) { dst.NeedsReview = dst.NeedsReview && src.NeedsReview },
		dest:   func(r *model.CacheRecord) any { return &r.NeedsReview },
	},
	{
		Column: "confidence",
		Owner:  Shared,
		Rule:   db.Max,
		get:    func(r *model.CacheRecord) (any, bool) { return r.Confidence, true },
		merge:  func(dst, src *model.CacheRecord) { dst.Confidence = max(dst.Confidence, src.Confidence) },
		dest:   func(r *model.CacheRecord) any { return &r.Confidence },
	},
	{
		Column: "last_source",
		Owner:  Shared,
		Rule:   db.Overwrite,
		get:    func(r *model.CacheRecord) (any, bool) { return string(r.LastSource), r.LastSource != "" },
		merge: func(dst, src *model.CacheRecord) {
			if src.LastSource != "" {
				dst.LastSource = src.LastSource
			}
		},
		dest: func(r *model.CacheRecord) any { return &r.LastSource },
	},
	{
		Column: "created_at",
		Owner:  Shared,
		Rule:   db.Keep,
		get:    func(r *model.CacheRecord) (any, bool) { return r.CreatedAt, !r.CreatedAt.IsZero() },
		merge:  func(*model.CacheRecord, *model.CacheRecord) {},
		dest:   func(r *model.CacheRecord) any { return &r.CreatedAt },
	},
	{
		Column: "updated_at",
		Owner:  Shared,
		Rule:   db.Overwrite,
		get:    func(r *model.CacheRecord) (any, bool) { return r.UpdatedAt, !r.UpdatedAt.IsZero() },
		merge: func(dst, src *model.CacheRecord) {
			if !src.UpdatedAt.IsZero() {
				dst.UpdatedAt = src.UpdatedAt
			}
		},
		dest: func(r *model.CacheRecord) any { return &r.UpdatedAt },
	},
}

// Columns returns every cache column, key first, in scan order.
func Columns() []string {
	cols := make([]string, 0, len(Policy)+1)
	cols = append(cols, KeyColumn)
	for _, f := range Policy {
		cols = append(cols, f.Column)
	}
	return cols
}

// ScanDest returns scan targets into r matching Columns.
func ScanDest(r *model.CacheRecord) []any {
	dest := make([]any, 0, len(Policy)+1)
	dest = append(dest, &r.EntityID)
	for _, f := range Policy {
		dest = append(dest, f.dest(r))
	}
	return dest
}

// Row returns the upsert config and arguments for the columns r supplies,
// including NULLs for the unset columns of the writing source.
func Row(r *model.CacheRecord) (db.UpsertConfig, []any) {
	cfg := db.UpsertConfig{
		Table:        Table,
		Columns:      []db.Column{{Name: KeyColumn, Rule: db.Keep}},
		ConflictKeys: []string{KeyColumn},
	}
	args := []any{r.EntityID}
	for _, f := range Policy {
		v, ok := f.supplied(r)
		if !ok {
			continue
		}
		cfg.Columns = append(cfg.Columns, db.Column{Name: f.Column, Rule: f.Rule})
		args = append(args, v)
	}
	return cfg, args
}

// Merge applies the policy table to an existing record in place. It is the
// in-memory counterpart of the generated ON CONFLICT clause.
func Merge(dst, src *model.CacheRecord) {
	for _, f := range Policy {
		if _, ok := f.supplied(src); ok {
			f.merge(dst, src)
		}
	}
}
