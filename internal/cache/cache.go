package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// ErrForeignField is returned when a source tries to write a column owned
// by another source.
var ErrForeignField = eris.New("cache: column owned by another source")

// Writer persists a validated partial record with the policy-table merge.
type Writer interface {
	UpsertCache(ctx context.Context, rec *model.CacheRecord) error
}

// Cache validates writes against the merge policy before handing them to
// the store.
type Cache struct {
	w Writer
}

// New creates a Cache over w.
func New(w Writer) *Cache {
	return &Cache{w: w}
}

// Upsert inserts or merges the fields src resolved for entityID. Calling it
// repeatedly with the same or different sources never duplicates the row.
func (c *Cache) Upsert(ctx context.Context, entityID string, src model.Source, fields *model.CacheRecord) error {
	if err := Validate(entityID, src, fields); err != nil {
		return err
	}
	rec := *fields
	rec.EntityID = entityID
	rec.LastSource = src
	if err := c.w.UpsertCache(ctx, &rec); err != nil {
		return eris.Wrapf(err, "cache: upsert %s from %s", entityID, src)
	}
	return nil
}

// Validate checks that fields only carries columns src owns or shared ones,
// and that it carries src's identifier.
func Validate(entityID string, src model.Source, fields *model.CacheRecord) error {
	if entityID == "" {
		return eris.New("cache: empty entity id")
	}
	if _, err := model.ParseSource(string(src)); err != nil {
		return eris.Wrap(err, "cache: validate")
	}
	if fields == nil {
		return eris.New("cache: nil fields")
	}
	if fields.EntityID != "" && fields.EntityID != entityID {
		return eris.Errorf("cache: fields for %q passed with entity %q", fields.EntityID, entityID)
	}
	for _, f := range Policy {
		if f.Owner == Shared || f.Owner == src {
			continue
		}
		if _, ok := f.get(fields); ok {
			return eris.Wrapf(ErrForeignField, "cache: %s may not write %s", src, f.Column)
		}
	}
	if !fields.ResolvedBy(src) {
		return eris.Errorf("cache: %s fields carry no %s identifier", entityID, src)
	}
	return nil
}

// FieldsFor maps a selected match to the columns src writes. Shared
// descriptive columns are only offered when the match was accepted without
// review, so a doubtful pick never claims a fill-once slot.
func FieldsFor(src model.Source, m model.MatchResult, now time.Time) (*model.CacheRecord, error) {
	if m.Candidate == nil {
		return nil, eris.New("cache: match has no selected candidate")
	}
	cand := m.Candidate
	method := string(m.Method)
	conf := m.Confidence
	review := m.NeedsReview
	at := now.UTC()

	rec := &model.CacheRecord{
		NeedsReview: m.NeedsReview,
		Confidence:  m.Confidence,
		LastSource:  src,
		CreatedAt:   at,
		UpdatedAt:   at,
	}

	switch src {
	case model.SourceWoRMS:
		rec.WoRMSAphiaID = ptr(cand.ExternalID)
		rec.WoRMSURL = nonEmpty(cand.URL)
		rec.WoRMSStatus = nonEmpty(cand.Status)
		rec.WoRMSValidAphiaID = nonEmpty(cand.AcceptedID)
		rec.WoRMSValidName = nonEmpty(cand.AcceptedName)
		rec.WoRMSConfidence = &conf
		rec.WoRMSMatchMethod = &method
		rec.WoRMSNeedsReview = &review
		rec.WoRMSHabitat = cand.Habitat
		rec.WoRMSResolvedAt = &at
	case model.SourceGBIF:
		rec.GBIFTaxonKey = ptr(cand.ExternalID)
		rec.GBIFURL = nonEmpty(cand.URL)
		rec.GBIFStatus = nonEmpty(cand.Status)
		rec.GBIFConfidence = &conf
		rec.GBIFMatchMethod = &method
		rec.GBIFNeedsReview = &review
		rec.GBIFThreatStatus = nonEmpty(cand.ThreatStatus)
		rec.GBIFResolvedAt = &at
	default:
		return nil, eris.Errorf("cache: unknown source %q", src)
	}

	if m.Accepted() {
		rec.ScientificName = nonEmpty(cand.Name)
		rec.Authority = nonEmpty(cand.Authority)
		rec.Rank = nonEmpty(cand.Rank)
		rec.Kingdom = nonEmpty(cand.Hierarchy.Kingdom)
		rec.Phylum = nonEmpty(cand.Hierarchy.Phylum)
		rec.Class = nonEmpty(cand.Hierarchy.Class)
		rec.Order = nonEmpty(cand.Hierarchy.Order)
		rec.Family = nonEmpty(cand.Hierarchy.Family)
		rec.Genus = nonEmpty(cand.Hierarchy.Genus)
	}
	return rec, nil
}

func ptr[T any](v T) *T { return &v }

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
