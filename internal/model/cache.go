package model

import "time"

// CacheRecord is the durable merged resolution of one entity across every
// source that has resolved it. Exactly one record exists per EntityID.
type CacheRecord struct {
	EntityID string `json:"entity_id"`

	// WoRMS-owned identity fields.
	WoRMSAphiaID      *string      `json:"worms_aphia_id,omitempty"`
	WoRMSURL          *string      `json:"worms_url,omitempty"`
	WoRMSStatus       *string      `json:"worms_status,omitempty"`
	WoRMSValidAphiaID *string      `json:"worms_valid_aphia_id,omitempty"`
	WoRMSValidName    *string      `json:"worms_valid_name,omitempty"`
	WoRMSConfidence   *float64     `json:"worms_confidence,omitempty"`
	WoRMSMatchMethod  *string      `json:"worms_match_method,omitempty"`
	WoRMSNeedsReview  *bool        `json:"worms_needs_review,omitempty"`
	WoRMSHabitat      HabitatFlags `json:"worms_habitat"`
	WoRMSResolvedAt   *time.Time   `json:"worms_resolved_at,omitempty"`

	// GBIF-owned identity fields.
	GBIFTaxonKey     *string    `json:"gbif_taxon_key,omitempty"`
	GBIFURL          *string    `json:"gbif_url,omitempty"`
	GBIFStatus       *string    `json:"gbif_status,omitempty"`
	GBIFConfidence   *float64   `json:"gbif_confidence,omitempty"`
	GBIFMatchMethod  *string    `json:"gbif_match_method,omitempty"`
	GBIFNeedsReview  *bool      `json:"gbif_needs_review,omitempty"`
	GBIFThreatStatus *string    `json:"gbif_threat_status,omitempty"`
	GBIFResolvedAt   *time.Time `json:"gbif_resolved_at,omitempty"`

	// Shared descriptive fields: first successful source wins.
	ScientificName *string `json:"scientific_name,omitempty"`
	Authority      *string `json:"authority,omitempty"`
	Rank           *string `json:"rank,omitempty"`
	Kingdom        *string `json:"kingdom,omitempty"`
	Phylum         *string `json:"phylum,omitempty"`
	Class          *string `json:"class,omitempty"`
	Order          *string `json:"order,omitempty"`
	Family         *string `json:"family,omitempty"`
	Genus          *string `json:"genus,omitempty"`

	NeedsReview bool      `json:"needs_review"`
	Confidence  float64   `json:"confidence"`
	LastSource  Source    `json:"last_source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResolvedBy reports whether src has written its identity fields.
func (r *CacheRecord) ResolvedBy(src Source) bool {
	switch src {
	case SourceWoRMS:
		return r.WoRMSAphiaID != nil && *r.WoRMSAphiaID != ""
	case SourceGBIF:
		return r.GBIFTaxonKey != nil && *r.GBIFTaxonKey != ""
	}
	return false
}
