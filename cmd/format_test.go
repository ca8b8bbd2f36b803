//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxa-enrich/internal/model"
)

func strp(s string) *string     { return &s }
func boolp(b bool) *bool        { return &b }
func floatp(f float64) *float64 { return &f }

func reviewFixture() []model.CacheRecord {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	return []model.CacheRecord{
		{
			EntityID:         "t1",
			ScientificName:   strp("Ecklonia radiata"),
			Rank:             strp("species"),
			WoRMSAphiaID:     strp("233898"),
			WoRMSConfidence:  floatp(0.83),
			WoRMSNeedsReview: boolp(true),
			NeedsReview:      true,
			Confidence:       0.83,
			LastSource:       model.SourceWoRMS,
			UpdatedAt:        now,
		},
		{
			EntityID:        "t2",
			GBIFTaxonKey:    strp("2878688"),
			GBIFConfidence:  floatp(0.9),
			GBIFNeedsReview: boolp(false),
			NeedsReview:     true,
			Confidence:      0.9,
			LastSource:      model.SourceGBIF,
			UpdatedAt:       now,
		},
	}
}

func TestFormatReviewTable(t *testing.T) {
	var buf bytes.Buffer
	formatReviewTable(&buf, reviewFixture())

	out := buf.String()
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, "Ecklonia radiata")
	assert.Contains(t, out, "233898*")
	assert.Contains(t, out, "2878688")
	assert.NotContains(t, out, "2878688*")
	assert.Contains(t, out, "2025-06-15 10:30:00")
}

func TestWriteReviewXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.xlsx")
	require.NoError(t, writeReviewXLSX(path, reviewFixture()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Equal(t, "needs_review", f.Sheets[0].Name)

	rows := f.Sheets[0].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "entity_id", rows[0].Cells[0].String())
	assert.Equal(t, "t1", rows[1].Cells[0].String())
	assert.Equal(t, "Ecklonia radiata", rows[1].Cells[1].String())
	assert.Equal(t, "0.83", rows[1].Cells[3].String())
	assert.Equal(t, "true", rows[1].Cells[7].String())
	assert.Equal(t, "2878688", rows[2].Cells[8].String())
	assert.Equal(t, "false", rows[2].Cells[10].String())
}

func TestWriteReviewJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReviewJSON(&buf, nil))
	assert.JSONEq(t, "[]", buf.String())
}

func TestWriteReviewJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReviewJSON(&buf, reviewFixture()))

	var got []model.CacheRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].EntityID)
}

func TestFormatAuditList(t *testing.T) {
	recs := []model.AuditRecord{
		{
			ID:        "a1",
			RunID:     "0f5c2a9e-0000-0000-0000-000000000000",
			EntityID:  "t1",
			Query:     "Ecklonia radiata",
			Source:    model.SourceWoRMS,
			Status:    0,
			Error:     strp("worms: connection refused while dialing upstream host"),
			CreatedAt: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:             "a2",
			RunID:          "0f5c2a9e-0000-0000-0000-000000000000",
			EntityID:       "t1",
			Source:         model.SourceGBIF,
			Status:         200,
			CandidateCount: 1,
			SelectedID:     strp("2878688"),
			Confidence:     1,
			Method:         model.MethodExact,
			CreatedAt:      time.Date(2025, 6, 15, 10, 30, 1, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatAuditList(&buf, recs)

	out := buf.String()
	assert.Contains(t, out, "0f5c2a9e")
	assert.NotContains(t, out, "0f5c2a9e-0000")
	assert.Contains(t, out, "worms: connection refused while dialing...")
	assert.Contains(t, out, "2878688")
	assert.Contains(t, out, "1.00")
}

func TestReviewLabel(t *testing.T) {
	assert.Equal(t, "yes", reviewLabel(true, ""))
	assert.Equal(t, "no", reviewLabel(false, ""))
	assert.Equal(t, "ambiguous", reviewLabel(true, model.ReasonAmbiguous))
	assert.Equal(t, "no (no_match)", reviewLabel(false, model.ReasonNoMatch))
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("since", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTimeFlag("since", "2025-06-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTimeFlag("since", "2025-06-15T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), got)

	_, err = parseTimeFlag("until", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--until")
}

func TestAuditFilterFromFlags(t *testing.T) {
	c := &cobra.Command{}
	addAuditFlags(c)
	require.NoError(t, c.Flags().Set("source", "gbif"))
	require.NoError(t, c.Flags().Set("entity", "t1"))
	require.NoError(t, c.Flags().Set("since", "2025-06-01"))
	f, err := auditFilterFromFlags(c)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGBIF, f.Source)
	assert.Equal(t, "t1", f.EntityID)
	assert.Equal(t, 100, f.Limit)
	assert.False(t, f.Since.IsZero())

	c = &cobra.Command{}
	addAuditFlags(c)
	require.NoError(t, c.Flags().Set("since", "2025-06-02"))
	require.NoError(t, c.Flags().Set("until", "2025-06-01"))
	_, err = auditFilterFromFlags(c)
	require.Error(t, err)

	c = &cobra.Command{}
	addAuditFlags(c)
	require.NoError(t, c.Flags().Set("source", "itis"))
	_, err = auditFilterFromFlags(c)
	require.Error(t, err)
}
