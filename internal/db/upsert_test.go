package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheConfig() UpsertConfig {
	return UpsertConfig{
		Table: "taxon_cache",
		Columns: []Column{
			{Name: "entity_id", Rule: Keep},
			{Name: "gbif_taxon_key", Rule: Overwrite},
			{Name: "family", Rule: FillEmpty},
			{Name: "confidence", Rule: Max},
			{Name: "needs_review", Rule: And},
			{Name: "created_at", Rule: Keep},
		},
		ConflictKeys: []string{"entity_id"},
	}
}

func TestBuildUpsert_Postgres(t *testing.T) {
	sql, err := BuildUpsert(Postgres, cacheConfig())
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "taxon_cache" ("entity_id", "gbif_taxon_key", "family", "confidence", "needs_review", "created_at") `+
			`VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT ("entity_id") DO UPDATE SET `+
			`"gbif_taxon_key" = EXCLUDED."gbif_taxon_key", `+
			`"family" = COALESCE(NULLIF("taxon_cache"."family", ''), EXCLUDED."family"), `+
			`"confidence" = GREATEST(COALESCE("taxon_cache"."confidence", EXCLUDED."confidence"), COALESCE(EXCLUDED."confidence", "taxon_cache"."confidence")), `+
			`"needs_review" = COALESCE("taxon_cache"."needs_review" AND EXCLUDED."needs_review", EXCLUDED."needs_review", "taxon_cache"."needs_review")`,
		sql)
}

func TestBuildUpsert_SQLite(t *testing.T) {
	sql, err := BuildUpsert(SQLite, cacheConfig())
	require.NoError(t, err)

	assert.Contains(t, sql, "VALUES (?, ?, ?, ?, ?, ?)")
	assert.Contains(t, sql, `"confidence" = MAX(`)
	assert.NotContains(t, sql, "GREATEST")
	assert.NotContains(t, sql, `"created_at" =`)
}

func TestBuildUpsert_NothingToUpdate(t *testing.T) {
	sql, err := BuildUpsert(Postgres, UpsertConfig{
		Table:        "taxa",
		Columns:      []Column{{Name: "id"}, {Name: "name", Rule: Keep}},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.True(t, regexp.MustCompile(`ON CONFLICT \("id"\) DO NOTHING$`).MatchString(sql), sql)
}

func TestBuildUpsert_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: []Column{{Name: "id"}}, ConflictKeys: []string{"id"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no keys", UpsertConfig{Table: "t", Columns: []Column{{Name: "id"}}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildUpsert(Postgres, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, cacheConfig(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "taxa",
		Columns:      []Column{{Name: "id"}, {Name: "name"}, {Name: "reference_count", Rule: Max}},
		ConflictKeys: []string{"id"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_taxa" (LIKE "taxa" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_taxa"}, []string{"id", "name", "reference_count"}).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "taxa" ("id", "name", "reference_count") SELECT "id", "name", "reference_count" FROM "_tmp_upsert_taxa" ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "reference_count" = GREATEST(`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"t1", "Thunnus maccoyii", 3}, {"t2", "Ecklonia radiata", 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{Table: "taxa", Columns: []Column{{Name: "id"}}, ConflictKeys: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_taxa"}, []string{"id"}).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"t1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for taxa")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"taxon_cache", `"taxon_cache"`},
		{"taxa.taxon_cache", `"taxa"."taxon_cache"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestRule_String(t *testing.T) {
	assert.Equal(t, "fill_empty", FillEmpty.String())
	assert.Equal(t, "and", And.String())
	assert.Equal(t, "unknown", Rule(42).String())
}
