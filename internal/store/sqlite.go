package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/cache"
	"github.com/sells-group/taxa-enrich/internal/db"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Timestamps are written in SQLite's own format so range filters compare
// correctly as text.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps upserts serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS taxa (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	hints           TEXT NOT NULL DEFAULT '[]',
	reference_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_taxa_priority ON taxa(reference_count DESC, id);

CREATE TABLE IF NOT EXISTS taxon_cache (
	entity_id            TEXT PRIMARY KEY,
	worms_aphia_id       TEXT,
	worms_url            TEXT,
	worms_status         TEXT,
	worms_valid_aphia_id TEXT,
	worms_valid_name     TEXT,
	worms_confidence     REAL,
	worms_match_method   TEXT,
	worms_needs_review   BOOLEAN,
	worms_is_marine      BOOLEAN,
	worms_is_brackish    BOOLEAN,
	worms_is_freshwater  BOOLEAN,
	worms_is_terrestrial BOOLEAN,
	worms_is_extinct     BOOLEAN,
	worms_resolved_at    DATETIME,
	gbif_taxon_key       TEXT,
	gbif_url             TEXT,
	gbif_status          TEXT,
	gbif_confidence      REAL,
	gbif_match_method    TEXT,
	gbif_needs_review    BOOLEAN,
	gbif_threat_status   TEXT,
	gbif_resolved_at     DATETIME,
	scientific_name      TEXT,
	authority            TEXT,
	rank                 TEXT,
	kingdom              TEXT,
	phylum               TEXT,
	class                TEXT,
	order_name           TEXT,
	family               TEXT,
	genus                TEXT,
	needs_review         BOOLEAN NOT NULL DEFAULT 1,
	confidence           REAL NOT NULL DEFAULT 0,
	last_source          TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_taxon_cache_needs_review ON taxon_cache(needs_review, updated_at);

CREATE TABLE IF NOT EXISTS enrichment_audit (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL DEFAULT '',
	entity_id       TEXT NOT NULL,
	query           TEXT NOT NULL,
	source          TEXT NOT NULL,
	status          INTEGER NOT NULL,
	latency_ms      INTEGER NOT NULL,
	candidate_count INTEGER NOT NULL,
	selected_id     TEXT,
	confidence      REAL NOT NULL,
	method          TEXT NOT NULL,
	needs_review    BOOLEAN NOT NULL,
	review_reason   TEXT NOT NULL DEFAULT '',
	error           TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichment_audit_entity ON enrichment_audit(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_audit_source ON enrichment_audit(source, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_audit_run ON enrichment_audit(run_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PendingEntities(ctx context.Context, filter PendingFilter) ([]model.Entity, error) {
	query := pendingSelect
	if !filter.IncludeResolved {
		query += pendingWhere
	}
	query += pendingOrder
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var hints string
		var wormsResolved, gbifResolved bool
		if err := rows.Scan(&e.ID, &e.Name, &hints, &e.Priority, &wormsResolved, &gbifResolved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending entity")
		}
		if e.Hints, err = decodeHints([]byte(hints)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: entity %s", e.ID)
		}
		e.Resolved = resolvedMap(wormsResolved, gbifResolved)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending entities")
}

func (s *SQLiteStore) SeedTaxa(ctx context.Context, taxa []model.Entity) (int64, error) {
	if len(taxa) == 0 {
		return 0, nil
	}
	query, err := db.BuildUpsert(db.SQLite, taxaUpsertConfig)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build taxa upsert")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare seed")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, e := range taxa {
		hints, err := encodeHints(e.Hints)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Name, string(hints), e.Priority); err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed taxon %s", e.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed")
	}
	return n, nil
}

func (s *SQLiteStore) UpsertCache(ctx context.Context, rec *model.CacheRecord) error {
	cfg, args := cache.Row(rec)
	query, err := db.BuildUpsert(db.SQLite, cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: build cache upsert")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert cache %s", rec.EntityID)
	}
	return nil
}

func (s *SQLiteStore) GetCache(ctx context.Context, entityID string) (*model.CacheRecord, error) {
	var rec model.CacheRecord
	query := fmt.Sprintf(`SELECT %s FROM taxon_cache WHERE entity_id = ?`, strings.Join(cache.Columns(), ", "))
	err := s.db.QueryRowContext(ctx, query, entityID).Scan(cache.ScanDest(&rec)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache %s", entityID)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListNeedsReview(ctx context.Context, filter ReviewFilter) ([]model.CacheRecord, error) {
	col, err := reviewColumn(filter.Source)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM taxon_cache WHERE %s ORDER BY updated_at DESC, entity_id LIMIT ?`,
		strings.Join(cache.Columns(), ", "), col)

	rows, err := s.db.QueryContext(ctx, query, listLimit(filter.Limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list needs review")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CacheRecord
	for rows.Next() {
		var rec model.CacheRecord
		if err := rows.Scan(cache.ScanDest(&rec)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate needs review")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_audit (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.EntityID, rec.Query, string(rec.Source), rec.Status, rec.LatencyMS,
		rec.CandidateCount, rec.SelectedID, rec.Confidence, string(rec.Method), rec.NeedsReview,
		string(rec.ReviewReason), rec.Error, rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append audit %s", rec.EntityID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter audit.Filter) ([]model.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM enrichment_audit WHERE 1=1`
	var args []any
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.Until.UTC())
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.EntityID, &r.Query, &r.Source, &r.Status, &r.LatencyMS,
			&r.CandidateCount, &r.SelectedID, &r.Confidence, &r.Method, &r.NeedsReview,
			&r.ReviewReason, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate audit")
}
