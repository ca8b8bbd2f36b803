package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/cache"
	"github.com/sells-group/taxa-enrich/internal/db"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertAuditSQL = `INSERT INTO enrichment_audit (id, run_id, entity_id, query, source, status, latency_ms, candidate_count, selected_id, confidence, method, needs_review, review_reason, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	auditColumns   = `id, run_id, entity_id, query, source, status, latency_ms, candidate_count, selected_id, confidence, method, needs_review, review_reason, error, created_at`
	pendingSelect  = `SELECT t.id, t.name, t.hints, t.reference_count, COALESCE(c.worms_aphia_id, '') <> '' AS worms_resolved, COALESCE(c.gbif_taxon_key, '') <> '' AS gbif_resolved FROM taxa t LEFT JOIN taxon_cache c ON c.entity_id = t.id`
	pendingWhere   = ` WHERE c.entity_id IS NULL OR c.needs_review`
	pendingOrder   = ` ORDER BY t.reference_count DESC, t.id`
)

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_audit": insertAuditSQL,
	"get_cache":    fmt.Sprintf(`SELECT %s FROM taxon_cache WHERE entity_id = $1`, strings.Join(cache.Columns(), ", ")),
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			// Tables may not exist before the first migrate.
			if _, err := conn.Prepare(ctx, name, sql); err != nil && !strings.Contains(err.Error(), "does not exist") {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS taxa (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	hints           JSONB NOT NULL DEFAULT '[]',
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
	worms_confidence     DOUBLE PRECISION,
	worms_match_method   TEXT,
	worms_needs_review   BOOLEAN,
	worms_is_marine      BOOLEAN,
	worms_is_brackish    BOOLEAN,
	worms_is_freshwater  BOOLEAN,
	worms_is_terrestrial BOOLEAN,
	worms_is_extinct     BOOLEAN,
	worms_resolved_at    TIMESTAMPTZ,
	gbif_taxon_key       TEXT,
	gbif_url             TEXT,
	gbif_status          TEXT,
	gbif_confidence      DOUBLE PRECISION,
	gbif_match_method    TEXT,
	gbif_needs_review    BOOLEAN,
	gbif_threat_status   TEXT,
	gbif_resolved_at     TIMESTAMPTZ,
	scientific_name      TEXT,
	authority            TEXT,
	rank                 TEXT,
	kingdom              TEXT,
	phylum               TEXT,
	class                TEXT,
	order_name           TEXT,
	family               TEXT,
	genus                TEXT,
	needs_review         BOOLEAN NOT NULL DEFAULT true,
	confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_source          TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_taxon_cache_needs_review ON taxon_cache(updated_at DESC) WHERE needs_review;

CREATE TABLE IF NOT EXISTS enrichment_audit (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL DEFAULT '',
	entity_id       TEXT NOT NULL,
	query           TEXT NOT NULL,
	source          TEXT NOT NULL,
	status          INTEGER NOT NULL,
	latency_ms      BIGINT NOT NULL,
	candidate_count INTEGER NOT NULL,
	selected_id     TEXT,
	confidence      DOUBLE PRECISION NOT NULL,
	method          TEXT NOT NULL,
	needs_review    BOOLEAN NOT NULL,
	review_reason   TEXT NOT NULL DEFAULT '',
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_audit_entity ON enrichment_audit(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_audit_source ON enrichment_audit(source, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_audit_run ON enrichment_audit(run_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_audit_created ON enrichment_audit(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PendingEntities(ctx context.Context, filter PendingFilter) ([]model.Entity, error) {
	query := pendingSelect
	if !filter.IncludeResolved {
		query += pendingWhere
	}
	query += pendingOrder
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var hints []byte
		var wormsResolved, gbifResolved bool
		if err := rows.Scan(&e.ID, &e.Name, &hints, &e.Priority, &wormsResolved, &gbifResolved); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending entity")
		}
		if e.Hints, err = decodeHints(hints); err != nil {
			return nil, eris.Wrapf(err, "postgres: entity %s", e.ID)
		}
		e.Resolved = resolvedMap(wormsResolved, gbifResolved)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pending entities")
}

func (s *PostgresStore) SeedTaxa(ctx context.Context, taxa []model.Entity) (int64, error) {
	rows := make([][]any, 0, len(taxa))
	for _, e := range taxa {
		hints, err := encodeHints(e.Hints)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{e.ID, e.Name, hints, e.Priority})
	}
	n, err := db.BulkUpsert(ctx, s.pool, taxaUpsertConfig, rows)
	return n, eris.Wrap(err, "postgres: seed taxa")
}

var taxaUpsertConfig = db.UpsertConfig{
	Table: taxaTable,
	Columns: []db.Column{
		{Name: "id", Rule: db.Keep},
		{Name: "name", Rule: db.Overwrite},
		{Name: "hints", Rule: db.Overwrite},
		{Name: "reference_count", Rule: db.Overwrite},
	},
	ConflictKeys: []string{"id"},
}

func (s *PostgresStore) UpsertCache(ctx context.Context, rec *model.CacheRecord) error {
	cfg, args := cache.Row(rec)
	sql, err := db.BuildUpsert(db.Postgres, cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: build cache upsert")
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert cache %s", rec.EntityID)
	}
	return nil
}

func (s *PostgresStore) GetCache(ctx context.Context, entityID string) (*model.CacheRecord, error) {
	var rec model.CacheRecord
	err := s.pool.QueryRow(ctx, preparedStatements["get_cache"], entityID).Scan(cache.ScanDest(&rec)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache %s", entityID)
	}
	return &rec, nil
}

func (s *PostgresStore) ListNeedsReview(ctx context.Context, filter ReviewFilter) ([]model.CacheRecord, error) {
	col, err := reviewColumn(filter.Source)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM taxon_cache WHERE %s ORDER BY updated_at DESC, entity_id LIMIT $1`,
		strings.Join(cache.Columns(), ", "), pgx.Identifier{col}.Sanitize())

	rows, err := s.pool.Query(ctx, query, listLimit(filter.Limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list needs review")
	}
	defer rows.Close()

	var out []model.CacheRecord
	for rows.Next() {
		var rec model.CacheRecord
		if err := rows.Scan(cache.ScanDest(&rec)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate needs review")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	_, err := s.pool.Exec(ctx, insertAuditSQL,
		rec.ID, rec.RunID, rec.EntityID, rec.Query, string(rec.Source), rec.Status, rec.LatencyMS,
		rec.CandidateCount, rec.SelectedID, rec.Confidence, string(rec.Method), rec.NeedsReview,
		string(rec.ReviewReason), rec.Error, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append audit %s", rec.EntityID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter audit.Filter) ([]model.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM enrichment_audit WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND created_at < $%d`, argIdx)
		args = append(args, filter.Until)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.EntityID, &r.Query, &r.Source, &r.Status, &r.LatencyMS,
			&r.CandidateCount, &r.SelectedID, &r.Confidence, &r.Method, &r.NeedsReview,
			&r.ReviewReason, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate audit")
}
