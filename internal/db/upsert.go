package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects placeholder and function spelling for generated SQL.
type Dialect int

const (
	// Postgres uses $N placeholders and GREATEST.
	Postgres Dialect = iota
	// SQLite uses ? placeholders and the two-argument scalar MAX.
	SQLite
)

func (d Dialect) placeholder(i int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

func (d Dialect) greatest() string {
	if d == SQLite {
		return "MAX"
	}
	return "GREATEST"
}

// Rule decides how an incoming column value merges with the stored one when
// the row already exists.
type Rule int

const (
	// Overwrite replaces the stored value.
	Overwrite Rule = iota
	// FillEmpty keeps a stored non-empty value and only fills NULL or ''.
	FillEmpty
	// Max keeps the larger of the two values, ignoring NULLs.
	Max
	// And combines booleans with logical AND, so a false value sticks.
	And
	// Keep never updates the column after insert.
	Keep
)

func (r Rule) String() string {
	switch r {
	case Overwrite:
		return "overwrite"
	case FillEmpty:
		return "fill_empty"
	case Max:
		return "max"
	case And:
		return "and"
	case Keep:
		return "keep"
	default:
		return "unknown"
	}
}

// Column is one inserted column and its conflict rule.
type Column struct {
	Name string
	Rule Rule
}

// UpsertConfig defines the parameters for an upsert.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []Column // inserted columns, in argument order
	ConflictKeys []string // columns forming the unique constraint
}

func (cfg UpsertConfig) validate() error {
	if cfg.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) columnNames() []string {
	names := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		names[i] = c.Name
	}
	return names
}

// BuildUpsert renders a single-row INSERT ... ON CONFLICT DO UPDATE whose
// SET clause applies each column's rule. Arguments bind in Columns order.
func BuildUpsert(d Dialect, cfg UpsertConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = d.placeholder(i + 1)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.columnNames()),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		conflictAction(d, cfg),
	), nil
}

// conflictAction renders DO UPDATE SET ... or DO NOTHING when no column is
// updatable.
func conflictAction(d Dialect, cfg UpsertConfig) string {
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}

	target := sanitizeTable(cfg.Table)
	var setClauses []string
	for _, col := range cfg.Columns {
		if conflictSet[col.Name] || col.Rule == Keep {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s",
			pgx.Identifier{col.Name}.Sanitize(), setExpr(d, target, col)))
	}
	if len(setClauses) == 0 {
		return "DO NOTHING"
	}
	return "DO UPDATE SET " + strings.Join(setClauses, ", ")
}

func setExpr(d Dialect, target string, col Column) string {
	name := pgx.Identifier{col.Name}.Sanitize()
	cur := target + "." + name
	inc := "EXCLUDED." + name

	switch col.Rule {
	case FillEmpty:
		return fmt.Sprintf("COALESCE(NULLIF(%s, ''), %s)", cur, inc)
	case Max:
		return fmt.Sprintf("%s(COALESCE(%s, %s), COALESCE(%s, %s))", d.greatest(), cur, inc, inc, cur)
	case And:
		return fmt.Sprintf("COALESCE(%s AND %s, %s, %s)", cur, inc, inc, cur)
	default:
		return inc
	}
}

// BulkUpsert loads rows through a temp table and a single
// INSERT ... SELECT ... ON CONFLICT applying the column rules.
// 1. Creates a temp table shaped like the target
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) ...
// The temp table is dropped on commit.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	names := cfg.columnNames()
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, names, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(names)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		conflictAction(Postgres, cfg),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "taxa.taxon_cache".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
