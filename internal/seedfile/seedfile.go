// Package seedfile reads the list of names to enrich from a CSV or XLSX
// file. The header row names the columns: id and name are required,
// reference_count is optional, hints holds "key=value;key=value" pairs, and
// any other column becomes a hint keyed by its header.
package seedfile

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Options configures Read.
type Options struct {
	// Sheet selects an XLSX sheet by name; the first sheet is used when empty.
	Sheet string
}

// Read parses path by extension (.csv or .xlsx).
func Read(path string, opts Options) ([]model.Entity, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path, opts.Sheet)
	default:
		return nil, eris.Errorf("seedfile: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return Parse(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "seedfile: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "seedfile: read csv")
	}
	return rows, nil
}

// Parse maps header-led rows to entities. Blank rows are skipped; a row
// without id or name is an error.
func Parse(rows [][]string) ([]model.Entity, error) {
	if len(rows) == 0 {
		return nil, eris.New("seedfile: no header row")
	}

	header := make([]string, len(rows[0]))
	col := map[string]int{}
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		header[i] = h
		col[h] = i
	}
	for _, req := range []string{"id", "name"} {
		if _, ok := col[req]; !ok {
			return nil, eris.Errorf("seedfile: missing %q column", req)
		}
	}

	var out []model.Entity
	seen := map[string]int{}
	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		cell := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		e := model.Entity{ID: cell(col["id"]), Name: cell(col["name"])}
		if e.ID == "" || e.Name == "" {
			return nil, eris.Errorf("seedfile: line %d: id and name are required", line)
		}
		if prev, dup := seen[e.ID]; dup {
			return nil, eris.Errorf("seedfile: line %d: duplicate id %q (first on line %d)", line, e.ID, prev)
		}
		seen[e.ID] = line

		for i, h := range header {
			v := cell(i)
			if v == "" {
				continue
			}
			switch h {
			case "id", "name":
			case "reference_count", "priority":
				p, err := strconv.Atoi(v)
				if err != nil {
					return nil, eris.Errorf("seedfile: line %d: %s %q is not an integer", line, h, v)
				}
				e.Priority = p
			case "hints":
				hints, err := parseHints(v)
				if err != nil {
					return nil, eris.Wrapf(err, "seedfile: line %d", line)
				}
				e.Hints = append(e.Hints, hints...)
			default:
				if h != "" {
					e.Hints = append(e.Hints, model.Hint{Key: h, Value: v})
				}
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func parseHints(s string) ([]model.Hint, error) {
	var out []model.Hint
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" {
			return nil, eris.Errorf("malformed hint %q (want key=value)", part)
		}
		out = append(out, model.Hint{Key: k, Value: v})
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
