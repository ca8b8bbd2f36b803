package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect cache rows flagged for manual review",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache rows that need review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := reviewFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListNeedsReview(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(recs) == 0 {
			fmt.Println("No rows need review.")
			return nil
		}
		formatReviewTable(os.Stdout, recs)
		return nil
	},
}

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cache rows that need review to XLSX or JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if format != "xlsx" && format != "json" {
			return eris.Errorf("review export: unsupported format %q (want xlsx or json)", format)
		}
		if format == "xlsx" && out == "" {
			return eris.New("review export: --out is required for xlsx")
		}

		filter, err := reviewFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListNeedsReview(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "review export")
		}

		if format == "xlsx" {
			if err := writeReviewXLSX(out, recs); err != nil {
				return err
			}
			fmt.Printf("Exported %d rows to %s\n", len(recs), out)
			return nil
		}

		w := io.Writer(os.Stdout)
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrap(err, "review export: create output")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		return writeReviewJSON(w, recs)
	},
}

func init() {
	for _, c := range []*cobra.Command{reviewListCmd, reviewExportCmd} {
		c.Flags().String("source", "", "only rows flagged by this source (worms or gbif)")
		c.Flags().Int("limit", 100, "max rows to return")
	}
	reviewExportCmd.Flags().String("format", "xlsx", "output format: xlsx or json")
	reviewExportCmd.Flags().String("out", "", "output file (json defaults to stdout)")

	reviewCmd.AddCommand(reviewListCmd, reviewExportCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewFilterFromFlags(cmd *cobra.Command) (store.ReviewFilter, error) {
	var filter store.ReviewFilter
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	if s, _ := cmd.Flags().GetString("source"); s != "" {
		src, err := model.ParseSource(s)
		if err != nil {
			return filter, err
		}
		filter.Source = src
	}
	return filter, nil
}

var reviewHeader = []string{
	"entity_id", "scientific_name", "rank", "confidence", "last_source",
	"worms_aphia_id", "worms_confidence", "worms_needs_review",
	"gbif_taxon_key", "gbif_confidence", "gbif_needs_review", "updated_at",
}

// reviewRow flattens a cache row into reviewHeader order.
func reviewRow(r model.CacheRecord) []string {
	return []string{
		r.EntityID,
		deref(r.ScientificName),
		deref(r.Rank),
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		string(r.LastSource),
		deref(r.WoRMSAphiaID),
		fmtFloat(r.WoRMSConfidence),
		fmtBool(r.WoRMSNeedsReview),
		deref(r.GBIFTaxonKey),
		fmtFloat(r.GBIFConfidence),
		fmtBool(r.GBIFNeedsReview),
		r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

func formatReviewTable(out io.Writer, recs []model.CacheRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tNAME\tRANK\tCONF\tSOURCE\tWORMS\tGBIF\tUPDATED")
	_, _ = fmt.Fprintln(w, "------\t----\t----\t----\t------\t-----\t----\t-------")
	for _, r := range recs {
		row := reviewRow(r)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row[0], dash(row[1]), dash(row[2]), row[3], dash(row[4]),
			flagCell(r.WoRMSAphiaID, r.WoRMSNeedsReview),
			flagCell(r.GBIFTaxonKey, r.GBIFNeedsReview),
			row[11])
	}
	_ = w.Flush()
}

// writeReviewXLSX writes one sheet with a header row and one row per record.
func writeReviewXLSX(path string, recs []model.CacheRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("needs_review")
	if err != nil {
		return eris.Wrap(err, "review export: add sheet")
	}
	addRow(sheet, reviewHeader)
	for _, r := range recs {
		addRow(sheet, reviewRow(r))
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "review export: save xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func writeReviewJSON(w io.Writer, recs []model.CacheRecord) error {
	if recs == nil {
		recs = []model.CacheRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return eris.Wrap(err, "review export: encode json")
	}
	return nil
}

// flagCell renders a per-source column: the source id, marked with * when
// that source flagged the row.
func flagCell(id *string, needs *bool) string {
	v := dash(deref(id))
	if needs != nil && *needs {
		v += "*"
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func fmtFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}

func fmtBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
