package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxa-enrich/internal/seedfile"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load names to enrich from a CSV or XLSX file",
	Long: "Upserts rows into the pending-name feed. The header row must name id and name columns; " +
		"reference_count and hints (key=value;key=value) are optional and any other column becomes a hint.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sheet, _ := cmd.Flags().GetString("sheet")
		taxa, err := seedfile.Read(args[0], seedfile.Options{Sheet: sheet})
		if err != nil {
			return err
		}
		if len(taxa) == 0 {
			fmt.Println("No rows to seed.")
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SeedTaxa(ctx, taxa)
		if err != nil {
			return eris.Wrap(err, "seed")
		}
		zap.L().Info("seeded taxa", zap.String("file", args[0]), zap.Int64("rows", n))
		fmt.Printf("Seeded %d names from %s\n", n, args[0])
		return nil
	},
}

func init() {
	seedCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	rootCmd.AddCommand(seedCmd)
}
