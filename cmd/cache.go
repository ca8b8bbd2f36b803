package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the enrichment cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <entity-id>",
	Short: "Print the cache row for an entity as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetCache(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cache show")
		}
		if rec == nil {
			return eris.Errorf("no cache row for entity %q", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
