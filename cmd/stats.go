package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/watchlist-screen/internal/snapshot"
)

var indexStatsJSON bool

var indexStatsCmd = &cobra.Command{
	Use:   "index-stats",
	Short: "Build the reference snapshot and print index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := initApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.snaps.Require()
		if err != nil {
			return eris.Wrap(err, "index-stats")
		}

		if indexStatsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.Stats())
		}
		return printIndexStats(cmd.OutOrStdout(), s.Stats())
	},
}

func printIndexStats(out io.Writer, st snapshot.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%d\n", st.Version)
	if st.Source != "" {
		fmt.Fprintf(w, "source\t%s\n", st.Source)
	}
	fmt.Fprintf(w, "entities\t%d\n", st.Entities)
	fmt.Fprintf(w, "duplicates\t%d\n", st.Duplicates)
	fmt.Fprintf(w, "embedded\t%d\n", st.Embedded)
	fmt.Fprintf(w, "patterns\t%d\n", st.Index.Patterns)
	fmt.Fprintf(w, "entries\t%d\n", st.Index.Entries)
	for tier, n := range st.Index.PerTier {
		fmt.Fprintf(w, "tier %d\t%d\n", tier, n)
	}
	return w.Flush()
}

func init() {
	indexStatsCmd.Flags().BoolVar(&indexStatsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(indexStatsCmd)
}
