package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchlist-screen/internal/refdata"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
	"github.com/sells-group/watchlist-screen/internal/store"
)

var (
	loadFormat   string
	loadEncoding string
	loadDryRun   bool
)

var loadCmd = &cobra.Command{
	Use:   "load [source...]",
	Short: "Import reference entities into the store",
	Long:  "Reads watch-list entities from CSV, XLSX, YAML or JSON files or http(s)/ftp URLs, merges them by entity_id and upserts them into the store. Without arguments, reference.source is used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		start := time.Now()

		sources := args
		if len(sources) == 0 {
			sources = refdata.SplitSources(cfg.Reference.Source)
		}
		if len(sources) == 0 {
			return eris.New("no source given (argument or SCREEN_REFERENCE_SOURCE)")
		}

		ref := cfg.Reference
		if loadFormat != "" {
			ref.Format = loadFormat
		}
		if loadEncoding != "" {
			ref.Encoding = loadEncoding
		}
		loader := refdata.NewLoader(refdata.OptionsFromConfig(ref, cfg.Resilience))

		entities, err := loader.LoadAll(ctx, sources)
		if err != nil {
			return err
		}

		// Build once so a list the index rejects never reaches the store.
		snap, err := snapshot.Build(ctx, 1, entities, snapshot.BuildOptions{})
		if err != nil {
			return eris.Wrap(err, "validate reference data")
		}

		if loadDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "parsed %d entities (%d patterns), nothing written\n",
				snap.Len(), snap.Stats().Index.Patterns)
			return nil
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.UpsertEntities(ctx, entities)
		if err != nil {
			return err
		}

		zap.L().Info("reference data loaded",
			zap.Strings("sources", sources),
			zap.Int64("upserted", n),
			zap.Duration("elapsed", time.Since(start)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "upserted %d entities from %d source(s)\n", n, len(sources))
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadFormat, "format", "", "override format detection (csv, xlsx, yaml, json)")
	loadCmd.Flags().StringVar(&loadEncoding, "encoding", "", "text encoding of csv/json/yaml sources (e.g. windows-1251)")
	loadCmd.Flags().BoolVar(&loadDryRun, "dry-run", false, "parse and validate without writing")
	rootCmd.AddCommand(loadCmd)
}
