package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchlist-screen/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "watchlist-screen",
	Short: "Screen payment text against sanctions and watch lists",
	Long:  "Extracts identifiers and names from free text, links them, searches a reference watch list (exact, fuzzy, vector) and returns a risk decision.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
