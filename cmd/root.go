package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/report"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mayfin",
	Short: "Financing dossier analysis and scoring",
	Long:  "Extracts financial statements from dossier documents, researches the sector, scores the dossier and records every run.",
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

var noColor bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// reportOptions honours --no-color and terminal detection.
func reportOptions() report.Options {
	return report.Options{Colors: !noColor && !color.NoColor}
}

// writeJSON prints v indented on w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
