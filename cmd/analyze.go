package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/analysis"
	"github.com/okatech-org/mayfin-sub002/internal/report"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dossier-id>",
	Short: "Run a full analysis of one dossier and record it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalysis(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		result, err := env.Service.RunAnalysis(ctx, args[0])
		if err != nil {
			var perr *analysis.PipelineError
			if errors.As(err, &perr) {
				zap.L().Warn("analysis failed",
					zap.String("dossier_id", perr.DossierID),
					zap.String("run_id", perr.RunID),
					zap.String("kind", string(perr.Kind)),
					zap.String("stage", perr.Stage),
				)
				if analyzeJSON {
					_ = writeJSON(out, perr)
				} else {
					printFailure(cmd, perr)
				}
			}
			return err
		}

		if analyzeJSON {
			return writeJSON(out, result)
		}
		return report.Render(out, result, reportOptions())
	},
}

func printFailure(cmd *cobra.Command, perr *analysis.PipelineError) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "analyse %s: échec (%s)\n", perr.RunID, perr.Message)
	for _, is := range perr.Blocking {
		fmt.Fprintf(w, "  bloquant %s: %s\n", is.Code, is.Message)
	}
	for _, se := range perr.StageErrors {
		fmt.Fprintf(w, "  %s: %s\n", se.Stage, se.Message)
	}
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
