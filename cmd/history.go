package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/report"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

var (
	historyLimit  int
	historyStatus string
	historySince  time.Duration
	historyJSON   bool
	showJSON      bool
)

var historyCmd = &cobra.Command{
	Use:   "history [dossier-id]",
	Short: "List recorded analysis runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		filter, err := historyFilter(args)
		if err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(cmd.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		if historyJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		return report.RenderHistory(cmd.OutOrStdout(), runs, reportOptions())
	},
}

func historyFilter(args []string) (store.RunFilter, error) {
	filter := store.RunFilter{Limit: historyLimit}
	if len(args) == 1 {
		filter.DossierID = args[0]
	}
	switch s := model.OutcomeStatus(historyStatus); s {
	case "":
	case model.OutcomeSucceeded, model.OutcomeDegraded, model.OutcomeFailed, model.OutcomeCancelled:
		filter.Status = s
	default:
		return filter, eris.Errorf("unknown status %q", historyStatus)
	}
	if historySince > 0 {
		filter.Since = time.Now().Add(-historySince)
	}
	return filter, nil
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the scoring result of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRun(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return eris.Errorf("no run %s", args[0])
		}
		if err != nil {
			return eris.Wrap(err, "get run")
		}

		out := cmd.OutOrStdout()
		if showJSON {
			return writeJSON(out, rec)
		}
		if rec.Result == nil {
			msg := string(rec.Status)
			if rec.Failure != nil {
				msg = fmt.Sprintf("%s at %s: %s", rec.Failure.Kind, rec.Failure.Stage, rec.Failure.Message)
			}
			_, err := fmt.Fprintf(out, "run %s produced no result (%s)\n", rec.ID, msg)
			return err
		}
		return report.Render(out, rec.Result, reportOptions())
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only runs with this status (succeeded, degraded, failed, cancelled)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only runs newer than this duration, e.g. 72h")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print runs as JSON")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the run record as JSON")
	rootCmd.AddCommand(historyCmd, showCmd)
}
