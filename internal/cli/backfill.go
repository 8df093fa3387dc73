package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"riverflow/internal/app"
)

var (
	backfillStation string
	backfillYears   []int
	backfillDryRun  bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill archive years into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(backfillYears) == 0 {
			return fmt.Errorf("--years must be provided")
		}
		currentYear := time.Now().UTC().Year()
		for _, year := range backfillYears {
			if year < 1800 || year > currentYear {
				return fmt.Errorf("implausible year %d", year)
			}
		}

		opts := app.BackfillOptions{
			StationID: backfillStation,
			Years:     backfillYears,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStation, "station", "", "Station identifier")
	backfillCmd.Flags().IntSliceVar(&backfillYears, "years", nil, "Archive years to fetch (e.g. 2021,2022)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}
