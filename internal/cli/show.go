package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"riverflow/internal/app"
)

var (
	showStation string
	showLimit   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a station's recent archived samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			StationID: showStation,
			Limit:     showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showStation, "station", "", "Station identifier")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
}
