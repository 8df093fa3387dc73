package cli

import (
	"github.com/spf13/cobra"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List the station catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stations(cmd.Context())
	},
}
