package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
)

// Stations prints the station catalog.
func (a *App) Stations(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list stations")
	}
	if closeStore != nil {
		defer closeStore()
	}

	stations, err := store.ListStations(ctx)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		fmt.Fprintln(os.Stdout, "no stations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tLatitude\tLongitude\tAuthority")
	for _, station := range stations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.5f\t%.5f\t%s\n",
			station.ID,
			station.Name,
			station.Latitude,
			station.Longitude,
			station.Authority,
		)
	}

	writer.Flush()
	return nil
}
