package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints a station's most recent archived samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.StationID == "" {
		return errors.New("--station is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.StationID, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tDischarge (m³/s)\tLevel (m)\tSource")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			formatNullable(sample.Discharge),
			formatNullable(sample.Level),
			sample.Source,
		)
	}

	writer.Flush()
	return nil
}

func formatNullable(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(3)
}
