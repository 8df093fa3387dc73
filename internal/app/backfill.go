package app

import (
	"context"
	"errors"
	"sort"

	"riverflow/internal/storage"
)

// Backfill fetches whole archive years for a station and persists them, so
// deep-history queries and exports can run without hammering the upstream
// API.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.StationID == "" {
		return errors.New("--station is required")
	}
	if len(opts.Years) == 0 {
		return errors.New("--years is required")
	}

	years := append([]int(nil), opts.Years...)
	sort.Ints(years)

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	router := a.newRouter()

	processed := 0
	failed := 0
	for _, year := range years {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		samples, err := router.FetchHistorical(ctx, opts.StationID, &year)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).
				Str("station_id", opts.StationID).
				Int("year", year).
				Msg("backfill year failed")
			continue
		}
		if len(samples) == 0 {
			a.Logger.Info().
				Str("station_id", opts.StationID).
				Int("year", year).
				Msg("archive has no data for year")
			processed++
			continue
		}

		stored := int64(len(samples))
		if store != nil {
			stored, err = store.UpsertSamples(ctx, opts.StationID, samples)
			if err != nil {
				failed++
				a.Logger.Error().Err(err).
					Str("station_id", opts.StationID).
					Int("year", year).
					Msg("backfill write failed")
				continue
			}
		}

		a.Logger.Info().
			Str("station_id", opts.StationID).
			Int("year", year).
			Int64("stored", stored).
			Msg("backfilled year")
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some years failed to backfill, see logs")
	}
	return nil
}
