package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"riverflow/internal/storage"
)

// Export renders a station's archived samples as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.StationID == "" {
		return errors.New("--station is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(-1, 0, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.StationID, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("station_id", opts.StationID).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().
		Str("station_id", opts.StationID).
		Int("total", len(samples)).
		Int("exported", len(downsampled)).
		Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.StationID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.ArchivedSample, max int) []storage.ArchivedSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.ArchivedSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.ArchivedSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "discharge_m3s", "level_m", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		discharge := ""
		if sample.Discharge != nil {
			discharge = sample.Discharge.String()
		}
		level := ""
		if sample.Level != nil {
			level = sample.Level.String()
		}
		record := []string{
			sample.Timestamp.Format(time.RFC3339),
			discharge,
			level,
			sample.Source,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, stationID string, samples []storage.ArchivedSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		dischargeX []time.Time
		discharge  []float64
		levelX     []time.Time
		level      []float64
	)
	for _, sample := range samples {
		if sample.Discharge != nil {
			dischargeX = append(dischargeX, sample.Timestamp)
			discharge = append(discharge, sample.Discharge.InexactFloat64())
		}
		if sample.Level != nil {
			levelX = append(levelX, sample.Timestamp)
			level = append(level, sample.Level.InexactFloat64())
		}
	}
	if len(dischargeX) < 2 && len(levelX) < 2 {
		return errors.New("not enough data points to chart")
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  stationID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Discharge (m³/s)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Level (m)",
			ValueFormatter: valueFormatter,
		},
	}
	if len(dischargeX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Discharge",
			XValues: dischargeX,
			YValues: discharge,
		})
	}
	if len(levelX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Level",
			XValues: levelX,
			YValues: level,
			YAxis:   chart.YAxisSecondary,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
