// Package storage persists stations and flow samples in PostgreSQL. The
// archive is supporting infrastructure: the engine runs without it, the CLI
// export and backfill commands need it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"riverflow/internal/hydro"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrStationNotFound indicates an unknown station id.
	ErrStationNotFound = errors.New("storage: station not found")
)

const (
	upsertFlowSampleSQL = `INSERT INTO flow_samples (
        station_id,
        sample_ts,
        discharge,
        level,
        source
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (station_id, sample_ts) DO UPDATE
    SET
        discharge = EXCLUDED.discharge,
        level     = EXCLUDED.level,
        source    = EXCLUDED.source;`

	listSamplesBetweenSQL = `SELECT
        station_id,
        sample_ts,
        discharge,
        level,
        source,
        created_at
    FROM flow_samples
    WHERE station_id = $1
      AND sample_ts >= $2
      AND sample_ts < $3
    ORDER BY sample_ts;`

	listRecentSamplesSQL = `SELECT
        station_id,
        sample_ts,
        discharge,
        level,
        source,
        created_at
    FROM flow_samples
    WHERE station_id = $1
    ORDER BY sample_ts DESC
    LIMIT $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM flow_samples WHERE station_id = $1;`

	upsertStationSQL = `INSERT INTO stations (
        station_id,
        name,
        latitude,
        longitude,
        authority
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (station_id) DO UPDATE
    SET name      = EXCLUDED.name,
        latitude  = EXCLUDED.latitude,
        longitude = EXCLUDED.longitude,
        authority = EXCLUDED.authority;`

	listStationsSQL = `SELECT
        station_id,
        name,
        latitude,
        longitude,
        authority,
        created_at
    FROM stations
    ORDER BY station_id;`

	getStationSQL = `SELECT
        station_id,
        name,
        latitude,
        longitude,
        authority,
        created_at
    FROM stations
    WHERE station_id = $1;`

	listTrackedStationsSQL = `SELECT station_id FROM tracked_stations ORDER BY station_id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleArchive defines operations for flow sample persistence.
type SampleArchive interface {
	UpsertSamples(ctx context.Context, stationID string, samples []hydro.FlowSample) (int64, error)
	ListSamplesBetween(ctx context.Context, stationID string, from, to time.Time) ([]ArchivedSample, error)
	ListRecentSamples(ctx context.Context, stationID string, limit int) ([]ArchivedSample, error)
	CountSamples(ctx context.Context, stationID string) (int64, error)
}

// StationCatalog defines operations for station reference data.
type StationCatalog interface {
	UpsertStation(ctx context.Context, station StationRecord) error
	ListStations(ctx context.Context) ([]StationRecord, error)
	GetStation(ctx context.Context, stationID string) (StationRecord, error)
	ListTrackedStations(ctx context.Context) ([]string, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to stations and the flow sample archive.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Replicas use it so only one runs the refresh sweep.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertSamples persists a batch of fetched samples, replacing prior values
// at the same timestamp. Samples carrying neither discharge nor level are
// skipped. Returns how many rows were written.
func (s *Store) UpsertSamples(ctx context.Context, stationID string, samples []hydro.FlowSample) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var stored int64
	for _, sample := range samples {
		if sample.Empty() {
			continue
		}
		_, execErr := pool.Exec(ctx, upsertFlowSampleSQL,
			stationID,
			sample.Timestamp,
			decimalArg(sample.Discharge),
			decimalArg(sample.Level),
			string(sample.Source),
		)
		if execErr != nil {
			return stored, fmt.Errorf("upsert flow sample: %w", execErr)
		}
		stored++
	}
	return stored, nil
}

// ListSamplesBetween lists a station's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, stationID string, from, to time.Time) ([]ArchivedSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, stationID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// ListRecentSamples lists a station's most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, stationID string, limit int) ([]ArchivedSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, stationID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// CountSamples counts a station's archived samples.
func (s *Store) CountSamples(ctx context.Context, stationID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL, stationID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// UpsertStation persists station reference data.
func (s *Store) UpsertStation(ctx context.Context, station StationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertStationSQL,
		station.ID,
		station.Name,
		station.Latitude,
		station.Longitude,
		station.Authority,
	)
	if execErr != nil {
		return fmt.Errorf("upsert station: %w", execErr)
	}
	return nil
}

// ListStations lists all known stations.
func (s *Store) ListStations(ctx context.Context) ([]StationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStationsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list stations: %w", queryErr)
	}
	defer rows.Close()

	stations := make([]StationRecord, 0)
	for rows.Next() {
		station, scanErr := scanStation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		stations = append(stations, station)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stations, nil
}

// GetStation fetches one station by id.
func (s *Store) GetStation(ctx context.Context, stationID string) (StationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return StationRecord{}, err
	}

	rows, queryErr := pool.Query(ctx, getStationSQL, stationID)
	if queryErr != nil {
		return StationRecord{}, fmt.Errorf("get station: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return StationRecord{}, rows.Err()
		}
		return StationRecord{}, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	return scanStation(rows)
}

// ListTrackedStations lists the station ids the poller refreshes.
func (s *Store) ListTrackedStations(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTrackedStationsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list tracked stations: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func collectSamples(rows pgx.Rows) ([]ArchivedSample, error) {
	samples := make([]ArchivedSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanSample(rows pgx.Rows) (ArchivedSample, error) {
	var (
		stationID string
		ts        time.Time
		discharge sql.NullString
		level     sql.NullString
		source    string
		createdAt time.Time
	)

	if err := rows.Scan(&stationID, &ts, &discharge, &level, &source, &createdAt); err != nil {
		return ArchivedSample{}, err
	}

	sample := ArchivedSample{
		StationID: stationID,
		Timestamp: ts,
		Source:    source,
		CreatedAt: createdAt,
	}

	if discharge.Valid {
		value, err := decimal.NewFromString(discharge.String)
		if err != nil {
			return ArchivedSample{}, fmt.Errorf("parse discharge: %w", err)
		}
		sample.Discharge = &value
	}
	if level.Valid {
		value, err := decimal.NewFromString(level.String)
		if err != nil {
			return ArchivedSample{}, fmt.Errorf("parse level: %w", err)
		}
		sample.Level = &value
	}

	return sample, nil
}

func scanStation(rows pgx.Rows) (StationRecord, error) {
	var station StationRecord
	if err := rows.Scan(
		&station.ID,
		&station.Name,
		&station.Latitude,
		&station.Longitude,
		&station.Authority,
		&station.CreatedAt,
	); err != nil {
		return StationRecord{}, err
	}
	return station, nil
}

var (
	_ SampleArchive  = (*Store)(nil)
	_ StationCatalog = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
