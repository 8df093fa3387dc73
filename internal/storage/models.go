package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StationRecord is a persisted gauge station.
type StationRecord struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	Authority string
	CreatedAt time.Time
}

// ArchivedSample is one persisted flow observation. Discharge and level are
// independently nullable, mirroring the upstream feeds.
type ArchivedSample struct {
	StationID string
	Timestamp time.Time
	Discharge *decimal.Decimal
	Level     *decimal.Decimal
	Source    string
	CreatedAt time.Time
}
