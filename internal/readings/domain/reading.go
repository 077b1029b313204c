package readings

import (
	"context"
	"time"
)

// Reading is one immutable timestamped observation for a sensor.
// Readings are append-only: no operation in this system updates or
// deletes one.
type Reading struct {
	ID       int64
	SensorID int64
	State    bool
	Value    float64
	TS       time.Time
}

// Point is a (timestamp, value) pair from a sensor's history.
type Point struct {
	TS    time.Time
	Value float64
}

// LatestValue is the most recent reading of one sensor, joined with
// its catalog names for device views.
type LatestValue struct {
	SensorID   int64
	SensorName string
	TypeName   string
	Unit       string
	State      bool
	Value      float64
	TS         time.Time
}

// Writer appends readings.
type Writer interface {
	Insert(ctx context.Context, reading Reading) (Reading, error)
}

// HistoryReader loads slices of a sensor's reading history.
type HistoryReader interface {
	// RecentValues returns up to limit values for the sensor ordered
	// newest-first, excluding the reading identified by excludeID.
	RecentValues(ctx context.Context, sensorID, excludeID int64, limit int) ([]float64, error)
	// HistorySince returns the (timestamp, value) series for the sensor
	// identified by device and sensor name, ascending by time.
	HistorySince(ctx context.Context, deviceName, sensorName string, since time.Time) ([]Point, error)
	// RecentPoints returns up to limit (timestamp, value) pairs for the
	// sensor ordered newest-first.
	RecentPoints(ctx context.Context, sensorID int64, limit int) ([]Point, error)
}
