package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"time"

	readings "plantwatch/internal/readings/domain"
)

const defaultReadingsTable = "readings"

// DBTX is the subset of database/sql used by repositories, satisfied
// by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReadingRepository is a Postgres implementation of the time-series
// store. Readings are inserted once and never mutated.
type ReadingRepository struct {
	db    DBTX
	table string
}

// Option configures the repository.
type Option func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with the default table name.
func NewReadingRepository(db DBTX, opts ...Option) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert appends a reading and returns it with its assigned id.
func (r *ReadingRepository) Insert(ctx context.Context, reading readings.Reading) (readings.Reading, error) {
	if r == nil || r.db == nil {
		return readings.Reading{}, errors.New("reading repo: nil db")
	}
	if reading.SensorID <= 0 {
		return readings.Reading{}, errors.New("reading repo: invalid sensor id")
	}
	if reading.TS.IsZero() {
		return readings.Reading{}, errors.New("reading repo: zero timestamp")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (sensor_id, state, value, ts)
VALUES ($1, $2, $3, $4)
RETURNING id`, r.table)

	if err := r.db.QueryRowContext(ctx, query,
		reading.SensorID,
		reading.State,
		reading.Value,
		reading.TS.UTC(),
	).Scan(&reading.ID); err != nil {
		return readings.Reading{}, err
	}
	reading.TS = reading.TS.UTC()
	return reading, nil
}

// RecentValues loads up to limit values for a sensor, newest first,
// excluding one reading id. The detector uses this to build the
// anomaly baseline without the reading under evaluation.
func (r *ReadingRepository) RecentValues(ctx context.Context, sensorID, excludeID int64, limit int) ([]float64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if sensorID <= 0 {
		return nil, errors.New("reading repo: invalid sensor id")
	}
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT value
FROM %s
WHERE sensor_id = $1 AND id <> $2
ORDER BY ts DESC, id DESC
LIMIT $3`, r.table)

	rows, err := r.db.QueryContext(ctx, query, sensorID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// HistorySince loads the ascending (timestamp, value) series for a
// sensor identified by its device and sensor name.
func (r *ReadingRepository) HistorySince(ctx context.Context, deviceName, sensorName string, since time.Time) ([]readings.Point, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceName == "" || sensorName == "" {
		return nil, errors.New("reading repo: empty device/sensor name")
	}

	query := fmt.Sprintf(`
SELECT r.ts, r.value
FROM %s r
JOIN sensors s ON s.id = r.sensor_id
JOIN devices d ON d.id = s.device_id
WHERE d.name = $1 AND s.name = $2 AND r.ts >= $3
ORDER BY r.ts ASC, r.id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceName, sensorName, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []readings.Point
	for rows.Next() {
		var point readings.Point
		if err := rows.Scan(&point.TS, &point.Value); err != nil {
			return nil, err
		}
		point.TS = point.TS.UTC()
		points = append(points, point)
	}
	return points, rows.Err()
}

// RecentPoints loads up to limit (timestamp, value) pairs for a sensor,
// newest first.
func (r *ReadingRepository) RecentPoints(ctx context.Context, sensorID int64, limit int) ([]readings.Point, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if sensorID <= 0 {
		return nil, errors.New("reading repo: invalid sensor id")
	}
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT ts, value
FROM %s
WHERE sensor_id = $1
ORDER BY ts DESC, id DESC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []readings.Point
	for rows.Next() {
		var point readings.Point
		if err := rows.Scan(&point.TS, &point.Value); err != nil {
			return nil, err
		}
		point.TS = point.TS.UTC()
		points = append(points, point)
	}
	return points, rows.Err()
}

// LatestByDevice loads the most recent reading for every sensor of a
// device, joined with catalog names. Used by the device view endpoint.
func (r *ReadingRepository) LatestByDevice(ctx context.Context, deviceName string) ([]readings.LatestValue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceName == "" {
		return nil, errors.New("reading repo: empty device name")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (s.id) s.id, s.name, t.name, t.unit, r.state, r.value, r.ts
FROM %s r
JOIN sensors s ON s.id = r.sensor_id
JOIN sensor_types t ON t.id = s.type_id
JOIN devices d ON d.id = s.device_id
WHERE d.name = $1
ORDER BY s.id, r.ts DESC, r.id DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.LatestValue
	for rows.Next() {
		var latest readings.LatestValue
		if err := rows.Scan(
			&latest.SensorID,
			&latest.SensorName,
			&latest.TypeName,
			&latest.Unit,
			&latest.State,
			&latest.Value,
			&latest.TS,
		); err != nil {
			return nil, err
		}
		latest.TS = latest.TS.UTC()
		result = append(result, latest)
	}
	return result, rows.Err()
}
