package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	catalog "plantwatch/internal/catalog/domain"
)

const (
	defaultDevicesTable     = "devices"
	defaultSensorTypesTable = "sensor_types"
	defaultSensorsTable     = "sensors"
)

// DBTX is the subset of database/sql used by repositories, satisfied
// by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CatalogRepository is a Postgres implementation of the catalog store.
// All writes are upsert-by-unique-key so that concurrent resolution of
// a never-seen identity cannot insert duplicates.
type CatalogRepository struct {
	db               DBTX
	devicesTable     string
	sensorTypesTable string
	sensorsTable     string
}

// Option configures the repository.
type Option func(*CatalogRepository)

// WithDevicesTable overrides the default devices table name.
func WithDevicesTable(table string) Option {
	return func(repo *CatalogRepository) {
		if table != "" {
			repo.devicesTable = table
		}
	}
}

// WithSensorTypesTable overrides the default sensor types table name.
func WithSensorTypesTable(table string) Option {
	return func(repo *CatalogRepository) {
		if table != "" {
			repo.sensorTypesTable = table
		}
	}
}

// WithSensorsTable overrides the default sensors table name.
func WithSensorsTable(table string) Option {
	return func(repo *CatalogRepository) {
		if table != "" {
			repo.sensorsTable = table
		}
	}
}

// NewCatalogRepository constructs a repository with default table names.
func NewCatalogRepository(db DBTX, opts ...Option) *CatalogRepository {
	repo := &CatalogRepository{
		db:               db,
		devicesTable:     defaultDevicesTable,
		sensorTypesTable: defaultSensorTypesTable,
		sensorsTable:     defaultSensorsTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UpsertDevice inserts a device by name or returns the existing row.
func (r *CatalogRepository) UpsertDevice(ctx context.Context, name string) (catalog.Device, error) {
	if r == nil || r.db == nil {
		return catalog.Device{}, errors.New("catalog repo: nil db")
	}
	if name == "" {
		return catalog.Device{}, errors.New("catalog repo: empty device name")
	}

	// DO UPDATE is a no-op write that makes RETURNING yield the row on
	// conflict as well, keeping the operation a single round trip.
	query := fmt.Sprintf(`
INSERT INTO %s (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, created_at`, r.devicesTable)

	var device catalog.Device
	if err := r.db.QueryRowContext(ctx, query, name).Scan(
		&device.ID,
		&device.Name,
		&device.CreatedAt,
	); err != nil {
		return catalog.Device{}, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	return device, nil
}

// UpsertSensorType inserts a sensor type by name or returns the
// existing row. The unit of an existing row is never overwritten.
func (r *CatalogRepository) UpsertSensorType(ctx context.Context, name, unit string) (catalog.SensorType, error) {
	if r == nil || r.db == nil {
		return catalog.SensorType{}, errors.New("catalog repo: nil db")
	}
	if name == "" {
		return catalog.SensorType{}, errors.New("catalog repo: empty sensor type name")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (name, unit)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, unit, created_at`, r.sensorTypesTable)

	var sensorType catalog.SensorType
	if err := r.db.QueryRowContext(ctx, query, name, unit).Scan(
		&sensorType.ID,
		&sensorType.Name,
		&sensorType.Unit,
		&sensorType.CreatedAt,
	); err != nil {
		return catalog.SensorType{}, err
	}
	sensorType.CreatedAt = sensorType.CreatedAt.UTC()
	return sensorType, nil
}

// UpsertSensor inserts a sensor by its identity tuple or returns the
// existing row.
func (r *CatalogRepository) UpsertSensor(ctx context.Context, deviceID, typeID int64, name string) (catalog.Sensor, error) {
	if r == nil || r.db == nil {
		return catalog.Sensor{}, errors.New("catalog repo: nil db")
	}
	if deviceID <= 0 || typeID <= 0 {
		return catalog.Sensor{}, errors.New("catalog repo: invalid device/type id")
	}
	if name == "" {
		return catalog.Sensor{}, errors.New("catalog repo: empty sensor name")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id, type_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (device_id, type_id, name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, device_id, type_id, name, created_at`, r.sensorsTable)

	var sensor catalog.Sensor
	if err := r.db.QueryRowContext(ctx, query, deviceID, typeID, name).Scan(
		&sensor.ID,
		&sensor.DeviceID,
		&sensor.TypeID,
		&sensor.Name,
		&sensor.CreatedAt,
	); err != nil {
		return catalog.Sensor{}, err
	}
	sensor.CreatedAt = sensor.CreatedAt.UTC()
	return sensor, nil
}

// GetSensorInfo loads the denormalized sensor view, or nil when the
// sensor does not exist.
func (r *CatalogRepository) GetSensorInfo(ctx context.Context, sensorID int64) (*catalog.SensorInfo, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("catalog repo: nil db")
	}
	if sensorID <= 0 {
		return nil, errors.New("catalog repo: invalid sensor id")
	}

	query := fmt.Sprintf(`
SELECT s.id, s.name, d.name, t.name, t.unit
FROM %s s
JOIN %s d ON d.id = s.device_id
JOIN %s t ON t.id = s.type_id
WHERE s.id = $1
LIMIT 1`, r.sensorsTable, r.devicesTable, r.sensorTypesTable)

	var info catalog.SensorInfo
	if err := r.db.QueryRowContext(ctx, query, sensorID).Scan(
		&info.SensorID,
		&info.SensorName,
		&info.DeviceName,
		&info.TypeName,
		&info.Unit,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}
