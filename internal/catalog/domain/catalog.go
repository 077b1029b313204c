package catalog

import (
	"context"
	"time"
)

// Device is a physical machine or station identified by a unique name.
type Device struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// SensorType is a measurement category with a unit of measure.
type SensorType struct {
	ID        int64
	Name      string
	Unit      string
	CreatedAt time.Time
}

// Sensor is a named measurement stream owned by a device. The
// (device, type, name) tuple is unique across the system.
type Sensor struct {
	ID        int64
	DeviceID  int64
	TypeID    int64
	Name      string
	CreatedAt time.Time
}

// SensorInfo is a denormalized view of a sensor and its owners.
type SensorInfo struct {
	SensorID   int64
	SensorName string
	DeviceName string
	TypeName   string
	Unit       string
}

// Repository persists catalog entities. Every Upsert is an atomic
// insert-if-absent that returns the surviving row, so concurrent
// resolution of the same key can never create duplicates.
type Repository interface {
	UpsertDevice(ctx context.Context, name string) (Device, error)
	UpsertSensorType(ctx context.Context, name, unit string) (SensorType, error)
	UpsertSensor(ctx context.Context, deviceID, typeID int64, name string) (Sensor, error)
	GetSensorInfo(ctx context.Context, sensorID int64) (*SensorInfo, error)
}

// DefaultUnits maps the pre-seeded sensor type catalog to units of
// measure. Unknown types are created on demand with an empty unit.
var DefaultUnits = map[string]string{
	"temperatura": "°C",
	"presion":     "bar",
	"humedad":     "%",
	"vibracion":   "mm/s",
	"estado":      "bool",
}

// UnitFor returns the default unit for a sensor type name.
func UnitFor(typeName string) string {
	return DefaultUnits[typeName]
}
