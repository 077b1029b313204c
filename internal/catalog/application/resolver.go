package application

import (
	"context"
	"errors"
	"fmt"

	catalog "plantwatch/internal/catalog/domain"
)

// Resolver maps (device, sensor type, sensor name) triples to stable
// sensor identities, creating catalog rows on first observation.
type Resolver struct {
	repo catalog.Repository
}

// NewResolver constructs a resolver.
func NewResolver(repo catalog.Repository) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("resolver: nil repository")
	}
	return &Resolver{repo: repo}, nil
}

// Resolve returns the sensor identity for the triple, creating the
// device, sensor type and sensor rows as needed. Repeated calls with
// the same triple always return the same identity.
func (r *Resolver) Resolve(ctx context.Context, deviceName, typeName, sensorName string) (catalog.Sensor, error) {
	if r == nil || r.repo == nil {
		return catalog.Sensor{}, errors.New("resolver: nil repository")
	}
	if deviceName == "" || typeName == "" || sensorName == "" {
		return catalog.Sensor{}, errors.New("resolver: empty identity segment")
	}

	device, err := r.repo.UpsertDevice(ctx, deviceName)
	if err != nil {
		return catalog.Sensor{}, fmt.Errorf("resolver: upsert device %q: %w", deviceName, err)
	}
	sensorType, err := r.repo.UpsertSensorType(ctx, typeName, catalog.UnitFor(typeName))
	if err != nil {
		return catalog.Sensor{}, fmt.Errorf("resolver: upsert sensor type %q: %w", typeName, err)
	}
	sensor, err := r.repo.UpsertSensor(ctx, device.ID, sensorType.ID, sensorName)
	if err != nil {
		return catalog.Sensor{}, fmt.Errorf("resolver: upsert sensor %q/%q/%q: %w", deviceName, typeName, sensorName, err)
	}
	return sensor, nil
}
