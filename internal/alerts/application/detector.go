package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	alerts "plantwatch/internal/alerts/domain"
	readings "plantwatch/internal/readings/domain"
)

const (
	// DefaultWindow is the rolling baseline size in readings.
	DefaultWindow = 100
	// DefaultThreshold is the minimum |z-score| that raises an event.
	DefaultThreshold = 3.0
)

// HistoryReader loads the recent values of a sensor, newest first,
// excluding one reading id.
type HistoryReader interface {
	RecentValues(ctx context.Context, sensorID, excludeID int64, limit int) ([]float64, error)
}

// EventWriter persists critical events.
type EventWriter interface {
	Insert(ctx context.Context, event alerts.CriticalEvent) (alerts.CriticalEvent, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Detector evaluates new readings against a rolling window of the
// sensor's history and raises critical events on z-score breaches.
type Detector struct {
	history   HistoryReader
	events    EventWriter
	window    int
	threshold float64
	clock     Clock
}

// DetectorOption customizes the detector.
type DetectorOption func(*Detector)

// WithWindow overrides the rolling window size.
func WithWindow(window int) DetectorOption {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithThreshold overrides the z-score threshold.
func WithThreshold(threshold float64) DetectorOption {
	return func(d *Detector) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) DetectorOption {
	return func(d *Detector) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDetector constructs a detector.
func NewDetector(history HistoryReader, events EventWriter, opts ...DetectorOption) (*Detector, error) {
	if history == nil {
		return nil, errors.New("detector: nil history reader")
	}
	if events == nil {
		return nil, errors.New("detector: nil event writer")
	}
	detector := &Detector{
		history:   history,
		events:    events,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(detector)
	}
	return detector, nil
}

// Evaluate checks a freshly written reading against the sensor's
// rolling baseline. It returns the created critical event when the
// reading is anomalous and nil otherwise. Fewer than two history
// points or zero variance skip evaluation without error.
func (d *Detector) Evaluate(ctx context.Context, reading readings.Reading) (*alerts.CriticalEvent, error) {
	if d == nil || d.history == nil || d.events == nil {
		return nil, errors.New("detector: not initialized")
	}

	history, err := d.history.RecentValues(ctx, reading.SensorID, reading.ID, d.window)
	if err != nil {
		return nil, fmt.Errorf("detector: load history for sensor %d: %w", reading.SensorID, err)
	}
	if len(history) < 2 {
		return nil, nil
	}

	mean, stddev := sampleStats(history)
	if stddev == 0 {
		return nil, nil
	}

	z := (reading.Value - mean) / stddev
	if math.Abs(z) <= d.threshold {
		return nil, nil
	}

	event := alerts.CriticalEvent{
		ReadingID:   reading.ID,
		SensorID:    reading.SensorID,
		Value:       reading.Value,
		ZScore:      z,
		Description: fmt.Sprintf("anomalous reading %g deviates from window mean %.2f (z-score %.2f)", reading.Value, mean, z),
		CreatedAt:   d.clock.Now(),
	}
	created, err := d.events.Insert(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("detector: persist event for reading %d: %w", reading.ID, err)
	}
	return &created, nil
}

// sampleStats returns the sample mean and the sample standard
// deviation (Bessel's correction, n-1 denominator).
func sampleStats(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, value := range values {
		sum += value
	}
	mean = sum / n
	if n < 2 {
		return mean, 0
	}
	var squares float64
	for _, value := range values {
		delta := value - mean
		squares += delta * delta
	}
	return mean, math.Sqrt(squares / (n - 1))
}
