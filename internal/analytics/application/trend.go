package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"plantwatch/internal/observability/metrics"
	readings "plantwatch/internal/readings/domain"
)

// ErrNoReadings is returned when the requested window holds no data.
var ErrNoReadings = errors.New("analytics: no readings in window")

// Trend labels for the fitted slope.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendResult is the least-squares fit over a sensor's window.
type TrendResult struct {
	Trend     string           `json:"trend"`
	Slope     float64          `json:"slope"`
	Intercept float64          `json:"intercept"`
	R2        float64          `json:"r2"`
	Points    []readings.Point `json:"points"`
}

// HistorySource loads the ascending series for one sensor.
type HistorySource interface {
	HistorySince(ctx context.Context, deviceName, sensorName string, since time.Time) ([]readings.Point, error)
}

// TrendAnalyzer fits ordinary least squares over a sensor's recent
// values, regressing value against observation index.
type TrendAnalyzer struct {
	history HistorySource
	logger  *log.Logger
}

// NewTrendAnalyzer constructs a trend analyzer.
func NewTrendAnalyzer(history HistorySource, logger *log.Logger) (*TrendAnalyzer, error) {
	if history == nil {
		return nil, errors.New("analytics: nil history source")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TrendAnalyzer{history: history, logger: logger}, nil
}

// Analyze fits the series observed since the given instant for one
// sensor and classifies its direction.
func (a *TrendAnalyzer) Analyze(ctx context.Context, deviceName, sensorName string, since time.Time) (TrendResult, error) {
	points, err := a.history.HistorySince(ctx, deviceName, sensorName, since)
	if err != nil {
		a.logger.Printf("trend: history load for %s/%s failed: %v", deviceName, sensorName, err)
		metrics.IncTrendRequest(metrics.ResultError)
		return TrendResult{}, fmt.Errorf("analytics: load history for %s/%s: %w", deviceName, sensorName, err)
	}
	if len(points) == 0 {
		metrics.IncTrendRequest(metrics.ResultError)
		return TrendResult{}, ErrNoReadings
	}

	result := fit(points)
	metrics.IncTrendRequest(metrics.ResultSuccess)
	return result, nil
}

// fit runs OLS of value against 0-based observation index. Regressing
// on the index rather than wall time keeps the slope meaningful when
// readings arrive at an uneven cadence.
func fit(points []readings.Point) TrendResult {
	n := float64(len(points))
	if len(points) == 1 {
		return TrendResult{
			Trend:     TrendStable,
			Slope:     0,
			Intercept: points[0].Value,
			R2:        1,
			Points:    points,
		}
	}

	var sumX, sumY float64
	for i, p := range points {
		sumX += float64(i)
		sumY += p.Value
	}
	meanX := sumX / n
	meanY := sumY / n

	var sxx, sxy float64
	for i, p := range points {
		dx := float64(i) - meanX
		sxx += dx * dx
		sxy += dx * (p.Value - meanY)
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX

	var ssRes, ssTot float64
	for i, p := range points {
		predicted := intercept + slope*float64(i)
		ssRes += (p.Value - predicted) * (p.Value - predicted)
		ssTot += (p.Value - meanY) * (p.Value - meanY)
	}

	// A constant series fits itself perfectly.
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return TrendResult{
		Trend:     classify(slope),
		Slope:     slope,
		Intercept: intercept,
		R2:        r2,
		Points:    points,
	}
}

// classify labels the direction. Stable means an exactly zero slope,
// which OLS produces for constant series since the cross terms cancel.
func classify(slope float64) string {
	switch {
	case slope > 0:
		return TrendIncreasing
	case slope < 0:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
