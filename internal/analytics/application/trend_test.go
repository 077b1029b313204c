package application

import (
	"context"
	"errors"
	"log"
	"math"
	"testing"
	"time"

	readings "plantwatch/internal/readings/domain"
)

type stubHistory struct {
	points []readings.Point
	err    error
}

func (s stubHistory) HistorySince(_ context.Context, _, _ string, _ time.Time) ([]readings.Point, error) {
	return s.points, s.err
}

func seriesOf(values ...float64) []readings.Point {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	points := make([]readings.Point, len(values))
	for i, v := range values {
		points[i] = readings.Point{TS: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return points
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyzePerfectLinearSeries(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(1, 2, 3, 4, 5)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendIncreasing {
		t.Fatalf("expected increasing, got %q", result.Trend)
	}
	if !almostEqual(result.Slope, 1) {
		t.Fatalf("expected slope 1, got %v", result.Slope)
	}
	if !almostEqual(result.Intercept, 1) {
		t.Fatalf("expected intercept 1, got %v", result.Intercept)
	}
	if !almostEqual(result.R2, 1) {
		t.Fatalf("expected r2 1, got %v", result.R2)
	}
	if len(result.Points) != 5 {
		t.Fatalf("expected the series echoed back, got %d points", len(result.Points))
	}
}

func TestAnalyzeDecreasingSeries(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(10, 8, 6, 4)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendDecreasing {
		t.Fatalf("expected decreasing, got %q", result.Trend)
	}
	if !almostEqual(result.Slope, -2) {
		t.Fatalf("expected slope -2, got %v", result.Slope)
	}
}

func TestAnalyzeConstantSeriesIsStable(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(7, 7, 7, 7)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendStable {
		t.Fatalf("expected stable, got %q", result.Trend)
	}
	if result.Slope != 0 {
		t.Fatalf("expected zero slope, got %v", result.Slope)
	}
	if !almostEqual(result.R2, 1) {
		t.Fatalf("expected r2 1 for a constant series, got %v", result.R2)
	}
}

func TestAnalyzeTinySlopeIsNotStable(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(0, 1e-12)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendIncreasing {
		t.Fatalf("expected increasing for a small positive slope, got %q", result.Trend)
	}
}

func TestAnalyzeSinglePoint(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(42)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendStable || result.Slope != 0 || result.Intercept != 42 {
		t.Fatalf("unexpected single-point fit: %+v", result)
	}
}

func TestAnalyzeEmptyWindow(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	if _, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{}); !errors.Is(err, ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings, got %v", err)
	}
}

func TestAnalyzePropagatesStoreError(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{err: errors.New("db down")}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	if _, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAnalyzeNoisySeriesR2Bounds(t *testing.T) {
	analyzer, err := NewTrendAnalyzer(stubHistory{points: seriesOf(1, 3, 2, 5, 4, 6)}, log.Default())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	result, err := analyzer.Analyze(context.Background(), "press1", "core", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Trend != TrendIncreasing {
		t.Fatalf("expected increasing, got %q", result.Trend)
	}
	if result.R2 <= 0 || result.R2 >= 1 {
		t.Fatalf("expected r2 strictly between 0 and 1 for a noisy fit, got %v", result.R2)
	}
}
