package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alerts "plantwatch/internal/alerts/domain"
	analytics "plantwatch/internal/analytics/application"
	readings "plantwatch/internal/readings/domain"
)

type stubHistory struct {
	points []readings.Point
	since  time.Time
	err    error
}

func (s *stubHistory) HistorySince(_ context.Context, _, _ string, since time.Time) ([]readings.Point, error) {
	s.since = since
	return s.points, s.err
}

type stubTrends struct {
	result analytics.TrendResult
	err    error
}

func (s stubTrends) Analyze(_ context.Context, _, _ string, _ time.Time) (analytics.TrendResult, error) {
	return s.result, s.err
}

type stubDevices struct {
	latest []readings.LatestValue
	err    error
}

func (s stubDevices) LatestByDevice(_ context.Context, _ string) ([]readings.LatestValue, error) {
	return s.latest, s.err
}

type stubEvents struct {
	events []alerts.CriticalEvent
}

func (s stubEvents) List(_ context.Context, _, _ int) ([]alerts.CriticalEvent, error) {
	return s.events, nil
}

type stubNotifications struct {
	rows []alerts.Notification
}

func (s stubNotifications) List(_ context.Context, _, _ int) ([]alerts.Notification, error) {
	return s.rows, nil
}

type stubResender struct {
	resent alerts.Notification
	err    error
	calls  int
}

func (s *stubResender) Resend(_ context.Context, _ int64) (alerts.Notification, error) {
	s.calls++
	return s.resent, s.err
}

func TestSensorsHandlerHistory(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	history := &stubHistory{points: []readings.Point{{TS: ts, Value: 85.3}}}
	handler := NewSensorsHandler(history, stubTrends{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/history?since=2026-08-28T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Device string `json:"device"`
		Sensor string `json:"sensor"`
		Points []struct {
			Value float64 `json:"value"`
		} `json:"points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Device != "press1" || resp.Sensor != "core" {
		t.Fatalf("unexpected identity %s/%s", resp.Device, resp.Sensor)
	}
	if len(resp.Points) != 1 || resp.Points[0].Value != 85.3 {
		t.Fatalf("unexpected points %+v", resp.Points)
	}
	if !history.since.Equal(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since not passed through, got %v", history.since)
	}
}

func TestSensorsHandlerHistoryEmptyWindow(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSensorsHandlerHistoryDaysLookback(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	history := &stubHistory{points: []readings.Point{{TS: ts, Value: 85.3}}}
	handler := NewSensorsHandler(history, stubTrends{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/history?days=3", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := time.Now().UTC().Add(-3 * 24 * time.Hour)
	if diff := history.since.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected since about three days back, got %v", history.since)
	}
}

func TestSensorsHandlerRejectsBadDays(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/history?days=0", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSensorsHandlerTrendLookbackDays(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{result: analytics.TrendResult{Trend: analytics.TrendStable}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/trend?lookback_days=7", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSensorsHandlerRejectsBadSince(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/history?since=yesterday", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSensorsHandlerTrend(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{result: analytics.TrendResult{
		Trend: analytics.TrendIncreasing,
		Slope: 1,
		R2:    1,
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/trend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp analytics.TrendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Trend != analytics.TrendIncreasing || resp.Slope != 1 {
		t.Fatalf("unexpected trend %+v", resp)
	}
}

func TestSensorsHandlerTrendEmptyWindow(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{err: analytics.ErrNoReadings})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/trend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSensorsHandlerUnknownAction(t *testing.T) {
	handler := NewSensorsHandler(&stubHistory{}, stubTrends{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/press1/core/forecast", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDevicesHandler(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	handler := NewDevicesHandler(stubDevices{latest: []readings.LatestValue{
		{SensorID: 1, SensorName: "core", TypeName: "temperatura", Unit: "°C", State: true, Value: 85.3, TS: ts},
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/press1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Device  string `json:"device"`
		Sensors []struct {
			SensorName string  `json:"sensor_name"`
			Unit       string  `json:"unit"`
			Value      float64 `json:"value"`
		} `json:"sensors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Device != "press1" || len(resp.Sensors) != 1 || resp.Sensors[0].Unit != "°C" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDevicesHandlerUnknownDevice(t *testing.T) {
	handler := NewDevicesHandler(stubDevices{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventsHandler(t *testing.T) {
	handler := NewEventsHandler(stubEvents{events: []alerts.CriticalEvent{
		{ID: 1, ReadingID: 11, SensorID: 7, Value: 50, ZScore: 40.12},
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp []struct {
		ID     int64   `json:"id"`
		ZScore float64 `json:"z_score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ZScore != 40.12 {
		t.Fatalf("unexpected events %+v", resp)
	}
}

func TestEventsHandlerRejectsBadPaging(t *testing.T) {
	handler := NewEventsHandler(stubEvents{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNotificationsResend(t *testing.T) {
	sentAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	resender := &stubResender{resent: alerts.Notification{
		ID:        3,
		EventID:   1,
		Recipient: "alerts@plant.example",
		Status:    alerts.StatusSent,
		SentAt:    &sentAt,
	}}
	handler := NewNotificationsHandler(stubNotifications{}, resender, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/3/resend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resender.calls != 1 {
		t.Fatalf("expected one resend call, got %d", resender.calls)
	}
	if !strings.Contains(rec.Body.String(), `"status":"sent"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestNotificationsResendUnknownID(t *testing.T) {
	handler := NewNotificationsHandler(stubNotifications{}, &stubResender{err: alerts.ErrNotFound}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/42/resend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNotificationsResendRequiresPost(t *testing.T) {
	handler := NewNotificationsHandler(stubNotifications{}, &stubResender{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/3/resend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestExportReadingsUnknownExtension(t *testing.T) {
	handler := &ExportReadingsHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/readings.pdf?device=press1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for handler without db, got %d", rec.Code)
	}
}

func TestBuildReadingsXLSX(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	data, err := buildReadingsXLSX("press1", []exportRow{
		{Device: "press1", Sensor: "core", Type: "temperatura", Unit: "°C", State: true, Value: 85.3, TS: ts},
	})
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected xlsx bytes")
	}
}

func TestWriteReadingsCSV(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	writeReadingsCSV(rec, []exportRow{
		{Device: "press1", Sensor: "core", Type: "temperatura", Unit: "°C", State: true, Value: 85.3, TS: ts},
	})
	body := rec.Body.String()
	if !strings.Contains(body, "device,sensor,type,unit,state,value,ts") {
		t.Fatalf("missing header: %s", body)
	}
	if !strings.Contains(body, "press1,core,temperatura,°C,true,85.3,2026-08-28T12:00:00Z") {
		t.Fatalf("missing row: %s", body)
	}
}

func TestParsePageQueryDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	limit, offset, err := parsePageQuery(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if limit != defaultListLimit || offset != 0 {
		t.Fatalf("unexpected defaults %d/%d", limit, offset)
	}
}

func TestParsePageQueryCapsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=10000&offset=5", nil)
	limit, offset, err := parsePageQuery(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if limit != maxListLimit || offset != 5 {
		t.Fatalf("expected capped limit, got %d/%d", limit, offset)
	}
}

func TestDevicesHandlerStoreError(t *testing.T) {
	handler := NewDevicesHandler(stubDevices{err: errors.New("db down")})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/press1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
