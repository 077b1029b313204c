package apihttp

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	alerts "plantwatch/internal/alerts/domain"
	analytics "plantwatch/internal/analytics/application"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	readings "plantwatch/internal/readings/domain"
)

const timeLayout = time.RFC3339

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultLookback  = 24 * time.Hour
)

// SensorHistory loads a sensor's ascending series.
type SensorHistory interface {
	HistorySince(ctx context.Context, deviceName, sensorName string, since time.Time) ([]readings.Point, error)
}

// TrendSource fits a trend over a sensor's window.
type TrendSource interface {
	Analyze(ctx context.Context, deviceName, sensorName string, since time.Time) (analytics.TrendResult, error)
}

// SensorsHandler serves sensor history and trend queries.
type SensorsHandler struct {
	history SensorHistory
	trends  TrendSource
}

// NewSensorsHandler constructs a SensorsHandler.
func NewSensorsHandler(history SensorHistory, trends TrendSource) *SensorsHandler {
	return &SensorsHandler{history: history, trends: trends}
}

// ServeHTTP handles GET /api/v1/sensors/{device}/{sensor}/{history|trend}.
func (h *SensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.history == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sensors/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	device, sensor, action := parts[0], parts[1], parts[2]

	since, err := parseSinceQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch action {
	case "history":
		points, err := h.history.HistorySince(r.Context(), device, sensor, since)
		if err != nil {
			http.Error(w, "query history error", http.StatusInternalServerError)
			return
		}
		if len(points) == 0 {
			http.Error(w, "no readings in window", http.StatusNotFound)
			return
		}
		writeJSON(w, historyResponse{Device: device, Sensor: sensor, Since: since, Points: toPointRows(points)})
	case "trend":
		if h.trends == nil {
			http.Error(w, "server not ready", http.StatusServiceUnavailable)
			return
		}
		result, err := h.trends.Analyze(r.Context(), device, sensor, since)
		if err != nil {
			if errors.Is(err, analytics.ErrNoReadings) {
				http.Error(w, "no readings in window", http.StatusNotFound)
				return
			}
			http.Error(w, "trend analysis error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, result)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// DeviceReader loads the latest reading per sensor of one device.
type DeviceReader interface {
	LatestByDevice(ctx context.Context, deviceName string) ([]readings.LatestValue, error)
}

// DevicesHandler serves the per-device latest-values view.
type DevicesHandler struct {
	devices DeviceReader
}

// NewDevicesHandler constructs a DevicesHandler.
func NewDevicesHandler(devices DeviceReader) *DevicesHandler {
	return &DevicesHandler{devices: devices}
}

// ServeHTTP handles GET /api/v1/devices/{name}.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.devices == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if name == "" || strings.Contains(name, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	latest, err := h.devices.LatestByDevice(r.Context(), name)
	if err != nil {
		http.Error(w, "query device error", http.StatusInternalServerError)
		return
	}
	if len(latest) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, deviceResponse{Device: name, Sensors: toLatestRows(latest)})
}

// EventLister loads pages of critical events, newest first.
type EventLister interface {
	List(ctx context.Context, limit, offset int) ([]alerts.CriticalEvent, error)
}

// EventsHandler serves the critical-event listing.
type EventsHandler struct {
	events EventLister
}

// NewEventsHandler constructs an EventsHandler.
func NewEventsHandler(events EventLister) *EventsHandler {
	return &EventsHandler{events: events}
}

// ServeHTTP handles GET /api/v1/events.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.events == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	limit, offset, err := parsePageQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.events.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "query events error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toEventRows(events))
}

// NotificationLister loads pages of notification records, newest first.
type NotificationLister interface {
	List(ctx context.Context, limit, offset int) ([]alerts.Notification, error)
}

// Resender re-attempts delivery of one notification.
type Resender interface {
	Resend(ctx context.Context, notificationID int64) (alerts.Notification, error)
}

// NotificationsHandler serves notification listing and resend.
type NotificationsHandler struct {
	notifications NotificationLister
	resender      Resender
	auditLogger   audit.Logger
}

// NewNotificationsHandler constructs a NotificationsHandler.
func NewNotificationsHandler(notifications NotificationLister, resender Resender, auditLogger audit.Logger) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications, resender: resender, auditLogger: auditLogger}
}

// ServeHTTP handles /api/v1/notifications and subroutes.
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.notifications == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/notifications":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/notifications/"):
		h.handleResend(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *NotificationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePageQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	notifications, err := h.notifications.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "query notifications error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toNotificationRows(notifications))
}

func (h *NotificationsHandler) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.resender == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/notifications/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "resend" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}

	notification, err := h.resender.Resend(r.Context(), id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "resend failed", http.StatusBadGateway)
		return
	}
	writeAudit(r, h.auditLogger, "notification.resend", "notification", parts[0], map[string]any{
		"event_id":  notification.EventID,
		"recipient": notification.Recipient,
	})
	writeJSON(w, toNotificationRow(notification))
}

func writeAudit(r *http.Request, logger audit.Logger, action, resourceType, resourceID string, meta map[string]any) {
	if logger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = logger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
}

// ExportReadingsHandler serves reading exports as XLSX or CSV,
// depending on the requested path extension.
type ExportReadingsHandler struct {
	db          *sql.DB
	auditLogger audit.Logger
}

// NewExportReadingsHandler constructs an ExportReadingsHandler.
func NewExportReadingsHandler(db *sql.DB, auditLogger audit.Logger) *ExportReadingsHandler {
	return &ExportReadingsHandler{db: db, auditLogger: auditLogger}
}

// ServeHTTP handles GET /api/v1/exports/readings.{xlsx|csv}.
func (h *ExportReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	device := r.URL.Query().Get("device")
	if device == "" {
		http.Error(w, "device is required", http.StatusBadRequest)
		return
	}
	sensor := r.URL.Query().Get("sensor")

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	rows, err := queryExportRows(r.Context(), h.db, device, sensor, from, to)
	if err != nil {
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}
	writeAudit(r, h.auditLogger, "readings.export", "device", device, map[string]any{
		"sensor": sensor,
		"from":   from.Format(timeLayout),
		"to":     to.Format(timeLayout),
		"rows":   len(rows),
	})

	switch {
	case strings.HasSuffix(r.URL.Path, ".xlsx"):
		data, err := buildReadingsXLSX(device, rows)
		if err != nil {
			http.Error(w, "build xlsx error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="readings.xlsx"`)
		_, _ = w.Write(data)
	case strings.HasSuffix(r.URL.Path, ".csv"):
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
		writeReadingsCSV(w, rows)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type exportRow struct {
	Device string
	Sensor string
	Type   string
	Unit   string
	State  bool
	Value  float64
	TS     time.Time
}

func queryExportRows(ctx context.Context, db *sql.DB, device, sensor string, from, to time.Time) ([]exportRow, error) {
	query := `
SELECT d.name, s.name, t.name, t.unit, r.state, r.value, r.ts
FROM readings r
JOIN sensors s ON s.id = r.sensor_id
JOIN sensor_types t ON t.id = s.type_id
JOIN devices d ON d.id = s.device_id
WHERE d.name = $1
	AND r.ts >= $2
	AND r.ts < $3`
	args := []any{device, from.UTC(), to.UTC()}
	if sensor != "" {
		query += `
	AND s.name = $4`
		args = append(args, sensor)
	}
	query += `
ORDER BY r.ts ASC, r.id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []exportRow
	for rows.Next() {
		var row exportRow
		if err := rows.Scan(
			&row.Device,
			&row.Sensor,
			&row.Type,
			&row.Unit,
			&row.State,
			&row.Value,
			&row.TS,
		); err != nil {
			return nil, err
		}
		row.TS = row.TS.UTC()
		result = append(result, row)
	}
	return result, rows.Err()
}

func buildReadingsXLSX(device string, rows []exportRow) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "readings"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Device")
	_ = f.SetCellValue(sheet, "B1", device)
	headers := []string{"Timestamp", "Sensor", "Type", "Unit", "State", "Value"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, row := range rows {
		line := i + 4
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", line), row.TS.Format(timeLayout))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", line), row.Sensor)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", line), row.Type)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", line), row.Unit)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", line), row.State)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", line), row.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeReadingsCSV(w http.ResponseWriter, rows []exportRow) {
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"device", "sensor", "type", "unit", "state", "value", "ts"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.Device,
			row.Sensor,
			row.Type,
			row.Unit,
			strconv.FormatBool(row.State),
			formatFloat(row.Value),
			row.TS.Format(timeLayout),
		})
	}
	writer.Flush()
}

type pointRow struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

type historyResponse struct {
	Device string     `json:"device"`
	Sensor string     `json:"sensor"`
	Since  time.Time  `json:"since"`
	Points []pointRow `json:"points"`
}

type latestRow struct {
	SensorID   int64     `json:"sensor_id"`
	SensorName string    `json:"sensor_name"`
	TypeName   string    `json:"type_name"`
	Unit       string    `json:"unit"`
	State      bool      `json:"state"`
	Value      float64   `json:"value"`
	TS         time.Time `json:"ts"`
}

type deviceResponse struct {
	Device  string      `json:"device"`
	Sensors []latestRow `json:"sensors"`
}

type eventRow struct {
	ID          int64     `json:"id"`
	ReadingID   int64     `json:"reading_id"`
	SensorID    int64     `json:"sensor_id"`
	Value       float64   `json:"value"`
	ZScore      float64   `json:"z_score"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type notificationRow struct {
	ID        int64      `json:"id"`
	EventID   int64      `json:"event_id"`
	Recipient string     `json:"recipient"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func toPointRows(points []readings.Point) []pointRow {
	result := make([]pointRow, 0, len(points))
	for _, p := range points {
		result = append(result, pointRow{TS: p.TS, Value: p.Value})
	}
	return result
}

func toLatestRows(latest []readings.LatestValue) []latestRow {
	result := make([]latestRow, 0, len(latest))
	for _, l := range latest {
		result = append(result, latestRow{
			SensorID:   l.SensorID,
			SensorName: l.SensorName,
			TypeName:   l.TypeName,
			Unit:       l.Unit,
			State:      l.State,
			Value:      l.Value,
			TS:         l.TS,
		})
	}
	return result
}

func toEventRows(events []alerts.CriticalEvent) []eventRow {
	result := make([]eventRow, 0, len(events))
	for _, e := range events {
		result = append(result, eventRow{
			ID:          e.ID,
			ReadingID:   e.ReadingID,
			SensorID:    e.SensorID,
			Value:       e.Value,
			ZScore:      e.ZScore,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	return result
}

func toNotificationRow(n alerts.Notification) notificationRow {
	return notificationRow{
		ID:        n.ID,
		EventID:   n.EventID,
		Recipient: n.Recipient,
		Status:    n.Status,
		SentAt:    n.SentAt,
		CreatedAt: n.CreatedAt,
	}
}

func toNotificationRows(notifications []alerts.Notification) []notificationRow {
	result := make([]notificationRow, 0, len(notifications))
	for _, n := range notifications {
		result = append(result, toNotificationRow(n))
	}
	return result
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

// parseSinceQuery resolves the window start. days=N and lookback_days=N
// select a whole-day lookback, since=<RFC3339> an explicit instant. The
// default window is the last 24 hours.
func parseSinceQuery(r *http.Request) (time.Time, error) {
	for _, key := range []string{"days", "lookback_days"} {
		value := r.URL.Query().Get(key)
		if value == "" {
			continue
		}
		days, err := strconv.Atoi(value)
		if err != nil || days <= 0 {
			return time.Time{}, errors.New(key + " must be a positive integer")
		}
		return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
	}
	value := r.URL.Query().Get("since")
	if value == "" {
		return time.Now().UTC().Add(-defaultLookback), nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New("since must be RFC3339")
	}
	return parsed.UTC(), nil
}

func parsePageQuery(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err = strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
	}
	if value := r.URL.Query().Get("offset"); value != "" {
		offset, err = strconv.Atoi(value)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
