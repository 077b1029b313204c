package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	alerts "plantwatch/internal/alerts/domain"
	catalog "plantwatch/internal/catalog/domain"
	"plantwatch/internal/observability/metrics"
	readings "plantwatch/internal/readings/domain"
)

const (
	defaultQueueSize      = 256
	defaultWorkers        = 2
	defaultDeliverTimeout = 30 * time.Second
	defaultReportPoints   = 20
)

// EventReader loads critical events for resend.
type EventReader interface {
	GetByID(ctx context.Context, id int64) (*alerts.CriticalEvent, error)
}

// NotificationStore persists notification delivery records.
type NotificationStore interface {
	Insert(ctx context.Context, notification alerts.Notification) (alerts.Notification, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	GetByID(ctx context.Context, id int64) (*alerts.Notification, error)
}

// SensorReader loads catalog metadata for rendered content.
type SensorReader interface {
	GetSensorInfo(ctx context.Context, sensorID int64) (*catalog.SensorInfo, error)
}

// PointReader loads recent readings for the PDF report table.
type PointReader interface {
	RecentPoints(ctx context.Context, sensorID int64, limit int) ([]readings.Point, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Dispatcher turns critical events into notification records and
// delivers them through a channel from a bounded queue consumed by a
// worker pool, so ingestion throughput is never coupled to delivery
// latency. When the queue is full the oldest queued event is dropped.
type Dispatcher struct {
	events     EventReader
	store      NotificationStore
	sensors    SensorReader
	points     PointReader
	channel    Channel
	template   *Template
	recipients []string
	logger     *log.Logger
	clock      Clock

	queue          chan alerts.CriticalEvent
	workers        int
	deliverTimeout time.Duration
	reportPoints   int

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan alerts.CriticalEvent, size)
		}
	}
}

// WithWorkers overrides the delivery worker count.
func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}

// WithDeliverTimeout overrides the per-delivery timeout.
func WithDeliverTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.deliverTimeout = timeout
		}
	}
}

// WithPointReader enables the recent-readings table in PDF reports.
func WithPointReader(points PointReader) DispatcherOption {
	return func(d *Dispatcher) {
		d.points = points
	}
}

// WithReportPoints overrides how many recent readings the report shows.
func WithReportPoints(count int) DispatcherOption {
	return func(d *Dispatcher) {
		if count > 0 {
			d.reportPoints = count
		}
	}
}

// WithDispatcherClock overrides the default clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDispatcher constructs a dispatcher. recipients is the static
// alert distribution list every event is delivered to.
func NewDispatcher(events EventReader, store NotificationStore, sensors SensorReader, channel Channel, template *Template, recipients []string, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if events == nil {
		return nil, errors.New("dispatcher: nil event reader")
	}
	if store == nil {
		return nil, errors.New("dispatcher: nil notification store")
	}
	if channel == nil {
		return nil, errors.New("dispatcher: nil channel")
	}
	if len(recipients) == 0 {
		return nil, errors.New("dispatcher: empty recipient list")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if logger == nil {
		logger = log.Default()
	}
	dispatcher := &Dispatcher{
		events:         events,
		store:          store,
		sensors:        sensors,
		channel:        channel,
		template:       template,
		recipients:     recipients,
		logger:         logger,
		clock:          systemClock{},
		queue:          make(chan alerts.CriticalEvent, defaultQueueSize),
		workers:        defaultWorkers,
		deliverTimeout: defaultDeliverTimeout,
		reportPoints:   defaultReportPoints,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Dispatch enqueues a critical event for delivery. It never blocks:
// when the queue is full the oldest queued event is discarded and
// counted, and the new event takes its place.
func (d *Dispatcher) Dispatch(event alerts.CriticalEvent) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Printf("notify: dispatcher closed, dropping event %d", event.ID)
		metrics.IncNotificationDropped()
		return
	}
	for {
		select {
		case d.queue <- event:
			metrics.SetNotifyQueueDepth(len(d.queue))
			return
		default:
		}
		select {
		case dropped := <-d.queue:
			d.logger.Printf("notify: queue full, dropping oldest event %d", dropped.ID)
			metrics.IncNotificationDropped()
		default:
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries to
// finish or the context to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		metrics.SetNotifyQueueDepth(len(d.queue))
		ctx, cancel := context.WithTimeout(context.Background(), d.deliverTimeout)
		d.deliver(ctx, event)
		cancel()
	}
}

// deliver creates one pending notification per recipient and attempts
// delivery. Failures leave the record pending and are only logged.
func (d *Dispatcher) deliver(ctx context.Context, event alerts.CriticalEvent) {
	subject, body, attachment := d.render(ctx, event)

	for _, recipient := range d.recipients {
		notification, err := d.store.Insert(ctx, alerts.Notification{
			EventID:   event.ID,
			Recipient: recipient,
			Status:    alerts.StatusPending,
			CreatedAt: d.clock.Now(),
		})
		if err != nil {
			d.logger.Printf("notify: persist notification for event %d: %v", event.ID, err)
			metrics.IncNotificationAttempt(metrics.ResultError)
			continue
		}

		if err := d.channel.Send(ctx, Message{
			To:             recipient,
			Subject:        subject,
			Body:           body,
			AttachmentName: fmt.Sprintf("critical-event-%d.pdf", event.ID),
			Attachment:     attachment,
		}); err != nil {
			d.logger.Printf("notify: delivery to %s failed, notification %d stays pending: %v", recipient, notification.ID, err)
			metrics.IncNotificationAttempt(metrics.ResultError)
			continue
		}

		if err := d.store.MarkSent(ctx, notification.ID, d.clock.Now()); err != nil {
			d.logger.Printf("notify: mark sent %d: %v", notification.ID, err)
		}
		metrics.IncNotificationAttempt(metrics.ResultSuccess)
	}
}

// Resend re-attempts delivery for a previously created notification,
// usable as an explicit retry out of band from ingestion.
func (d *Dispatcher) Resend(ctx context.Context, notificationID int64) (alerts.Notification, error) {
	if d == nil {
		return alerts.Notification{}, errors.New("dispatcher: nil dispatcher")
	}
	notification, err := d.store.GetByID(ctx, notificationID)
	if err != nil {
		return alerts.Notification{}, err
	}
	event, err := d.events.GetByID(ctx, notification.EventID)
	if err != nil {
		return alerts.Notification{}, fmt.Errorf("dispatcher: load event %d: %w", notification.EventID, err)
	}

	subject, body, attachment := d.render(ctx, *event)
	if err := d.channel.Send(ctx, Message{
		To:             notification.Recipient,
		Subject:        subject,
		Body:           body,
		AttachmentName: fmt.Sprintf("critical-event-%d.pdf", event.ID),
		Attachment:     attachment,
	}); err != nil {
		metrics.IncNotificationAttempt(metrics.ResultError)
		return *notification, fmt.Errorf("dispatcher: resend %d: %w", notificationID, err)
	}

	sentAt := d.clock.Now()
	if err := d.store.MarkSent(ctx, notification.ID, sentAt); err != nil {
		return *notification, err
	}
	metrics.IncNotificationAttempt(metrics.ResultSuccess)
	notification.Status = alerts.StatusSent
	notification.SentAt = &sentAt
	return *notification, nil
}

// render builds the message subject, body and PDF attachment. Catalog
// or history lookup failures degrade to a sparser message rather than
// blocking delivery.
func (d *Dispatcher) render(ctx context.Context, event alerts.CriticalEvent) (subject, body string, attachment []byte) {
	var info *catalog.SensorInfo
	if d.sensors != nil {
		loaded, err := d.sensors.GetSensorInfo(ctx, event.SensorID)
		if err != nil {
			d.logger.Printf("notify: load sensor %d: %v", event.SensorID, err)
		} else {
			info = loaded
		}
	}

	subject = fmt.Sprintf("Critical reading on sensor %d", event.SensorID)
	data := TemplateData{
		Value:       fmt.Sprintf("%g", event.Value),
		ZScore:      fmt.Sprintf("%.2f", event.ZScore),
		Description: event.Description,
		DetectedAt:  event.CreatedAt.Format(time.RFC3339),
	}
	if info != nil {
		subject = fmt.Sprintf("Critical reading on %s/%s", info.DeviceName, info.SensorName)
		data.Device = info.DeviceName
		data.Sensor = info.SensorName
		data.Type = info.TypeName
		data.Unit = info.Unit
	}

	body, err := d.template.Render(data)
	if err != nil {
		d.logger.Printf("notify: render template: %v", err)
		body = event.Description
	}

	var recent []readings.Point
	if d.points != nil {
		recent, err = d.points.RecentPoints(ctx, event.SensorID, d.reportPoints)
		if err != nil {
			d.logger.Printf("notify: load recent points for sensor %d: %v", event.SensorID, err)
			recent = nil
		}
	}
	attachment, err = BuildEventReportPDF(event, info, recent)
	if err != nil {
		d.logger.Printf("notify: build report pdf: %v", err)
		attachment = nil
	}
	return subject, body, attachment
}
