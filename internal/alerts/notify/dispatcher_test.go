package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	alerts "plantwatch/internal/alerts/domain"
	catalog "plantwatch/internal/catalog/domain"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]alerts.Notification
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[int64]alerts.Notification)}
}

func (s *memoryStore) Insert(_ context.Context, notification alerts.Notification) (alerts.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	notification.ID = s.nextID
	s.rows[notification.ID] = notification
	return notification, nil
}

func (s *memoryStore) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return alerts.ErrNotFound
	}
	row.Status = alerts.StatusSent
	row.SentAt = &sentAt
	s.rows[id] = row
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id int64) (*alerts.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, alerts.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (s *memoryStore) byID(id int64) alerts.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type stubEventReader struct {
	event *alerts.CriticalEvent
}

func (s stubEventReader) GetByID(_ context.Context, _ int64) (*alerts.CriticalEvent, error) {
	if s.event == nil {
		return nil, alerts.ErrNotFound
	}
	return s.event, nil
}

type stubSensorReader struct {
	info *catalog.SensorInfo
}

func (s stubSensorReader) GetSensorInfo(_ context.Context, _ int64) (*catalog.SensorInfo, error) {
	return s.info, nil
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []Message
	err  error
	done chan Message
}

func (c *fakeChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		if c.done != nil {
			c.done <- msg
		}
		return c.err
	}
	c.sent = append(c.sent, msg)
	if c.done != nil {
		c.done <- msg
	}
	return nil
}

func testEvent() alerts.CriticalEvent {
	return alerts.CriticalEvent{
		ID:          1,
		ReadingID:   11,
		SensorID:    7,
		Value:       50,
		ZScore:      40.12,
		Description: "anomalous reading 50 deviates from window mean 10.10 (z-score 40.12)",
		CreatedAt:   time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func testSensorInfo() *catalog.SensorInfo {
	return &catalog.SensorInfo{
		SensorID:   7,
		SensorName: "core",
		DeviceName: "press1",
		TypeName:   "temperatura",
		Unit:       "°C",
	}
}

func TestDispatcherDeliversAndMarksSent(t *testing.T) {
	store := newMemoryStore()
	channel := &fakeChannel{done: make(chan Message, 1)}
	dispatcher, err := NewDispatcher(
		stubEventReader{},
		store,
		stubSensorReader{info: testSensorInfo()},
		channel,
		nil,
		[]string{"alerts@plant.example"},
		nil,
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.Start()

	dispatcher.Dispatch(testEvent())

	var msg Message
	select {
	case msg = <-channel.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}

	if msg.To != "alerts@plant.example" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "press1/core") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Device: press1") {
		t.Fatalf("body missing device: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "40.12") {
		t.Fatalf("body missing z-score: %q", msg.Body)
	}
	if len(msg.Attachment) == 0 {
		t.Fatalf("expected pdf attachment")
	}

	row := store.byID(1)
	if row.Status != alerts.StatusSent {
		t.Fatalf("expected sent status, got %q", row.Status)
	}
	if row.SentAt == nil {
		t.Fatalf("expected sent timestamp")
	}
}

func TestDeliveryFailureLeavesPending(t *testing.T) {
	store := newMemoryStore()
	channel := &fakeChannel{err: errors.New("transport down"), done: make(chan Message, 1)}
	dispatcher, err := NewDispatcher(
		stubEventReader{},
		store,
		stubSensorReader{},
		channel,
		nil,
		[]string{"alerts@plant.example"},
		nil,
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.Start()

	dispatcher.Dispatch(testEvent())
	select {
	case <-channel.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery attempt")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}

	row := store.byID(1)
	if row.Status != alerts.StatusPending {
		t.Fatalf("expected pending status after failure, got %q", row.Status)
	}
	if row.SentAt != nil {
		t.Fatalf("expected no sent timestamp")
	}
}

func TestResendMarksSent(t *testing.T) {
	store := newMemoryStore()
	pending, err := store.Insert(context.Background(), alerts.Notification{
		EventID:   1,
		Recipient: "alerts@plant.example",
		Status:    alerts.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	event := testEvent()
	channel := &fakeChannel{}
	dispatcher, err := NewDispatcher(
		stubEventReader{event: &event},
		store,
		stubSensorReader{info: testSensorInfo()},
		channel,
		nil,
		[]string{"alerts@plant.example"},
		nil,
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	resent, err := dispatcher.Resend(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if resent.Status != alerts.StatusSent {
		t.Fatalf("expected sent status, got %q", resent.Status)
	}
	if len(channel.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(channel.sent))
	}
	if store.byID(pending.ID).Status != alerts.StatusSent {
		t.Fatalf("expected stored row marked sent")
	}
}

func TestResendUnknownNotification(t *testing.T) {
	dispatcher, err := NewDispatcher(
		stubEventReader{},
		newMemoryStore(),
		stubSensorReader{},
		&fakeChannel{},
		nil,
		[]string{"alerts@plant.example"},
		nil,
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := dispatcher.Resend(context.Background(), 42); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatchDropsOldestWhenFull(t *testing.T) {
	dispatcher, err := NewDispatcher(
		stubEventReader{},
		newMemoryStore(),
		stubSensorReader{},
		&fakeChannel{},
		nil,
		[]string{"alerts@plant.example"},
		nil,
		WithQueueSize(1),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	// Workers not started: the queue fills and the second dispatch
	// must evict the first event.
	first := testEvent()
	second := testEvent()
	second.ID = 2
	dispatcher.Dispatch(first)
	dispatcher.Dispatch(second)

	select {
	case queued := <-dispatcher.queue:
		if queued.ID != 2 {
			t.Fatalf("expected newest event queued, got %d", queued.ID)
		}
	default:
		t.Fatalf("expected one queued event")
	}
}

func TestDispatchAfterClose(t *testing.T) {
	dispatcher, err := NewDispatcher(
		stubEventReader{},
		newMemoryStore(),
		stubSensorReader{},
		&fakeChannel{},
		nil,
		[]string{"alerts@plant.example"},
		nil,
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}
	// Must not panic on a closed queue.
	dispatcher.Dispatch(testEvent())
}
