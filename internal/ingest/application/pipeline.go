package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	alerts "plantwatch/internal/alerts/domain"
	catalog "plantwatch/internal/catalog/domain"
	ingest "plantwatch/internal/ingest/domain"
	"plantwatch/internal/observability/metrics"
	readings "plantwatch/internal/readings/domain"
)

// SensorResolver maps identity triples to sensor rows.
type SensorResolver interface {
	Resolve(ctx context.Context, deviceName, typeName, sensorName string) (catalog.Sensor, error)
}

// AnomalyEvaluator checks a written reading against its baseline.
type AnomalyEvaluator interface {
	Evaluate(ctx context.Context, reading readings.Reading) (*alerts.CriticalEvent, error)
}

// EventSink accepts critical events for asynchronous delivery.
type EventSink interface {
	Dispatch(event alerts.CriticalEvent)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Pipeline processes one inbound measurement end to end: parse the
// routing key, resolve the sensor identity, normalize the payload,
// append the reading and evaluate it for anomalies. No failure while
// processing one message may affect any other message.
type Pipeline struct {
	resolver   SensorResolver
	writer     readings.Writer
	detector   AnomalyEvaluator
	dispatcher EventSink
	clock      Clock
	logger     *log.Logger
}

// PipelineOption customizes the pipeline.
type PipelineOption func(*Pipeline)

// WithClock overrides the default clock.
func WithClock(clock Clock) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPipeline constructs the ingestion pipeline.
func NewPipeline(resolver SensorResolver, writer readings.Writer, detector AnomalyEvaluator, dispatcher EventSink, logger *log.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("pipeline: nil resolver")
	}
	if writer == nil {
		return nil, errors.New("pipeline: nil reading writer")
	}
	if detector == nil {
		return nil, errors.New("pipeline: nil detector")
	}
	if dispatcher == nil {
		return nil, errors.New("pipeline: nil dispatcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	pipeline := &Pipeline{
		resolver:   resolver,
		writer:     writer,
		detector:   detector,
		dispatcher: dispatcher,
		clock:      systemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// HandleMessage processes one inbound message. The returned error is
// informational for the subscriber's log; the consumer loop never
// stops on it.
func (p *Pipeline) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := p.clock.Now()

	key, err := ingest.ParseTopic(topic)
	if err != nil {
		p.logger.Printf("ingest: dropping message: %v", err)
		metrics.IncMessageDropped("invalid_topic")
		metrics.ObserveMessage(metrics.ResultError, p.clock.Now().Sub(start))
		return err
	}

	raw := string(payload)
	sample, ok := ingest.Normalize(raw)
	if !ok {
		p.logger.Printf("ingest: malformed payload %q on %s, defaulting to (false, 0)", raw, topic)
		metrics.IncPayloadMalformed()
	}

	sensor, err := p.resolver.Resolve(ctx, key.Device, key.SensorType, key.SensorName)
	if err != nil {
		metrics.ObserveMessage(metrics.ResultError, p.clock.Now().Sub(start))
		return fmt.Errorf("ingest: resolve %s/%s/%s: %w", key.Device, key.SensorType, key.SensorName, err)
	}

	reading, err := p.writer.Insert(ctx, readings.Reading{
		SensorID: sensor.ID,
		State:    sample.State,
		Value:    sample.Value,
		TS:       p.clock.Now(),
	})
	if err != nil {
		metrics.ObserveMessage(metrics.ResultError, p.clock.Now().Sub(start))
		return fmt.Errorf("ingest: write reading for sensor %d: %w", sensor.ID, err)
	}
	metrics.IncReadingInserted()

	// The reading is durable at this point; detection failures degrade
	// to "recorded but unflagged" rather than failing the message.
	event, err := p.detector.Evaluate(ctx, reading)
	if err != nil {
		p.logger.Printf("ingest: anomaly evaluation for reading %d: %v", reading.ID, err)
		metrics.ObserveMessage(metrics.ResultSuccess, p.clock.Now().Sub(start))
		return nil
	}
	if event != nil {
		metrics.IncAnomalyEvent()
		p.dispatcher.Dispatch(*event)
	}

	metrics.ObserveMessage(metrics.ResultSuccess, p.clock.Now().Sub(start))
	return nil
}
