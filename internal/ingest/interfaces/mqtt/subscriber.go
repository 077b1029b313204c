package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultQuiesce        = 500 // milliseconds handed to paho on disconnect
)

// subscriptionQoS is at-least-once. Redelivered messages are harmless:
// entity resolution is idempotent and readings are append-only.
const subscriptionQoS = 1

// MessageHandler consumes one inbound broker message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, topic string, payload []byte) error
}

// Config holds the broker connection settings.
type Config struct {
	BrokerURL string
	ClientID  string
	// TopicRoot is the first topic segment measurements arrive under.
	// The subscriber listens on "<root>/#".
	TopicRoot string
	Username  string
	Password  string
	UseTLS    bool
}

// Subscriber bridges the broker to the ingestion pipeline. Each message
// is processed to completion inside the paho callback; per-message
// failures are logged and never stop the subscription.
type Subscriber struct {
	cfg     Config
	handler MessageHandler
	logger  *log.Logger
	client  paho.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber constructs a subscriber for the configured broker.
func NewSubscriber(cfg Config, handler MessageHandler, logger *log.Logger) (*Subscriber, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if strings.Contains(cfg.TopicRoot, "/") || cfg.TopicRoot == "" {
		return nil, fmt.Errorf("mqtt: topic root must be a single segment, got %q", cfg.TopicRoot)
	}
	if handler == nil {
		return nil, errors.New("mqtt: nil message handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "plantwatch-ingest"
	}
	return &Subscriber{cfg: cfg, handler: handler, logger: logger}, nil
}

// Start connects to the broker and subscribes to the measurement
// topic tree. It returns once the subscription is established.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	opts := paho.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout).
		SetOrderMatters(true)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	if s.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Printf("mqtt: connection lost, reconnecting: %v", err)
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		// Re-subscribe on every (re)connect so a broker that lost the
		// session still routes the measurement tree to us.
		if token := client.Subscribe(s.filter(), subscriptionQoS, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.Printf("mqtt: subscribe %s: %v", s.filter(), token.Error())
		}
	})

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", s.cfg.BrokerURL, token.Error())
	}
	s.logger.Printf("mqtt: subscribed to %s on %s", s.filter(), s.cfg.BrokerURL)
	return nil
}

// Close unsubscribes and disconnects, letting in-flight publishes
// quiesce.
func (s *Subscriber) Close() {
	if s == nil || s.client == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if token := s.client.Unsubscribe(s.filter()); token.Wait() && token.Error() != nil {
		s.logger.Printf("mqtt: unsubscribe: %v", token.Error())
	}
	s.client.Disconnect(defaultQuiesce)
}

func (s *Subscriber) filter() string {
	return s.cfg.TopicRoot + "/#"
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	if err := s.handler.HandleMessage(s.ctx, msg.Topic(), msg.Payload()); err != nil {
		s.logger.Printf("mqtt: message on %s not processed: %v", msg.Topic(), err)
	}
}
