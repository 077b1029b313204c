// Package ingest holds the pure message-shaping rules of the ingestion
// path: routing-key parsing and payload normalization.
package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic indicates a routing key that does not match the
// expected <root>/<device>/<sensor-type>/<sensor-name> shape.
var ErrInvalidTopic = errors.New("ingest: invalid topic")

const topicSegments = 4

// TopicKey is the identity triple extracted from a routing key.
type TopicKey struct {
	Device     string
	SensorType string
	SensorName string
}

// ParseTopic splits a routing key into its identity triple. The key
// must have exactly four non-empty /-separated segments; the first
// segment is the subscription root and is discarded.
func ParseTopic(topic string) (TopicKey, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicSegments {
		return TopicKey{}, fmt.Errorf("%w: %q has %d segments, want %d", ErrInvalidTopic, topic, len(parts), topicSegments)
	}
	for _, part := range parts {
		if part == "" {
			return TopicKey{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
	}
	return TopicKey{
		Device:     parts[1],
		SensorType: parts[2],
		SensorName: parts[3],
	}, nil
}
