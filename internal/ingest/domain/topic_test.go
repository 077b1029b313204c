package ingest

import (
	"errors"
	"testing"
)

func TestParseTopic(t *testing.T) {
	key, err := ParseTopic("maquinas/press1/temperatura/core")
	if err != nil {
		t.Fatalf("parse topic: %v", err)
	}
	if key.Device != "press1" {
		t.Fatalf("expected device press1, got %q", key.Device)
	}
	if key.SensorType != "temperatura" {
		t.Fatalf("expected type temperatura, got %q", key.SensorType)
	}
	if key.SensorName != "core" {
		t.Fatalf("expected sensor core, got %q", key.SensorName)
	}
}

func TestParseTopicRejectsWrongSegmentCount(t *testing.T) {
	cases := []string{
		"",
		"maquinas",
		"maquinas/press1",
		"maquinas/press1/temperatura",
		"maquinas/press1/temperatura/core/extra",
	}
	for _, topic := range cases {
		if _, err := ParseTopic(topic); !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("topic %q: expected ErrInvalidTopic, got %v", topic, err)
		}
	}
}

func TestParseTopicRejectsEmptySegment(t *testing.T) {
	if _, err := ParseTopic("maquinas/press1//core"); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
}
