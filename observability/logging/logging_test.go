package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"stationd/core/events"
	"stationd/core/types"
)

func TestMaskFieldRedactsUnlistedKeys(t *testing.T) {
	attr := MaskField("destination_address", "nhb1abc")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected destination_address to be redacted, got %q", attr.Value.String())
	}
}

func TestMaskFieldPassesThroughAllowlistedKeys(t *testing.T) {
	attr := MaskField("request_id", "abc-123")
	if attr.Value.String() != "abc-123" {
		t.Fatalf("expected request_id to pass through unmasked, got %q", attr.Value.String())
	}
}

func TestMaskFieldLeavesEmptyValuesUnmasked(t *testing.T) {
	attr := MaskField("destination_address", "")
	if attr.Value.String() != "" {
		t.Fatalf("expected an empty value to stay empty, got %q", attr.Value.String())
	}
}

type recordingEvent struct {
	eventType string
	attrs     map[string]string
}

func (e recordingEvent) EventType() string { return e.eventType }

func (e recordingEvent) Record() types.Event {
	return types.Event{Type: e.eventType, Attributes: e.attrs}
}

func TestEventLoggerRedactsNonAllowlistedAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	emitter := NewEventEmitter(logger)

	emitter.Emit(recordingEvent{
		eventType: "request.completed",
		attrs: map[string]string{
			"request_id":          "req-1",
			"destination_address": "nhb1secret",
		},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v (body=%s)", err, buf.String())
	}
	if line["request_id"] != "req-1" {
		t.Fatalf("expected request_id to pass through, got %+v", line)
	}
	if line["destination_address"] != RedactedValue {
		t.Fatalf("expected destination_address to be redacted, got %+v", line)
	}
}

func TestEventLoggerLogsTypeOnlyWhenNotRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	emitter := NewEventEmitter(logger)

	emitter.Emit(plainEvent{eventType: "request.created"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v (body=%s)", err, buf.String())
	}
	if line["type"] != "request.created" {
		t.Fatalf("expected type to be logged, got %+v", line)
	}
}

type plainEvent struct{ eventType string }

func (e plainEvent) EventType() string { return e.eventType }

var _ events.Event = plainEvent{}
var _ events.Recorder = recordingEvent{}
