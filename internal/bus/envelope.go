// Package bus carries observability envelopes from the control loop to
// downstream consumers such as the exporter side-car.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type tags the payload of an Envelope.
type Type string

// Envelope types
const (
	TypeTelemetry  Type = "export_telemetry"
	TypeEvent      Type = "export_event"
	TypeSystemInfo Type = "export_system_info"
	TypeLogs       Type = "flush_logs"
	TypeMetrics    Type = "flush_metrics"
)

// Known reports whether t is one of the envelope types above.
func (t Type) Known() bool {
	switch t {
	case TypeTelemetry, TypeEvent, TypeSystemInfo, TypeLogs, TypeMetrics:
		return true
	}
	return false
}

// ErrUnknownType is returned when decoding an envelope with an unrecognized type.
var ErrUnknownType = errors.New("bus: unknown envelope type")

// Envelope is the unit published on the bus.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Event     string          `json:"event,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Sample is the telemetry payload, also carried by machine events.
type Sample struct {
	BoxCount     int     `json:"totaloutputunitcount"`
	MachineSpeed float64 `json:"machinespeed"`
}

// LogEntry is one element of a flush_logs batch.
type LogEntry struct {
	Timestamp float64 `json:"timestamp"` // seconds since the epoch
	Message   string  `json:"message"`
	Severity  string  `json:"severity"`
}

// Metric is one element of a flush_metrics batch.
type Metric struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

func newEnvelope(t Type, ts time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: ts.UTC(),
		Data:      raw,
	}, nil
}

// NewTelemetry builds an export_telemetry envelope.
func NewTelemetry(ts time.Time, s Sample) (Envelope, error) {
	return newEnvelope(TypeTelemetry, ts, s)
}

// NewEvent builds an export_event envelope for a machine status change.
func NewEvent(ts time.Time, event, status string, s Sample) (Envelope, error) {
	env, err := newEnvelope(TypeEvent, ts, s)
	if err != nil {
		return Envelope{}, err
	}
	env.Event = event
	env.Status = status
	return env, nil
}

// NewSystemInfo builds an export_system_info envelope around any
// JSON-encodable host description.
func NewSystemInfo(ts time.Time, info any) (Envelope, error) {
	return newEnvelope(TypeSystemInfo, ts, info)
}

// NewLogs builds a flush_logs envelope. A nil batch is sent as an empty list.
func NewLogs(ts time.Time, entries []LogEntry) (Envelope, error) {
	if entries == nil {
		entries = []LogEntry{}
	}
	return newEnvelope(TypeLogs, ts, entries)
}

// NewMetrics builds a flush_metrics envelope. A nil batch is sent as an empty list.
func NewMetrics(ts time.Time, metrics []Metric) (Envelope, error) {
	if metrics == nil {
		metrics = []Metric{}
	}
	return newEnvelope(TypeMetrics, ts, metrics)
}

func (e Envelope) expect(t Type) error {
	if e.Type != t {
		return fmt.Errorf("bus: envelope is %s, not %s", e.Type, t)
	}
	return nil
}

// Telemetry decodes the payload of an export_telemetry envelope.
func (e Envelope) Telemetry() (Sample, error) {
	var s Sample
	if err := e.expect(TypeTelemetry); err != nil {
		return s, err
	}
	err := e.Decode(&s)
	return s, err
}

// MachineEvent decodes the payload of an export_event envelope.
func (e Envelope) MachineEvent() (Sample, error) {
	var s Sample
	if err := e.expect(TypeEvent); err != nil {
		return s, err
	}
	err := e.Decode(&s)
	return s, err
}

// Logs decodes the payload of a flush_logs envelope.
func (e Envelope) Logs() ([]LogEntry, error) {
	var entries []LogEntry
	if err := e.expect(TypeLogs); err != nil {
		return nil, err
	}
	err := e.Decode(&entries)
	return entries, err
}

// Metrics decodes the payload of a flush_metrics envelope.
func (e Envelope) Metrics() ([]Metric, error) {
	var metrics []Metric
	if err := e.expect(TypeMetrics); err != nil {
		return nil, err
	}
	err := e.Decode(&metrics)
	return metrics, err
}

// Decode unmarshals the raw payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses a wire envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !e.Type.Known() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return e, nil
}
