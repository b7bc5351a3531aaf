package bus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

var testTime = time.Date(2024, 3, 1, 12, 30, 0, 500000000, time.FixedZone("CET", 3600))

func wireFields(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal wire form: %v", err)
	}
	return m
}

func TestTelemetryWireFormat(t *testing.T) {
	env, err := NewTelemetry(testTime, Sample{BoxCount: 42, MachineSpeed: 7.5})
	if err != nil {
		t.Fatal(err)
	}

	m := wireFields(t, env)
	if m["type"] != "export_telemetry" {
		t.Errorf("type = %v", m["type"])
	}
	if m["timestamp"] != "2024-03-01T11:30:00.5Z" {
		t.Errorf("timestamp = %v, want UTC RFC3339", m["timestamp"])
	}
	if _, ok := m["event"]; ok {
		t.Error("telemetry should not carry an event name")
	}
	if id, _ := m["id"].(string); len(id) != 36 {
		t.Errorf("id = %q, want a UUID", id)
	}
	data := m["data"].(map[string]any)
	if data["totaloutputunitcount"] != float64(42) || data["machinespeed"] != 7.5 {
		t.Errorf("data = %v", data)
	}
}

func TestEventWireFormat(t *testing.T) {
	env, err := NewEvent(testTime, "Started", "running", Sample{BoxCount: 3, MachineSpeed: 1})
	if err != nil {
		t.Fatal(err)
	}

	m := wireFields(t, env)
	if m["type"] != "export_event" || m["event"] != "Started" || m["status"] != "running" {
		t.Errorf("wire = %v", m)
	}

	s, err := env.MachineEvent()
	if err != nil {
		t.Fatal(err)
	}
	if s.BoxCount != 3 || s.MachineSpeed != 1 {
		t.Errorf("MachineEvent = %+v", s)
	}
}

func TestEmptyBatchesAreLists(t *testing.T) {
	logs, _ := NewLogs(testTime, nil)
	metrics, _ := NewMetrics(testTime, nil)

	for _, env := range []Envelope{logs, metrics} {
		if string(env.Data) != "[]" {
			t.Errorf("%s data = %s, want []", env.Type, env.Data)
		}
	}
}

func TestLogEntryWireFormat(t *testing.T) {
	env, _ := NewLogs(testTime, []LogEntry{{Timestamp: 1709296200.5, Message: "hello", Severity: "INFO"}})

	want := `[{"timestamp":1709296200.5,"message":"hello","severity":"INFO"}]`
	if string(env.Data) != want {
		t.Errorf("data = %s, want %s", env.Data, want)
	}
}

func TestMetricsAccessor(t *testing.T) {
	in := []Metric{{Name: "boxcounter_is_running", Type: "gauge", Value: 1}}
	env, _ := NewMetrics(testTime, in)

	got, err := env.Metrics()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != in[0] {
		t.Errorf("Metrics = %v", got)
	}
}

func TestAccessorRejectsWrongType(t *testing.T) {
	env, _ := NewTelemetry(testTime, Sample{})

	if _, err := env.Logs(); err == nil {
		t.Error("Logs on telemetry envelope should fail")
	}
	if _, err := env.MachineEvent(); err == nil {
		t.Error("MachineEvent on telemetry envelope should fail")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	env, _ := NewEvent(testTime, "Stopped", "stopped", Sample{BoxCount: 9, MachineSpeed: 0})
	b, _ := Encode(env)

	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != env.ID || got.Event != "Stopped" || !got.Timestamp.Equal(testTime) {
		t.Errorf("decoded = %+v", got)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reboot","data":{}}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	if err == nil || !strings.Contains(err.Error(), "decode envelope") {
		t.Errorf("error = %v", err)
	}
}

func TestSystemInfoDecode(t *testing.T) {
	type info struct {
		Hostname string `json:"hostname"`
	}
	env, err := NewSystemInfo(testTime, info{Hostname: "line-3"})
	if err != nil {
		t.Fatal(err)
	}

	var got info
	if err := env.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Hostname != "line-3" {
		t.Errorf("Hostname = %q", got.Hostname)
	}
}
