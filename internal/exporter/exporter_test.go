package exporter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/sweeney/box-counter/internal/bus"
	"github.com/sweeney/box-counter/internal/logger"
)

type fakeJournal struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (j *fakeJournal) Append(_ context.Context, env bus.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.ids = append(j.ids, env.ID)
	return nil
}

type fakePoster struct {
	bodies [][]byte
	err    error
}

func (p *fakePoster) PostSystemInfo(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

// mustEnv wraps an envelope constructor result, failing the test on error.
// Usage: mustEnv(t)(bus.NewTelemetry(...)).
func mustEnv(t *testing.T) func(bus.Envelope, error) bus.Envelope {
	return func(env bus.Envelope, err error) bus.Envelope {
		t.Helper()
		if err != nil {
			t.Fatalf("build envelope: %v", err)
		}
		return env
	}
}

func TestHandleTelemetry(t *testing.T) {
	sink := NewFakeSink()
	e := New(sink, "line-pi6", logger.Nop())
	env := mustEnv(t)(bus.NewTelemetry(ts, bus.Sample{BoxCount: 7, MachineSpeed: 4}))

	if err := e.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	sent := sink.Sent()
	if len(sent) != 1 || sent[0].Type != MessageTelemetry {
		t.Fatalf("sent: %+v", sent)
	}
	var p TelemetryPayload
	if err := json.Unmarshal(sent[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Telemetry.TotalOutputUnitCount != 7 || p.Telemetry.MachineSpeed != 4 || p.Telemetry.MachineID != "line-pi6" {
		t.Errorf("payload: %+v", p.Telemetry)
	}
}

func TestHandleEventUsesJobID(t *testing.T) {
	sink := NewFakeSink()
	e := New(sink, "line-pi6", logger.Nop(), WithJobID("JOB123"))
	env := mustEnv(t)(bus.NewEvent(ts, "Stopped", "stopped", bus.Sample{BoxCount: 2}))

	if err := e.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	sent := sink.Sent()
	if len(sent) != 1 || sent[0].Type != MessageMachineEvent {
		t.Fatalf("sent: %+v", sent)
	}
	var p []MachineEventPayload
	if err := json.Unmarshal(sent[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(p) != 1 || p[0].Type != "Stopped" || p[0].JobID != "JOB123" || p[0].EquipmentID != "line-pi6" {
		t.Errorf("payload: %+v", p)
	}
}

func TestDefaultJobIDIsGenerated(t *testing.T) {
	a := New(NewFakeSink(), "m", logger.Nop())
	b := New(NewFakeSink(), "m", logger.Nop())
	if a.JobID() == "" || a.JobID() == b.JobID() {
		t.Errorf("expected distinct generated job ids, got %q and %q", a.JobID(), b.JobID())
	}
}

func TestHandleSystemInfoPostsData(t *testing.T) {
	poster := &fakePoster{}
	e := New(NewFakeSink(), "m", logger.Nop(), WithBackend(poster))
	env := mustEnv(t)(bus.NewSystemInfo(ts, map[string]any{"osName": "linux"}))

	if err := e.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(poster.bodies) != 1 || string(poster.bodies[0]) != `{"osName":"linux"}` {
		t.Errorf("posted: %q", poster.bodies)
	}
}

func TestHandleSystemInfoWithoutBackend(t *testing.T) {
	sink := NewFakeSink()
	e := New(sink, "m", logger.Nop())
	env := mustEnv(t)(bus.NewSystemInfo(ts, map[string]any{}))
	if err := e.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.Sent()) != 0 {
		t.Error("system info must not go to the cloud sink")
	}
}

func TestHandleFlushBatchesAreNotForwarded(t *testing.T) {
	sink := NewFakeSink()
	j := &fakeJournal{}
	e := New(sink, "m", logger.Nop(), WithJournal(j))

	logs := mustEnv(t)(bus.NewLogs(ts, []bus.LogEntry{{Message: "hi", Severity: "INFO"}}))
	metrics := mustEnv(t)(bus.NewMetrics(ts, nil))
	for _, env := range []bus.Envelope{logs, metrics} {
		if err := e.Handle(context.Background(), env); err != nil {
			t.Fatalf("Handle %s: %v", env.Type, err)
		}
	}
	if len(sink.Sent()) != 0 {
		t.Errorf("expected nothing sent, got %d", len(sink.Sent()))
	}
	if len(j.ids) != 2 {
		t.Errorf("journal: got %d entries, want 2", len(j.ids))
	}
}

func TestHandleUnknownType(t *testing.T) {
	e := New(NewFakeSink(), "m", logger.Nop())
	err := e.Handle(context.Background(), bus.Envelope{ID: "x", Type: "export_bogus"})
	if !errors.Is(err, bus.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestHandleSinkErrorSkipsJournal(t *testing.T) {
	sink := NewFakeSink()
	sink.SetSendError(errors.New("offline"))
	j := &fakeJournal{}
	e := New(sink, "m", logger.Nop(), WithJournal(j))
	env := mustEnv(t)(bus.NewTelemetry(ts, bus.Sample{}))

	err := e.Handle(context.Background(), env)
	if err == nil || !strings.Contains(err.Error(), env.ID) {
		t.Fatalf("expected error naming the envelope, got %v", err)
	}
	if len(j.ids) != 0 {
		t.Error("failed envelope should not be journaled")
	}
}

func TestHandleJournalErrorIsNotFatal(t *testing.T) {
	sink := NewFakeSink()
	e := New(sink, "m", logger.Nop(), WithJournal(&fakeJournal{err: errors.New("locked")}))
	env := mustEnv(t)(bus.NewTelemetry(ts, bus.Sample{}))
	if err := e.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.Sent()) != 1 {
		t.Error("expected the record to be sent")
	}
}

func TestRunForwardsFromBus(t *testing.T) {
	mem := bus.NewMemory(16)
	defer mem.Close()
	sink := NewFakeSink()
	e := New(sink, "m", logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, mem) }()

	// wait for the subscription before publishing
	deadline := time.Now().Add(2 * time.Second)
	env := mustEnv(t)(bus.NewEvent(ts, "Started", "running", bus.Sample{}))
	for len(sink.Sent()) == 0 && time.Now().Before(deadline) {
		mem.Publish(env)
		time.Sleep(10 * time.Millisecond)
	}
	if len(sink.Sent()) == 0 {
		t.Fatal("no record forwarded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
