package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/bus"
	"github.com/sweeney/box-counter/internal/logger"
	"github.com/sweeney/box-counter/internal/metrics"
	"github.com/sweeney/box-counter/internal/sysinfo"
)

var testTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	pub  *bus.Fake
	logs *logger.Buffer
	reg  *metrics.Registry
	log  *zap.SugaredLogger
	c    *Controller
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		pub:  bus.NewFake(),
		logs: logger.NewBuffer(0),
		reg:  metrics.NewRegistry("test"),
	}
	f.log = zap.New(f.logs).Sugar()
	opts = append([]Option{WithClock(func() time.Time { return testTime })}, opts...)
	f.c = New(f.pub, f.logs, f.reg, f.log, opts...)
	return f
}

func gauge(t *testing.T, r *metrics.Registry, name string) float64 {
	t.Helper()
	s, ok := r.Get(name)
	if !ok {
		t.Fatalf("metric %s not set", name)
	}
	return s.Value
}

func TestObserveMachineStatusChangedPublishesEvent(t *testing.T) {
	f := newFixture()

	if err := f.c.ObserveMachineStatusChanged(4, 3, StatusRunning, "Started"); err != nil {
		t.Fatal(err)
	}

	events := f.pub.OfType(bus.TypeEvent)
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	env := events[0]
	if env.Event != "Started" || env.Status != "running" || !env.Timestamp.Equal(testTime) {
		t.Errorf("envelope = %+v", env)
	}
	s, _ := env.MachineEvent()
	if s.BoxCount != 4 || s.MachineSpeed != 3 {
		t.Errorf("payload = %+v", s)
	}
	if gauge(t, f.reg, MetricIsRunning) != 1 {
		t.Error("is_running should be 1 at non-zero speed")
	}
}

func TestObserveRunningStateLogsAndPublishes(t *testing.T) {
	f := newFixture()

	if err := f.c.ObserveRunningState(12, 0); err != nil {
		t.Fatal(err)
	}

	tel := f.pub.OfType(bus.TypeTelemetry)
	if len(tel) != 1 {
		t.Fatalf("published %d telemetry envelopes, want 1", len(tel))
	}
	if gauge(t, f.reg, MetricIsRunning) != 0 {
		t.Error("is_running should be 0 at zero speed")
	}
	if gauge(t, f.reg, MetricTelemetryPublished) != 1 {
		t.Error("telemetry counter not incremented")
	}
	records := f.logs.Drain()
	if len(records) != 1 || records[0].Severity != logger.SeverityInfo {
		t.Fatalf("records = %+v", records)
	}
	if want := "current state box_count=12 machine_speed=0"; records[0].Message != want {
		t.Errorf("message = %q, want %q", records[0].Message, want)
	}
}

func TestPublishFailureIsCountedAndReturned(t *testing.T) {
	f := newFixture()
	f.pub.PublishError = errors.New("broker down")

	err := f.c.ObserveRunningState(1, 1)
	if !errors.Is(err, f.pub.PublishError) {
		t.Fatalf("error = %v, want broker down", err)
	}
	if gauge(t, f.reg, MetricPublishErrors) != 1 {
		t.Error("publish_errors_total not incremented")
	}
	if _, ok := f.reg.Get(MetricTelemetryPublished); ok {
		t.Error("failed telemetry must not count as published")
	}
}

func TestFlushDrainsLogsAndKeepsMetrics(t *testing.T) {
	f := newFixture()
	f.reg.SetGauge(MetricIsRunning, 1)
	f.log.Info("one")
	f.log.Warn("two")

	if err := f.c.Flush(); err != nil {
		t.Fatal(err)
	}
	if f.logs.Len() != 0 {
		t.Errorf("buffer holds %d records after flush", f.logs.Len())
	}

	all := f.pub.All()
	if len(all) != 2 || all[0].Type != bus.TypeLogs || all[1].Type != bus.TypeMetrics {
		t.Fatalf("published %v", all)
	}
	entries, _ := all[0].Logs()
	if len(entries) != 2 || entries[0].Message != "one" || entries[1].Severity != "WARNING" {
		t.Errorf("log batch = %+v", entries)
	}
	if entries[0].Timestamp <= 0 {
		t.Error("log timestamp should be epoch seconds")
	}
	firstMetrics, _ := all[1].Metrics()

	// Second flush: empty logs, unchanged metrics.
	f.pub.Reset()
	if err := f.c.Flush(); err != nil {
		t.Fatal(err)
	}
	all = f.pub.All()
	if len(all) != 2 {
		t.Fatalf("second flush published %d envelopes, want 2", len(all))
	}
	if string(all[0].Data) != "[]" {
		t.Errorf("second log batch = %s, want []", all[0].Data)
	}
	secondMetrics, _ := all[1].Metrics()
	if len(secondMetrics) != len(firstMetrics) || secondMetrics[0] != firstMetrics[0] {
		t.Errorf("metrics changed between flushes: %v vs %v", firstMetrics, secondMetrics)
	}
}

func TestFlushPublishesMetricsEvenIfLogsFail(t *testing.T) {
	f := newFixture()
	f.pub.PublishError = errors.New("offline")

	if err := f.c.Flush(); err == nil {
		t.Fatal("expected error")
	}
	if gauge(t, f.reg, MetricPublishErrors) != 2 {
		t.Error("both batches should have been attempted")
	}
}

type fakeSysInfo struct {
	collectErr error
	observed   int
}

func (s *fakeSysInfo) Collect(context.Context) (sysinfo.Info, error) {
	return sysinfo.Info{Hostname: "line-1", CPUCountLogical: 4}, s.collectErr
}

func (s *fakeSysInfo) Observe(_ context.Context, r *metrics.Registry) error {
	s.observed++
	r.SetGauge("cpu_usage_percent", 12.5)
	return nil
}

func TestObserveSystemInfo(t *testing.T) {
	src := &fakeSysInfo{collectErr: errors.New("no disk")}
	f := newFixture(WithSystemInfo(src))

	if err := f.c.ObserveSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}

	envs := f.pub.OfType(bus.TypeSystemInfo)
	if len(envs) != 1 {
		t.Fatalf("published %d system info envelopes", len(envs))
	}
	var info sysinfo.Info
	envs[0].Decode(&info)
	if info.Hostname != "line-1" || info.CPUCountLogical != 4 {
		t.Errorf("info = %+v", info)
	}
	if src.observed != 1 || gauge(t, f.reg, "cpu_usage_percent") != 12.5 {
		t.Error("system gauges not observed")
	}
	if f.logs.Len() != 1 {
		t.Error("partial collection should be logged")
	}
}

func TestObserveSystemInfoWithoutSource(t *testing.T) {
	f := newFixture()

	if err := f.c.ObserveSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.pub.All()) != 0 {
		t.Error("nothing should be published without a source")
	}
}
