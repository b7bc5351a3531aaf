// Package observability turns control loop observations into bus envelopes:
// machine events and telemetry are published immediately, buffered logs and
// the metrics registry are shipped on every Flush.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/bus"
	"github.com/sweeney/box-counter/internal/logger"
	"github.com/sweeney/box-counter/internal/metrics"
	"github.com/sweeney/box-counter/internal/sysinfo"
)

// Status is the machine status attached to events.
type Status string

// Machine statuses
const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Metric names, before the registry namespace is applied.
const (
	MetricIsRunning          = "is_running"
	MetricBoxCount           = "box_count"
	MetricMachineSpeed       = "machine_speed"
	MetricTelemetryPublished = "telemetry_published_total"
	MetricEventsPublished    = "events_published_total"
	MetricPublishErrors      = "publish_errors_total"
)

// SystemInfoSource provides host facts and resource gauges.
type SystemInfoSource interface {
	Collect(ctx context.Context) (sysinfo.Info, error)
	Observe(ctx context.Context, r *metrics.Registry) error
}

// Controller publishes observations. All methods are safe to call from the
// control loop goroutine; the underlying buffer and registry are also safe
// for concurrent readers.
type Controller struct {
	pub  bus.Publisher
	logs *logger.Buffer
	reg  *metrics.Registry
	sys  SystemInfoSource
	log  *zap.SugaredLogger
	now  func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the timestamp source for envelopes.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSystemInfo enables ObserveSystemInfo.
func WithSystemInfo(src SystemInfoSource) Option {
	return func(c *Controller) { c.sys = src }
}

// New creates a Controller. logs is the buffer the logger tees into.
func New(pub bus.Publisher, logs *logger.Buffer, reg *metrics.Registry, log *zap.SugaredLogger, opts ...Option) *Controller {
	c := &Controller{
		pub:  pub,
		logs: logs,
		reg:  reg,
		log:  log,
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry returns the metrics registry.
func (c *Controller) Registry() *metrics.Registry { return c.reg }

// ObserveMachineStatusChanged publishes an export_event immediately.
func (c *Controller) ObserveMachineStatusChanged(boxCount int, speed float64, status Status, event string) error {
	env, err := bus.NewEvent(c.now(), event, string(status), bus.Sample{BoxCount: boxCount, MachineSpeed: speed})
	if err != nil {
		return err
	}
	c.observeIsOn(speed)
	if err := c.publish(env); err != nil {
		return err
	}
	c.reg.IncCounter(MetricEventsPublished, 1)
	return nil
}

// ObserveRunningState logs the current state and publishes telemetry.
func (c *Controller) ObserveRunningState(boxCount int, speed float64) error {
	c.log.Infow("current state", "box_count", boxCount, "machine_speed", speed)

	env, err := bus.NewTelemetry(c.now(), bus.Sample{BoxCount: boxCount, MachineSpeed: speed})
	if err != nil {
		return err
	}
	c.observeIsOn(speed)
	c.reg.SetGauge(MetricBoxCount, float64(boxCount))
	c.reg.SetGauge(MetricMachineSpeed, speed)
	if err := c.publish(env); err != nil {
		return err
	}
	c.reg.IncCounter(MetricTelemetryPublished, 1)
	return nil
}

// ObserveSystemInfo refreshes the host gauges and publishes an
// export_system_info envelope. Partial host information is still published.
func (c *Controller) ObserveSystemInfo(ctx context.Context) error {
	if c.sys == nil {
		return nil
	}
	info, err := c.sys.Collect(ctx)
	if err != nil {
		c.log.Warnw("incomplete system info", "error", err)
	}
	if err := c.sys.Observe(ctx, c.reg); err != nil {
		c.log.Warnw("incomplete system metrics", "error", err)
	}

	env, err := bus.NewSystemInfo(c.now(), info)
	if err != nil {
		return err
	}
	return c.publish(env)
}

// Flush drains the log buffer and publishes it, then publishes a snapshot of
// the metrics registry. Both batches are always sent, even when empty. The
// drained logs are not restored if publishing fails.
func (c *Controller) Flush() error {
	now := c.now()
	records := c.logs.Drain()

	entries := make([]bus.LogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, bus.LogEntry{
			Timestamp: float64(r.Timestamp.UnixNano()) / 1e9,
			Message:   r.Message,
			Severity:  string(r.Severity),
		})
	}

	samples := c.reg.Snapshot()
	ms := make([]bus.Metric, 0, len(samples))
	for _, s := range samples {
		ms = append(ms, bus.Metric{Name: s.Name, Type: string(s.Type), Value: s.Value})
	}

	var errs []error
	if env, err := bus.NewLogs(now, entries); err != nil {
		errs = append(errs, err)
	} else if err := c.publish(env); err != nil {
		errs = append(errs, err)
	}
	if env, err := bus.NewMetrics(now, ms); err != nil {
		errs = append(errs, err)
	} else if err := c.publish(env); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Controller) observeIsOn(speed float64) {
	if speed == 0 {
		c.reg.SetGauge(MetricIsRunning, 0)
	} else {
		c.reg.SetGauge(MetricIsRunning, 1)
	}
}

func (c *Controller) publish(env bus.Envelope) error {
	if err := c.pub.Publish(env); err != nil {
		c.reg.IncCounter(MetricPublishErrors, 1)
		c.log.Warnw("publish failed", "type", string(env.Type), "error", err)
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}
