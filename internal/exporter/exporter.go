// Package exporter is the side-car that forwards the control loop's
// observability envelopes off the machine: telemetry and machine events go
// to the cloud broker, host information to the fleet backend. Log and
// metric batches have no downstream consumer and are only logged.
package exporter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/bus"
)

// Journal records handled envelopes.
type Journal interface {
	Append(ctx context.Context, env bus.Envelope) error
}

// SystemInfoPoster delivers host information.
type SystemInfoPoster interface {
	PostSystemInfo(ctx context.Context, body []byte) error
}

// Exporter maps envelopes to downstream records.
type Exporter struct {
	sink       Sink
	backend    SystemInfoPoster
	journal    Journal
	log        *zap.SugaredLogger
	machineID  string
	jobID      string
	dataSource string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithBackend enables forwarding of host information.
func WithBackend(b SystemInfoPoster) Option {
	return func(e *Exporter) { e.backend = b }
}

// WithJournal records every handled envelope.
func WithJournal(j Journal) Option {
	return func(e *Exporter) { e.journal = j }
}

// WithJobID overrides the job id generated at startup.
func WithJobID(id string) Option {
	return func(e *Exporter) {
		if id != "" {
			e.jobID = id
		}
	}
}

// WithDataSource overrides DefaultDataSource.
func WithDataSource(ds string) Option {
	return func(e *Exporter) {
		if ds != "" {
			e.dataSource = ds
		}
	}
}

// New creates an Exporter that sends records for machineID to sink.
func New(sink Sink, machineID string, log *zap.SugaredLogger, opts ...Option) *Exporter {
	e := &Exporter{
		sink:       sink,
		log:        log,
		machineID:  machineID,
		jobID:      uuid.NewString(),
		dataSource: DefaultDataSource,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// JobID returns the job id attached to machine events.
func (e *Exporter) JobID() string { return e.jobID }

// Handle forwards one envelope.
func (e *Exporter) Handle(ctx context.Context, env bus.Envelope) error {
	if err := e.dispatch(ctx, env); err != nil {
		return fmt.Errorf("%s %s: %w", env.Type, env.ID, err)
	}
	if e.journal != nil {
		if err := e.journal.Append(ctx, env); err != nil {
			e.log.Warnw("journal append failed", "id", env.ID, "error", err)
		}
	}
	return nil
}

func (e *Exporter) dispatch(ctx context.Context, env bus.Envelope) error {
	switch env.Type {
	case bus.TypeTelemetry:
		s, err := env.Telemetry()
		if err != nil {
			return err
		}
		payload, err := FormatTelemetry(env.Timestamp, e.dataSource, e.machineID, s)
		if err != nil {
			return fmt.Errorf("format telemetry: %w", err)
		}
		e.log.Infow("telemetry", "box_count", s.BoxCount, "speed", s.MachineSpeed, "timestamp", env.Timestamp)
		return e.sink.Send(MessageTelemetry, payload)

	case bus.TypeEvent:
		s, err := env.MachineEvent()
		if err != nil {
			return err
		}
		payload, err := FormatMachineEvent(env.Timestamp, env.Event, e.machineID, e.jobID, s)
		if err != nil {
			return fmt.Errorf("format event: %w", err)
		}
		e.log.Infow("machine event", "event", env.Event, "status", env.Status, "box_count", s.BoxCount)
		return e.sink.Send(MessageMachineEvent, payload)

	case bus.TypeSystemInfo:
		if e.backend == nil {
			e.log.Debugw("system info received, no backend configured")
			return nil
		}
		if err := e.backend.PostSystemInfo(ctx, env.Data); err != nil {
			return err
		}
		e.log.Infow("sent system info to backend")
		return nil

	case bus.TypeLogs:
		entries, err := env.Logs()
		if err != nil {
			return err
		}
		e.log.Debugw("log batch", "count", len(entries))
		return nil

	case bus.TypeMetrics:
		metrics, err := env.Metrics()
		if err != nil {
			return err
		}
		e.log.Debugw("metric batch", "count", len(metrics))
		return nil

	default:
		return bus.ErrUnknownType
	}
}

// Run subscribes to the local bus and handles envelopes until ctx is done.
// Handling errors are logged and never stop the exporter.
func (e *Exporter) Run(ctx context.Context, sub bus.Subscriber) error {
	err := sub.Subscribe(func(env bus.Envelope) {
		if err := e.Handle(ctx, env); err != nil {
			e.log.Errorw("failed to export envelope", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	e.log.Infow("exporter started", "machine_id", e.machineID, "job_id", e.jobID)

	<-ctx.Done()
	e.log.Infow("exporter stopped")
	return nil
}
