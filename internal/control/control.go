// Package control runs the machine's control loop: it reconciles the motor
// with the desired configuration, counts boxes on rising sensor edges, and
// reports telemetry and events through the observability controller.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/config"
	"github.com/sweeney/box-counter/internal/motor"
	"github.com/sweeney/box-counter/internal/observability"
	"github.com/sweeney/box-counter/internal/sensor"
	"github.com/sweeney/box-counter/internal/status"
)

// Defaults
const (
	DefaultDelay              = 500 * time.Millisecond
	DefaultTelemetryThreshold = 10 * time.Second
)

// Event names carried by export_event envelopes.
const (
	EventStarted = "Started"
	EventStopped = "Stopped"
	EventError   = "Error"
)

// ErrAlreadyRunning is returned by Run on a loop that has already run.
var ErrAlreadyRunning = errors.New("control: loop already started")

// ConfigSource provides the desired machine configuration.
type ConfigSource interface {
	ShouldReload() (bool, error)
	Snapshot() config.MachineConfig
}

// Observer receives machine observations.
type Observer interface {
	ObserveMachineStatusChanged(boxCount int, speed float64, st observability.Status, event string) error
	ObserveRunningState(boxCount int, speed float64) error
	ObserveSystemInfo(ctx context.Context) error
	Flush() error
}

// StatusSink receives the loop state after every cycle.
type StatusSink interface {
	UpdateLoop(status.Loop)
}

// SleepFunc pauses between cycles. It returns early with an error when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Loop.
type Option func(*Loop)

// WithDelay sets the pause between cycles.
func WithDelay(d time.Duration) Option {
	return func(l *Loop) { l.delay = d }
}

// WithTelemetryThreshold sets the minimum time between telemetry publishes.
func WithTelemetryThreshold(d time.Duration) Option {
	return func(l *Loop) { l.threshold = d }
}

// WithClock sets the time source used for the telemetry throttle.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithSleep replaces the pacing sleep.
func WithSleep(sleep SleepFunc) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// WithStatus reports loop state to sink.
func WithStatus(sink StatusSink) Option {
	return func(l *Loop) { l.sink = sink }
}

// Loop is the control loop. Run it once; Stop may be called from any goroutine.
type Loop struct {
	motor motor.Motor
	sens  sensor.Sensor
	obs   Observer
	cfg   ConfigSource
	log   *zap.SugaredLogger

	delay     time.Duration
	threshold time.Duration
	now       func() time.Time
	sleep     SleepFunc
	sink      StatusSink

	started atomic.Bool
	running atomic.Bool

	// mu is held for the duration of a cycle and of the stop procedure.
	mu            sync.Mutex
	cancel        context.CancelFunc
	boxCount      int
	lastVisible   bool
	powerOn       bool
	desired       int
	cycles        uint64
	lastTelemetry time.Time
	state         observability.Status
	lastErr       error
}

// New creates a stopped control loop.
func New(m motor.Motor, s sensor.Sensor, obs Observer, cfg ConfigSource, log *zap.SugaredLogger, opts ...Option) *Loop {
	l := &Loop{
		motor:     m,
		sens:      s,
		obs:       obs,
		cfg:       cfg,
		log:       log,
		delay:     DefaultDelay,
		threshold: DefaultTelemetryThreshold,
		now:       time.Now,
		sleep:     sleepContext,
		state:     observability.StatusStopped,
	}
	for _, o := range opts {
		o(l)
	}
	snap := cfg.Snapshot()
	l.powerOn = snap.PowerOn
	l.desired = snap.DesiredSpeed
	return l
}

// Run starts the motor, emits a Started event, and cycles until Stop is
// called, ctx is done, or a cycle fails. A failed cycle emits an Error
// event, runs the stop procedure, and is returned. Cancellation and Stop
// return nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.running.Store(true)
	err := l.start()
	l.mu.Unlock()
	if err != nil {
		return l.fail(err)
	}

	for l.running.Load() {
		if err := l.cycle(ctx); err != nil {
			return l.fail(err)
		}
		if err := l.sleep(ctx, l.delay); err != nil {
			break
		}
	}
	if err := l.Stop(); err != nil {
		l.log.Errorw("stop", "error", err)
	}
	return nil
}

func (l *Loop) start() error {
	if err := l.motor.Start(); err != nil {
		return fmt.Errorf("start motor: %w", err)
	}
	l.state = observability.StatusRunning
	l.log.Infow("control loop started", "speed", l.motor.Speed(), "desired_speed", l.desired, "power", l.powerOn)
	l.emit(observability.StatusRunning, EventStarted)
	l.report()
	return nil
}

// Stop runs the stop procedure: stop the motor and emit a Stopped event with
// the final count and speed. Only the first call has any effect. Stop waits
// for an in-flight cycle to finish.
func (l *Loop) Stop() error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}

	err := l.motor.Stop()
	if err != nil {
		err = fmt.Errorf("stop motor: %w", err)
		l.log.Errorw("motor stop failed", "error", err)
	}
	l.log.Infow("control loop stopped", "box_count", l.boxCount, "speed", l.motor.Speed())
	l.emit(observability.StatusStopped, EventStopped)
	l.state = observability.StatusStopped
	l.report()
	return err
}

// fail emits a best-effort Error event, runs the stop procedure, and returns err.
func (l *Loop) fail(err error) error {
	l.mu.Lock()
	l.state = observability.StatusError
	l.lastErr = err
	l.log.Errorw("control loop failed", "error", err)
	if obsErr := l.obs.ObserveMachineStatusChanged(l.boxCount, l.motor.Speed(), observability.StatusError, EventError); obsErr != nil {
		l.log.Warnw("emit error event", "error", obsErr)
	}
	l.mu.Unlock()

	if stopErr := l.Stop(); stopErr != nil {
		l.log.Errorw("stop after failure", "error", stopErr)
	}
	return err
}

// cycle runs one iteration of the loop. A panic in any dependency is
// returned as an error.
func (l *Loop) cycle(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	if !l.running.Load() {
		return nil
	}

	cfg := l.reconcileConfig(ctx)
	if err := l.reconcilePower(cfg.PowerOn); err != nil {
		return err
	}
	if cfg.PowerOn {
		if err := l.reconcileSpeed(cfg.DesiredSpeed); err != nil {
			return err
		}
	}
	if err := l.countBoxes(); err != nil {
		return err
	}
	l.publishTelemetry()
	if err := l.obs.Flush(); err != nil {
		l.log.Warnw("flush failed", "error", err)
	}

	l.cycles++
	l.report()
	return nil
}

// reconcileConfig reloads the configuration when due and returns the
// snapshot to act on. A failed reload keeps the previous snapshot.
func (l *Loop) reconcileConfig(ctx context.Context) config.MachineConfig {
	reloaded, err := l.cfg.ShouldReload()
	switch {
	case err != nil:
		l.log.Warnw("config reload failed, keeping previous configuration", "error", err)
	case reloaded:
		if err := l.obs.ObserveSystemInfo(ctx); err != nil {
			l.log.Warnw("observe system info", "error", err)
		}
	}

	cfg := l.cfg.Snapshot()
	if cfg.PowerOn != l.powerOn {
		l.log.Infow("power switched", "power", cfg.PowerOn)
		l.powerOn = cfg.PowerOn
	}
	if cfg.DesiredSpeed != l.desired {
		l.log.Infow("desired speed changed", "from", l.desired, "to", cfg.DesiredSpeed)
		l.desired = cfg.DesiredSpeed
	}
	return cfg
}

// reconcilePower acts only when the motor disagrees with the power setting.
func (l *Loop) reconcilePower(powerOn bool) error {
	switch running := l.motor.IsRunning(); {
	case powerOn && !running:
		if err := l.motor.Start(); err != nil {
			return fmt.Errorf("start motor: %w", err)
		}
		l.state = observability.StatusRunning
		l.emit(observability.StatusRunning, EventStarted)
	case !powerOn && running:
		if err := l.motor.Stop(); err != nil {
			return fmt.Errorf("stop motor: %w", err)
		}
		l.state = observability.StatusStopped
		l.emit(observability.StatusStopped, EventStopped)
	}
	return nil
}

// reconcileSpeed moves the motor one step toward desired.
func (l *Loop) reconcileSpeed(desired int) error {
	current := l.motor.Speed()
	target := float64(desired)
	switch {
	case current > target:
		if err := l.motor.SlowDown(); err != nil {
			return fmt.Errorf("slow down: %w", err)
		}
	case current < target:
		if err := l.motor.SpeedUp(); err != nil {
			return fmt.Errorf("speed up: %w", err)
		}
	}
	return nil
}

// countBoxes increments the count on a rising edge of the sensor.
func (l *Loop) countBoxes() error {
	visible, err := l.sens.IsBoxVisible()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	if visible && !l.lastVisible {
		l.boxCount++
		l.log.Debugw("box detected", "box_count", l.boxCount)
	}
	l.lastVisible = visible
	return nil
}

// publishTelemetry sends telemetry once the threshold has elapsed since the
// last successful publish. The timer only advances on success.
func (l *Loop) publishTelemetry() {
	now := l.now()
	if !l.lastTelemetry.IsZero() && now.Sub(l.lastTelemetry) <= l.threshold {
		return
	}
	if err := l.obs.ObserveRunningState(l.boxCount, l.motor.Speed()); err != nil {
		l.log.Warnw("telemetry publish failed, retrying next cycle", "error", err)
		return
	}
	l.lastTelemetry = now
}

// emit publishes a status change event, logging failures.
func (l *Loop) emit(st observability.Status, event string) {
	if err := l.obs.ObserveMachineStatusChanged(l.boxCount, l.motor.Speed(), st, event); err != nil {
		l.log.Warnw("emit event", "event", event, "error", err)
	}
}

func (l *Loop) report() {
	if l.sink == nil {
		return
	}
	l.sink.UpdateLoop(l.snapshotLocked())
}

func (l *Loop) snapshotLocked() status.Loop {
	s := status.Loop{
		State:         string(l.state),
		BoxCount:      l.boxCount,
		Speed:         l.motor.Speed(),
		DesiredSpeed:  l.desired,
		PowerOn:       l.powerOn,
		Cycles:        l.cycles,
		LastTelemetry: l.lastTelemetry,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// Snapshot returns the current loop state.
func (l *Loop) Snapshot() status.Loop {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// BoxCount returns the number of boxes counted so far.
func (l *Loop) BoxCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.boxCount
}

// IsRunning reports whether the loop is between Run and Stop.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
