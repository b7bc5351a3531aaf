// Command box-counter drives the conveyor motor, counts boxes passing the IR
// sensor and publishes telemetry, events, logs and metrics on the local bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/bus"
	"github.com/sweeney/box-counter/internal/config"
	"github.com/sweeney/box-counter/internal/control"
	"github.com/sweeney/box-counter/internal/exporter"
	"github.com/sweeney/box-counter/internal/logger"
	"github.com/sweeney/box-counter/internal/metrics"
	"github.com/sweeney/box-counter/internal/motor"
	"github.com/sweeney/box-counter/internal/observability"
	"github.com/sweeney/box-counter/internal/poller"
	"github.com/sweeney/box-counter/internal/sensor"
	"github.com/sweeney/box-counter/internal/status"
	"github.com/sweeney/box-counter/internal/sysinfo"
	"github.com/sweeney/box-counter/internal/web"
)

// Backend names accepted by --motor and --sensor.
const (
	backendSim = "sim"
	backendPWM = "pwm"
	backendIR  = "ir"
)

const logBufferSize = 1000

type options struct {
	Delay          time.Duration
	Telemetry      time.Duration
	Broker         string
	Topic          string
	HTTPAddr       string
	ConfigPath     string
	ConfigURL      string
	ConfigInterval time.Duration
	Motor          string
	Sensor         string
	PinMotor       int
	PinIR          int
	Debounce       time.Duration
	SimEvery       int
	Namespace      string
	LogLevel       string

	// in-process exporter, only with the memory bus
	CloudBroker string
	DeviceID    string
	Backend     string
}

func main() {
	var o options
	flag.DurationVar(&o.Delay, "delay", control.DefaultDelay, "Pause between control cycles")
	flag.DurationVar(&o.Telemetry, "telemetry", control.DefaultTelemetryThreshold, "Minimum time between telemetry publishes")
	flag.StringVar(&o.Broker, "broker", "", "Local MQTT broker address (empty for an in-process bus)")
	flag.StringVar(&o.Topic, "topic", bus.DefaultTopic, "Local MQTT topic")
	flag.StringVar(&o.HTTPAddr, "http", ":8080", "HTTP status address (empty to disable)")
	flag.StringVar(&o.ConfigPath, "config", "config.json", "Machine configuration file")
	flag.StringVar(&o.ConfigURL, "config-url", "", "Poll machine configuration from this URL (empty to disable)")
	flag.DurationVar(&o.ConfigInterval, "config-interval", poller.DefaultInterval, "Configuration poll interval")
	flag.StringVar(&o.Motor, "motor", backendSim, `Motor backend ("sim" or "pwm")`)
	flag.StringVar(&o.Sensor, "sensor", backendSim, `Sensor backend ("sim" or "ir")`)
	flag.IntVar(&o.PinMotor, "pin-motor", motor.PinMotor, "BCM pin number for the motor ESC")
	flag.IntVar(&o.PinIR, "pin-ir", sensor.PinIR, "BCM pin number for the IR sensor")
	flag.DurationVar(&o.Debounce, "debounce", 0, "Sensor debounce duration (0 to disable)")
	flag.IntVar(&o.SimEvery, "sim-every", sensor.DefaultToggleEvery, "Simulated sensor toggles every N reads")
	flag.StringVar(&o.Namespace, "namespace", metrics.DefaultNamespace, "Metric name prefix")
	flag.StringVar(&o.LogLevel, "log-level", logger.InfoLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&o.CloudBroker, "cloud-broker", "", "Run the exporter in-process against this cloud broker (memory bus only)")
	flag.StringVar(&o.DeviceID, "device-id", "box-counter", "Cloud device id, also the machine id")
	flag.StringVar(&o.Backend, "backend", "", "Fleet backend base URL for system info (empty to disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, o options) error {
	logs := logger.NewBuffer(logBufferSize)
	lg := logger.New(o.LogLevel, logs)
	defer lg.Sync()

	store, err := config.NewStore(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m, closeMotor, err := newMotor(o.Motor, o.PinMotor)
	if err != nil {
		return fmt.Errorf("init motor: %w", err)
	}
	defer closeMotor()

	s, err := newSensor(o.Sensor, o.PinIR, o.Debounce, o.SimEvery)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer s.Close()

	pub, sub := newBus(o, lg)
	defer pub.Close()

	reg := metrics.NewRegistry(o.Namespace)
	obs := observability.New(pub, logs, reg, lg, observability.WithSystemInfo(sysinfo.New()))

	tracker := status.NewTracker(time.Now(), status.Config{
		DelayMs:     o.Delay.Milliseconds(),
		TelemetryMs: o.Telemetry.Milliseconds(),
		Broker:      o.Broker,
		HTTPAddr:    o.HTTPAddr,
		ConfigPath:  o.ConfigPath,
		ConfigURL:   o.ConfigURL,
		Motor:       o.Motor,
		Sensor:      o.Sensor,
	})
	var conn bus.ConnectionStatus
	if c, ok := pub.(bus.ConnectionStatus); ok {
		conn = c
	}

	if o.ConfigURL != "" {
		p := poller.New(store, o.ConfigURL, o.ConfigInterval, lg)
		go p.Run(ctx)
	}

	if sub != nil && o.CloudBroker != "" {
		exp, closeExp := newExporter(o, sub, lg)
		defer closeExp()
		go func() {
			if err := exp.Run(ctx, sub); err != nil {
				lg.Errorw("exporter", "error", err)
			}
		}()
	}

	if o.HTTPAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(reg, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		srv := web.New(o.HTTPAddr, tracker, promReg, lg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		lg.Infow("http status server listening", "addr", o.HTTPAddr)
	}

	loop := control.New(m, s, obs, store, lg,
		control.WithDelay(o.Delay),
		control.WithTelemetryThreshold(o.Telemetry),
		control.WithStatus(trackerSink{tracker: tracker, conn: conn}),
	)

	lg.Infow("started",
		"delay", o.Delay, "telemetry", o.Telemetry, "broker", o.Broker,
		"motor", o.Motor, "sensor", o.Sensor, "config", o.ConfigPath)

	err = loop.Run(ctx)
	lg.Infow("shutting down", "box_count", loop.BoxCount())
	if flushErr := obs.Flush(); flushErr != nil {
		lg.Warnw("final flush", "error", flushErr)
	}
	return err
}

// trackerSink feeds loop state and bus connectivity to the status tracker.
type trackerSink struct {
	tracker *status.Tracker
	conn    bus.ConnectionStatus
}

func (t trackerSink) UpdateLoop(l status.Loop) {
	t.tracker.UpdateLoop(l)
	if t.conn != nil {
		t.tracker.SetBusConnected(t.conn.IsConnected())
	}
}

func newMotor(backend string, pin int) (motor.Motor, func() error, error) {
	switch backend {
	case backendSim:
		return motor.NewSim(motor.DefaultSimLimits), func() error { return nil }, nil
	case backendPWM:
		out, err := motor.NewSoftPWM(pin, motor.PWMFrequency)
		if err != nil {
			return nil, nil, err
		}
		m := motor.NewPWM(out, motor.DefaultPWMLimits)
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown motor backend %q", backend)
	}
}

func newSensor(backend string, pin int, debounce time.Duration, simEvery int) (sensor.Sensor, error) {
	var s sensor.Sensor
	switch backend {
	case backendSim:
		s = sensor.NewSim(simEvery)
	case backendIR:
		ir, err := sensor.NewIR(pin)
		if err != nil {
			return nil, err
		}
		s = ir
	default:
		return nil, fmt.Errorf("unknown sensor backend %q", backend)
	}
	if debounce > 0 {
		s = sensor.NewDebounced(s, debounce, time.Now)
	}
	return s, nil
}

// newBus returns the publisher the loop writes to and, for the in-process
// bus, the subscriber an in-process exporter reads from.
func newBus(o options, lg *zap.SugaredLogger) (bus.Publisher, bus.Subscriber) {
	if o.Broker == "" {
		mem := bus.NewMemory(0)
		return mem, mem
	}
	host, _ := os.Hostname()
	return bus.NewMQTTPublisher(bus.MQTTConfig{
		Broker:   o.Broker,
		ClientID: "box-counter-" + host,
		Topic:    o.Topic,
	}, lg), nil
}

func newExporter(o options, sub bus.Subscriber, lg *zap.SugaredLogger) (*exporter.Exporter, func()) {
	sink := exporter.NewCloudMQTT(exporter.CloudConfig{
		Broker:   o.CloudBroker,
		DeviceID: o.DeviceID,
	}, lg)
	var opts []exporter.Option
	if o.Backend != "" {
		opts = append(opts, exporter.WithBackend(exporter.NewBackend(o.Backend, nil)))
	}
	return exporter.New(sink, o.DeviceID, lg, opts...), exporterCloser(sub, sink)
}

// exporterCloser closes the bus first so everything still queued, including
// the final Stopped event and flush batches, reaches the sink before it closes.
func exporterCloser(sub bus.Subscriber, sink exporter.Sink) func() {
	return func() {
		sub.Close()
		sink.Close()
	}
}
