// Command exporter is the side-car that forwards the box-counter's
// observability stream from the local broker to the cloud.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/bus"
	"github.com/sweeney/box-counter/internal/exporter"
	"github.com/sweeney/box-counter/internal/journal"
	"github.com/sweeney/box-counter/internal/logger"
)

type options struct {
	Broker      string
	Topic       string
	CloudBroker string
	DeviceID    string
	Username    string
	Password    string
	Backend     string
	JobID       string
	DataSource  string
	Journal     string
	BufferSize  int
}

func main() {
	var o options
	flag.StringVar(&o.Broker, "broker", "tcp://localhost:1883", "Local MQTT broker address")
	flag.StringVar(&o.Topic, "topic", bus.DefaultTopic, "Local MQTT topic")
	flag.StringVar(&o.CloudBroker, "cloud-broker", "", "Cloud MQTT broker address (required)")
	flag.StringVar(&o.DeviceID, "device-id", "box-counter", "Cloud device id, also the machine id")
	flag.StringVar(&o.Username, "username", "", "Cloud broker username")
	flag.StringVar(&o.Backend, "backend", "", "Fleet backend base URL for system info (empty to disable)")
	flag.StringVar(&o.JobID, "job-id", "", "Job id for machine events (empty to generate)")
	flag.StringVar(&o.DataSource, "datasource", exporter.DefaultDataSource, "Telemetry data source")
	flag.StringVar(&o.Journal, "journal", "", "SQLite journal of exported envelopes (empty to disable)")
	flag.IntVar(&o.BufferSize, "buffer", exporter.DefaultBufferSize, "Records held while the cloud is unreachable")
	level := flag.String("log-level", logger.InfoLevel, "Log level (debug, info, warn, error)")
	flag.Parse()

	// kept off the command line
	o.Password = os.Getenv("EXPORTER_CLOUD_PASSWORD")

	lg := logger.New(*level, nil)
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, lg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, o options, lg *zap.SugaredLogger) error {
	if o.CloudBroker == "" {
		return errors.New("--cloud-broker is required")
	}

	opts, closeJournal, err := exporterOptions(o)
	if err != nil {
		return err
	}
	defer closeJournal()

	sink := exporter.NewCloudMQTT(exporter.CloudConfig{
		Broker:     o.CloudBroker,
		DeviceID:   o.DeviceID,
		Username:   o.Username,
		Password:   o.Password,
		BufferSize: o.BufferSize,
	}, lg)
	defer sink.Close()

	host, _ := os.Hostname()
	sub := bus.NewMQTTSubscriber(bus.MQTTConfig{
		Broker:   o.Broker,
		ClientID: "box-counter-exporter-" + host,
		Topic:    o.Topic,
	}, lg)
	defer sub.Close()

	return exporter.New(sink, o.DeviceID, lg, opts...).Run(ctx, sub)
}

func exporterOptions(o options) ([]exporter.Option, func(), error) {
	opts := []exporter.Option{
		exporter.WithJobID(o.JobID),
		exporter.WithDataSource(o.DataSource),
	}
	if o.Backend != "" {
		opts = append(opts, exporter.WithBackend(exporter.NewBackend(o.Backend, nil)))
	}
	closeFn := func() {}
	if o.Journal != "" {
		j, err := journal.Open(o.Journal)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, exporter.WithJournal(j))
		closeFn = func() { j.Close() }
	}
	return opts, closeFn, nil
}
