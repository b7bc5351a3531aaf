// Command config-poller keeps the machine configuration file in sync with a
// remote endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/box-counter/internal/config"
	"github.com/sweeney/box-counter/internal/logger"
	"github.com/sweeney/box-counter/internal/poller"
)

func main() {
	url := flag.String("url", "http://localhost:8000/config", "Configuration endpoint")
	path := flag.String("config", "config.json", "Machine configuration file to write")
	interval := flag.Duration("interval", poller.DefaultInterval, "Poll interval")
	retries := flag.Uint64("retries", poller.DefaultMaxRetries, "Retries per poll on transport errors")
	level := flag.String("log-level", logger.InfoLevel, "Log level (debug, info, warn, error)")
	flag.Parse()

	lg := logger.New(*level, nil)
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *url, *path, *interval, *retries, lg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, url, path string, interval time.Duration, retries uint64, lg *zap.SugaredLogger) error {
	store, err := openStore(path)
	if err != nil {
		return err
	}
	return poller.New(store, url, interval, lg, poller.WithMaxRetries(retries)).Run(ctx)
}

// openStore creates an empty record when the file does not exist yet, so the
// poller can start before the first successful fetch.
func openStore(path string) (*config.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(`{"speed": 0, "power": "off"}`), 0o644); err != nil {
			return nil, err
		}
	}
	return config.NewStore(path)
}
