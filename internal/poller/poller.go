// Package poller keeps the machine configuration in sync with a remote
// endpoint: every interval it fetches the configuration and, on a 200
// response, saves the body verbatim to the configuration store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Defaults
const (
	DefaultInterval   = 2 * time.Second
	DefaultMaxRetries = 3
	maxBodyBytes      = 1 << 16
)

// ErrUnexpectedStatus is returned when the endpoint answers with anything but 200.
var ErrUnexpectedStatus = errors.New("poller: unexpected status")

// Saver persists a raw configuration record.
type Saver interface {
	Save(data []byte) error
}

// Poller fetches the configuration periodically.
type Poller struct {
	store    Saver
	url      string
	interval time.Duration
	log      *zap.SugaredLogger

	client     *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// Option configures a Poller.
type Option func(*Poller)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithMaxRetries bounds the retries of a failed fetch within one interval.
func WithMaxRetries(n uint64) Option {
	return func(p *Poller) { p.maxRetries = n }
}

// WithBackOff sets the retry policy factory, called once per fetch.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(p *Poller) { p.newBackOff = f }
}

// New creates a poller for url. interval <= 0 selects DefaultInterval.
func New(store Saver, url string, interval time.Duration, log *zap.SugaredLogger, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		store:      store,
		url:        url,
		interval:   interval,
		log:        log,
		client:     &http.Client{Timeout: interval},
		maxRetries: DefaultMaxRetries,
	}
	p.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = interval
		return b
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls immediately and then every interval until ctx is done.
// Fetch failures are logged; Run only returns when ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Infow("config poller started", "url", p.url, "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Errorw("failed to fetch config", "url", p.url, "error", err)
		}
		select {
		case <-ctx.Done():
			p.log.Infow("config poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch. Transport errors are retried with backoff;
// an unexpected status or a rejected record is not.
func (p *Poller) Poll(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		return p.fetch(ctx)
	}
	notify := func(err error, wait time.Duration) {
		p.log.Debugw("config fetch failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

func (p *Poller) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := p.store.Save(body); err != nil {
		return backoff.Permanent(fmt.Errorf("save config: %w", err))
	}
	p.log.Infow("config updated", "url", p.url, "bytes", len(body))
	return nil
}
