package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SystemInfoPath is where the backend accepts host descriptions.
const SystemInfoPath = "/api/v1/system/info"

// ErrBackendStatus is returned when the backend rejects a request.
var ErrBackendStatus = errors.New("exporter: backend rejected request")

// Backend posts host information to the fleet backend over HTTP.
type Backend struct {
	base   string
	client *http.Client
}

// NewBackend creates a Backend for a base URL such as http://10.0.4.62:80.
// A nil client selects one with a 10 second timeout.
func NewBackend(base string, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Backend{base: strings.TrimRight(base, "/"), client: client}
}

// PostSystemInfo sends an already encoded JSON document.
func (b *Backend) PostSystemInfo(ctx context.Context, body []byte) error {
	url := b.base + SystemInfoPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d from %s", ErrBackendStatus, resp.StatusCode, url)
	}
	return nil
}
