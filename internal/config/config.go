// Package config holds the machine configuration the control loop reconciles
// against. The backing record is a JSON file written by the config poller:
//
//	{"speed": 5, "power": "on"}
//
// Other keys are ignored. Power is on only for the literal string "on".
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// DefaultReloadInterval is how long a snapshot is trusted before ShouldReload
// goes back to the file.
const DefaultReloadInterval = 3 * time.Second

// ErrConfigUnavailable is returned when the backing record is missing,
// unreadable or not valid JSON. The previous snapshot stays active.
var ErrConfigUnavailable = errors.New("config unavailable")

// MachineConfig is a read-only snapshot of the desired machine state.
type MachineConfig struct {
	DesiredSpeed int
	PowerOn      bool
}

// Store owns the active MachineConfig. Safe for concurrent use: the control
// loop reads while a poller goroutine may Save.
type Store struct {
	path     string
	interval time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	cfg        MachineConfig
	raw        map[string]any
	lastReload time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithReloadInterval overrides DefaultReloadInterval.
func WithReloadInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithClock injects the time source used for the reload interval.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store for the file at path and loads it synchronously.
// A Store never exists without a snapshot, so a failed initial load is an error.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		interval: DefaultReloadInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ShouldReload reloads the file if no reload has happened yet or the reload
// interval has elapsed since the last successful one. It reports whether a
// reload took place. On failure the previous snapshot is kept and the error
// wraps ErrConfigUnavailable.
func (s *Store) ShouldReload() (bool, error) {
	s.mu.RLock()
	last := s.lastReload
	s.mu.RUnlock()

	if !last.IsZero() && s.now().Sub(last) <= s.interval {
		return false, nil
	}
	if err := s.Reload(); err != nil {
		return false, err
	}
	return true, nil
}

// Reload reads the backing file and replaces the snapshot wholesale.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfigUnavailable, s.path, err)
	}
	cfg, raw, err := parse(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.raw = raw
	s.lastReload = s.now()
	s.mu.Unlock()
	return nil
}

// Save validates an externally supplied record, writes it verbatim to the
// backing file and reloads so the snapshot matches the file. An invalid
// record is rejected without touching the file.
func (s *Store) Save(data []byte) error {
	if _, _, err := parse(data); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return s.Reload()
}

// Snapshot returns the active configuration.
func (s *Store) Snapshot() MachineConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Speed returns the desired speed of the active configuration.
func (s *Store) Speed() int { return s.Snapshot().DesiredSpeed }

// PowerOn reports whether the active configuration asks for power.
func (s *Store) PowerOn() bool { return s.Snapshot().PowerOn }

// Raw returns a copy of every key in the active record.
func (s *Store) Raw() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	return out
}

// LastReload returns the time of the last successful reload.
func (s *Store) LastReload() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReload
}

func parse(data []byte) (MachineConfig, map[string]any, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return MachineConfig{}, nil, fmt.Errorf("parse: %w", err)
	}

	speed := v.GetInt("speed")
	if speed < 0 {
		speed = 0
	}
	return MachineConfig{
		DesiredSpeed: speed,
		PowerOn:      v.GetString("power") == "on",
	}, v.AllSettings(), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
