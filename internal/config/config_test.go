package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// stepClock is a manually advanced clock.
type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestStore(t *testing.T, body string) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	path := writeConfig(t, t.TempDir(), body)
	s, err := NewStore(path, WithClock(clock.now))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, clock
}

func TestNewStoreLoadsSynchronously(t *testing.T) {
	s, clock := newTestStore(t, `{"speed": 5, "power": "on"}`)

	if s.Speed() != 5 {
		t.Errorf("Speed: got %d, want 5", s.Speed())
	}
	if !s.PowerOn() {
		t.Error("PowerOn: got false, want true")
	}
	if !s.LastReload().Equal(clock.t) {
		t.Errorf("LastReload: got %v, want %v", s.LastReload(), clock.t)
	}
}

func TestNewStoreMissingFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("expected ErrConfigUnavailable, got %v", err)
	}
}

func TestPowerIsOnOnlyForLiteralOn(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"power": "on"}`, true},
		{`{"power": "off"}`, false},
		{`{"power": "ON"}`, false},
		{`{"power": true}`, false},
		{`{"power": 1}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			s, _ := newTestStore(t, tt.body)
			if got := s.PowerOn(); got != tt.want {
				t.Errorf("PowerOn: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpeedParsing(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`{"speed": 12}`, 12},
		{`{"speed": "7"}`, 7},
		{`{"speed": -3}`, 0},
		{`{"power": "on"}`, 0},
		{`{"speed": 4, "unrelated": {"nested": true}}`, 4},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			s, _ := newTestStore(t, tt.body)
			if got := s.Speed(); got != tt.want {
				t.Errorf("Speed: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestShouldReloadRespectsInterval(t *testing.T) {
	s, clock := newTestStore(t, `{"speed": 1, "power": "on"}`)

	clock.advance(2 * time.Second)
	reloaded, err := s.ShouldReload()
	if err != nil || reloaded {
		t.Fatalf("at 2s: got (%v, %v), want (false, nil)", reloaded, err)
	}

	clock.advance(time.Second)
	reloaded, err = s.ShouldReload()
	if err != nil || reloaded {
		t.Fatalf("at exactly 3s: got (%v, %v), want (false, nil)", reloaded, err)
	}

	clock.advance(time.Millisecond)
	reloaded, err = s.ShouldReload()
	if err != nil || !reloaded {
		t.Fatalf("after 3s: got (%v, %v), want (true, nil)", reloaded, err)
	}
	if !s.LastReload().Equal(clock.t) {
		t.Errorf("LastReload not updated: got %v, want %v", s.LastReload(), clock.t)
	}
}

func TestShouldReloadPicksUpFileChanges(t *testing.T) {
	s, clock := newTestStore(t, `{"speed": 1, "power": "on"}`)

	if err := os.WriteFile(s.Path(), []byte(`{"speed": 9, "power": "off"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if s.Speed() != 1 {
		t.Fatalf("snapshot changed before reload: %d", s.Speed())
	}

	clock.advance(4 * time.Second)
	if reloaded, err := s.ShouldReload(); err != nil || !reloaded {
		t.Fatalf("ShouldReload: got (%v, %v)", reloaded, err)
	}
	got := s.Snapshot()
	if got != (MachineConfig{DesiredSpeed: 9, PowerOn: false}) {
		t.Errorf("Snapshot: got %+v", got)
	}
}

func TestFailedReloadKeepsPreviousSnapshot(t *testing.T) {
	s, clock := newTestStore(t, `{"speed": 3, "power": "on"}`)
	loadedAt := s.LastReload()

	if err := os.Remove(s.Path()); err != nil {
		t.Fatal(err)
	}
	clock.advance(5 * time.Second)

	reloaded, err := s.ShouldReload()
	if reloaded {
		t.Error("expected no reload")
	}
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("expected ErrConfigUnavailable, got %v", err)
	}
	if s.Snapshot() != (MachineConfig{DesiredSpeed: 3, PowerOn: true}) {
		t.Errorf("snapshot changed after failed reload: %+v", s.Snapshot())
	}
	if !s.LastReload().Equal(loadedAt) {
		t.Error("LastReload must only move on success")
	}
}

func TestReloadInvalidJSON(t *testing.T) {
	s, _ := newTestStore(t, `{"speed": 3, "power": "on"}`)
	if err := os.WriteFile(s.Path(), []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("expected ErrConfigUnavailable, got %v", err)
	}
	if s.Speed() != 3 {
		t.Errorf("Speed changed: %d", s.Speed())
	}
}

func TestSaveWritesVerbatimAndReloads(t *testing.T) {
	s, clock := newTestStore(t, `{"speed": 1, "power": "off"}`)
	clock.advance(time.Second)

	body := []byte(`{"speed":8,"power":"on","operator":"night shift"}`)
	if err := s.Save(body); err != nil {
		t.Fatalf("Save: %v", err)
	}

	onDisk, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != string(body) {
		t.Errorf("file contents: got %s, want %s", onDisk, body)
	}
	if s.Snapshot() != (MachineConfig{DesiredSpeed: 8, PowerOn: true}) {
		t.Errorf("Snapshot: got %+v", s.Snapshot())
	}
	if !s.LastReload().Equal(clock.t) {
		t.Error("Save must reload immediately")
	}
	if s.Raw()["operator"] != "night shift" {
		t.Errorf("Raw: got %v", s.Raw())
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	s, _ := newTestStore(t, `{"speed": 2, "power": "on"}`)

	if err := s.Save([]byte(`<html>bad gateway</html>`)); err == nil {
		t.Fatal("expected error for invalid record")
	}
	onDisk, _ := os.ReadFile(s.Path())
	if string(onDisk) != `{"speed": 2, "power": "on"}` {
		t.Errorf("file was modified: %s", onDisk)
	}
	if s.Speed() != 2 {
		t.Errorf("Speed changed: %d", s.Speed())
	}
}

func TestWithReloadInterval(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	path := writeConfig(t, t.TempDir(), `{"speed": 1}`)
	s, err := NewStore(path, WithClock(clock.now), WithReloadInterval(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(30 * time.Second)
	if reloaded, _ := s.ShouldReload(); reloaded {
		t.Error("reloaded before custom interval")
	}
	clock.advance(31 * time.Second)
	if reloaded, _ := s.ShouldReload(); !reloaded {
		t.Error("did not reload after custom interval")
	}
}
