package status

import (
	"time"

	"github.com/goccy/go-json"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	State         string     `json:"state"`
	BoxCount      int        `json:"box_count"`
	Speed         float64    `json:"speed"`
	DesiredSpeed  int        `json:"desired_speed"`
	PowerOn       bool       `json:"power_on"`
	Cycles        uint64     `json:"cycles"`
	LastTelemetry string     `json:"last_telemetry,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Bus           BusStatus  `json:"bus"`
	Config        ConfigJSON `json:"config"`
}

// BusStatus reports event bus connection state.
type BusStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DelayMs     int64  `json:"delay_ms"`
	TelemetryMs int64  `json:"telemetry_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	ConfigPath  string `json:"config_path"`
	ConfigURL   string `json:"config_url,omitempty"`
	Motor       string `json:"motor"`
	Sensor      string `json:"sensor"`
}

// Build converts a snapshot into its JSON shape.
func Build(snap Snapshot) StatusJSON {
	state := snap.Loop.State
	if state == "" {
		state = "UNKNOWN"
	}
	inner := StatusInner{
		State:         state,
		BoxCount:      snap.Loop.BoxCount,
		Speed:         snap.Loop.Speed,
		DesiredSpeed:  snap.Loop.DesiredSpeed,
		PowerOn:       snap.Loop.PowerOn,
		Cycles:        snap.Loop.Cycles,
		LastError:     snap.Loop.LastError,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Bus:           BusStatus{Connected: snap.BusConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			DelayMs:     snap.Config.DelayMs,
			TelemetryMs: snap.Config.TelemetryMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			ConfigPath:  snap.Config.ConfigPath,
			ConfigURL:   snap.Config.ConfigURL,
			Motor:       snap.Config.Motor,
			Sensor:      snap.Config.Sensor,
		},
	}
	if !snap.Loop.LastTelemetry.IsZero() {
		inner.LastTelemetry = snap.Loop.LastTelemetry.UTC().Format(time.RFC3339)
	}
	return StatusJSON{Status: inner}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}
