package exporter

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/sweeney/box-counter/internal/bus"
)

// Message types understood by the cloud ingestion endpoint.
const (
	MessageTelemetry    = "Telemetry"
	MessageMachineEvent = "MachineEvent"
)

// DefaultDataSource identifies the line controller in telemetry records.
const DefaultDataSource = "172.17.2.1:80"

const eventTimeLayout = "2006-01-02T15:04:05.000000Z"

// TelemetryPayload is the downstream telemetry record.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner holds the telemetry fields.
type TelemetryInner struct {
	Timestamp            string  `json:"timestamp"`
	DataSource           string  `json:"datasource"`
	MachineID            string  `json:"machineid"`
	TotalOutputUnitCount int     `json:"totaloutputunitcount"`
	MachineSpeed         float64 `json:"machineSpeed"`
}

// MachineEventPayload is one downstream machine event. Events are sent as a
// JSON array of these.
type MachineEventPayload struct {
	Type                 string  `json:"type"`
	EquipmentID          string  `json:"equipmentId"`
	JobID                string  `json:"jobId"`
	TotalOutputUnitCount int     `json:"totalOutputUnitCount"`
	MachineSpeed         float64 `json:"machineSpeed"`
	Timestamp            string  `json:"timestamp"`
}

// FormatTelemetry renders a telemetry sample for the cloud.
func FormatTelemetry(ts time.Time, dataSource, machineID string, s bus.Sample) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Telemetry: TelemetryInner{
			Timestamp:            ts.UTC().Format(time.RFC3339Nano),
			DataSource:           dataSource,
			MachineID:            machineID,
			TotalOutputUnitCount: s.BoxCount,
			MachineSpeed:         s.MachineSpeed,
		},
	})
}

// FormatMachineEvent renders a single machine event as a one-element array.
func FormatMachineEvent(ts time.Time, event, machineID, jobID string, s bus.Sample) ([]byte, error) {
	return json.Marshal([]MachineEventPayload{{
		Type:                 event,
		EquipmentID:          machineID,
		JobID:                jobID,
		TotalOutputUnitCount: s.BoxCount,
		MachineSpeed:         s.MachineSpeed,
		Timestamp:            ts.UTC().Format(eventTimeLayout),
	}})
}
