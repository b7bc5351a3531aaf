// Package sensor provides box detection with hardware abstraction.
// The real implementation reads an IR break-beam through the Linux GPIO
// character device. The simulated and fake implementations allow running
// and testing without hardware.
package sensor

// Sensor reports whether a box is in front of the detector.
type Sensor interface {
	// IsBoxVisible samples the detector.
	IsBoxVisible() (bool, error)

	// Close releases sensor resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinIR = 17
)
