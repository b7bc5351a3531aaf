//go:build !linux

package sensor

import "errors"

// IR is not available on non-Linux platforms.
type IR struct{}

// NewIR returns an error on non-Linux platforms.
func NewIR(pin int) (*IR, error) {
	return nil, errors.New("sensor: gpio not supported on this platform (requires Linux)")
}

// IsBoxVisible is not implemented on non-Linux platforms.
func (s *IR) IsBoxVisible() (bool, error) {
	return false, errors.New("sensor: gpio not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *IR) Close() error {
	return nil
}
