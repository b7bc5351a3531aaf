//go:build !linux

package motor

import "errors"

// SoftPWM is not available on non-Linux platforms.
type SoftPWM struct{}

// NewSoftPWM returns an error on non-Linux platforms.
func NewSoftPWM(pin, freqHz int) (*SoftPWM, error) {
	return nil, errors.New("motor: pwm not supported on this platform (requires Linux)")
}

// SetDuty is not implemented on non-Linux platforms.
func (p *SoftPWM) SetDuty(percent float64) error {
	return errors.New("motor: pwm not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *SoftPWM) Close() error {
	return nil
}
