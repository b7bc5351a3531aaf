//go:build linux

package sensor

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// IR reads an IR break-beam sensor from a GPIO input line.
type IR struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewIR requests pin on gpiochip0 as an input with pull-up.
func NewIR(pin int) (*IR, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request IR pin %d: %w", pin, err)
	}

	return &IR{chip: chip, line: line}, nil
}

// IsBoxVisible returns true while the beam is interrupted.
// The receiver pulls the line low when it sees an object.
func (s *IR) IsBoxVisible() (bool, error) {
	raw, err := s.line.Value()
	if err != nil {
		return false, fmt.Errorf("read IR pin: %w", err)
	}
	return raw == 0, nil
}

// Close reconfigures the line to input with pull-down (the Pi boot default)
// and releases the GPIO resources.
func (s *IR) Close() error {
	var errs []error
	if s.line != nil {
		if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure IR pin: %w", err))
		}
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close IR pin: %w", err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
