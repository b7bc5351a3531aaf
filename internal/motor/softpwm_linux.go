//go:build linux

package motor

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// SoftPWM toggles a GPIO output line in software to produce a PWM signal.
type SoftPWM struct {
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
	period time.Duration

	mu   sync.Mutex
	duty float64

	update chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSoftPWM requests pin on gpiochip0 as an output driven low and starts
// the toggling goroutine at freqHz.
func NewSoftPWM(pin, freqHz int) (*SoftPWM, error) {
	if freqHz <= 0 {
		return nil, fmt.Errorf("invalid pwm frequency %d", freqHz)
	}
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request motor pin %d: %w", pin, err)
	}

	p := &SoftPWM{
		chip:   chip,
		line:   line,
		period: time.Second / time.Duration(freqHz),
		update: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// SetDuty implements Output.
func (p *SoftPWM) SetDuty(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("duty %.1f%% out of range", percent)
	}
	p.mu.Lock()
	p.duty = percent
	p.mu.Unlock()
	select {
	case p.update <- struct{}{}:
	default:
	}
	return nil
}

func (p *SoftPWM) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		duty := p.duty
		p.mu.Unlock()

		if duty <= 0 {
			p.line.SetValue(0)
			select {
			case <-p.done:
				return
			case <-p.update:
				continue
			}
		}

		high := time.Duration(float64(p.period) * duty / 100)
		p.line.SetValue(1)
		if !p.wait(high) {
			return
		}
		if high < p.period {
			p.line.SetValue(0)
			if !p.wait(p.period - high) {
				return
			}
		}
	}
}

// wait sleeps for d, returning false if the output was closed meanwhile.
func (p *SoftPWM) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return false
	case <-t.C:
		return true
	}
}

// Close stops toggling, drives the line low, and releases the GPIO resources.
func (p *SoftPWM) Close() error {
	close(p.done)
	p.wg.Wait()

	var errs []error
	if err := p.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive motor pin low: %w", err))
	}
	if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure motor pin: %w", err))
	}
	if err := p.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close motor pin: %w", err))
	}
	if err := p.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
