package motor

import (
	"fmt"
	"sync"
)

// Pin definitions (BCM numbering)
const (
	PinMotor = 18
	// PWMFrequency is the ESC control frequency in Hz.
	PWMFrequency = 50
)

// Output drives a PWM signal. Duty is a percentage in [0, 100].
type Output interface {
	SetDuty(percent float64) error
	Close() error
}

// PWM is a motor whose speed is the duty cycle of a PWM output.
// Safe for concurrent use.
type PWM struct {
	mu  sync.Mutex
	out Output
	st  stepper
}

// NewPWM creates a motor on top of out. A zero Step selects DefaultPWMLimits.
func NewPWM(out Output, limits Limits) *PWM {
	if limits.Step == 0 {
		limits = DefaultPWMLimits
	}
	return &PWM{out: out, st: stepper{limits: limits}}
}

// Start implements Motor.
func (m *PWM) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.start() {
		return nil
	}
	return m.apply("start")
}

// Stop implements Motor.
func (m *PWM) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.stop() {
		return nil
	}
	return m.apply("stop")
}

// SpeedUp implements Motor.
func (m *PWM) SpeedUp() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.up() {
		return nil
	}
	return m.apply("speed up")
}

// SlowDown implements Motor.
func (m *PWM) SlowDown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.down() {
		return nil
	}
	return m.apply("slow down")
}

// Speed implements Motor.
func (m *PWM) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.speed
}

// IsRunning implements Motor.
func (m *PWM) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.running
}

// Close stops the motor and releases the output.
func (m *PWM) Close() error {
	stopErr := m.Stop()
	if err := m.out.Close(); err != nil {
		return fmt.Errorf("close pwm output: %w", err)
	}
	return stopErr
}

func (m *PWM) apply(op string) error {
	if err := m.out.SetDuty(m.st.speed); err != nil {
		return fmt.Errorf("%s: set duty %.1f%%: %w", op, m.st.speed, err)
	}
	return nil
}
