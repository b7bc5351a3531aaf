package motor

import "sync"

// Sim is an in-memory motor. Safe for concurrent use.
type Sim struct {
	mu sync.Mutex
	st stepper
}

// NewSim creates a simulated motor. A zero Step selects DefaultSimLimits.
func NewSim(limits Limits) *Sim {
	if limits.Step == 0 {
		limits = DefaultSimLimits
	}
	return &Sim{st: stepper{limits: limits}}
}

// Start implements Motor.
func (m *Sim) Start() error {
	m.mu.Lock()
	m.st.start()
	m.mu.Unlock()
	return nil
}

// Stop implements Motor.
func (m *Sim) Stop() error {
	m.mu.Lock()
	m.st.stop()
	m.mu.Unlock()
	return nil
}

// SpeedUp implements Motor.
func (m *Sim) SpeedUp() error {
	m.mu.Lock()
	m.st.up()
	m.mu.Unlock()
	return nil
}

// SlowDown implements Motor.
func (m *Sim) SlowDown() error {
	m.mu.Lock()
	m.st.down()
	m.mu.Unlock()
	return nil
}

// Speed implements Motor.
func (m *Sim) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.speed
}

// IsRunning implements Motor.
func (m *Sim) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.running
}
