package sensor

import "sync"

// DefaultToggleEvery is how many reads a simulated box stays in (or out of) view.
const DefaultToggleEvery = 3

// Sim is a simulated sensor that flips visibility every N reads,
// so a conveyor at any speed produces a steady stream of boxes.
type Sim struct {
	mu      sync.Mutex
	every   int
	reads   int
	visible bool
}

// NewSim creates a simulated sensor. every <= 0 selects DefaultToggleEvery.
func NewSim(every int) *Sim {
	if every <= 0 {
		every = DefaultToggleEvery
	}
	return &Sim{every: every}
}

// IsBoxVisible implements Sensor.
func (s *Sim) IsBoxVisible() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.reads%s.every == 0 {
		s.visible = !s.visible
	}
	return s.visible, nil
}

// Close implements Sensor.
func (s *Sim) Close() error {
	return nil
}
