// Package motor provides motor actuation with hardware abstraction.
// The simulated and fake implementations allow running without hardware;
// the PWM implementation drives a GPIO line through the Linux character device.
package motor

// Motor actuates the conveyor motor. SpeedUp and SlowDown move the speed by
// exactly one step per call, so callers converge on a target over several
// calls instead of jumping to it.
type Motor interface {
	// Start powers the motor at its start speed. No-op if already running.
	Start() error
	// Stop powers the motor down. No-op if already stopped.
	Stop() error
	// SpeedUp raises the speed by one step. Ignored while stopped.
	SpeedUp() error
	// SlowDown lowers the speed by one step. Ignored while stopped.
	SlowDown() error
	// Speed returns the current speed.
	Speed() float64
	// IsRunning reports whether the motor is powered.
	IsRunning() bool
}

// Limits bounds the speeds a motor can be stepped through.
type Limits struct {
	Start float64 // speed applied by Start
	Min   float64 // SlowDown never goes below this while running
	Max   float64 // SpeedUp never goes above this
	Step  float64 // size of one SpeedUp/SlowDown step
}

// DefaultSimLimits starts at standstill and steps in whole units.
var DefaultSimLimits = Limits{Start: 0, Min: 0, Max: 100, Step: 1}

// DefaultPWMLimits matches the conveyor ESC: 10% duty is the slowest running
// speed and 14% the fastest.
var DefaultPWMLimits = Limits{Start: 10, Min: 10, Max: 14, Step: 1}

// stepper is the speed state shared by every implementation.
// Not safe for concurrent use; callers synchronize.
type stepper struct {
	limits  Limits
	speed   float64
	running bool
}

func (s *stepper) start() bool {
	if s.running {
		return false
	}
	s.running = true
	s.speed = s.limits.Start
	return true
}

func (s *stepper) stop() bool {
	if !s.running {
		return false
	}
	s.running = false
	s.speed = 0
	return true
}

func (s *stepper) up() bool {
	if !s.running || s.speed >= s.limits.Max {
		return false
	}
	s.speed = min(s.speed+s.limits.Step, s.limits.Max)
	return true
}

func (s *stepper) down() bool {
	if !s.running || s.speed <= s.limits.Min {
		return false
	}
	s.speed = max(s.speed-s.limits.Step, s.limits.Min)
	return true
}
