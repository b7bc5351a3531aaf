package motor

// Fake is a test double that behaves like Sim and records every call.
type Fake struct {
	st stepper

	// Call counters.
	StartCalls    int
	StopCalls     int
	SpeedUpCalls  int
	SlowDownCalls int

	// Errors, if set, are returned by the matching call without changing state.
	StartError    error
	StopError     error
	SpeedUpError  error
	SlowDownError error
}

// NewFake creates a Fake with DefaultSimLimits.
func NewFake() *Fake {
	return &Fake{st: stepper{limits: DefaultSimLimits}}
}

// SetSpeed forces the current speed, e.g. to start a test mid-ramp.
// Start on a running Fake keeps it.
func (f *Fake) SetSpeed(speed float64) { f.st.speed = speed }

// Start implements Motor.
func (f *Fake) Start() error {
	f.StartCalls++
	if f.StartError != nil {
		return f.StartError
	}
	f.st.start()
	return nil
}

// Stop implements Motor.
func (f *Fake) Stop() error {
	f.StopCalls++
	if f.StopError != nil {
		return f.StopError
	}
	f.st.stop()
	return nil
}

// SpeedUp implements Motor.
func (f *Fake) SpeedUp() error {
	f.SpeedUpCalls++
	if f.SpeedUpError != nil {
		return f.SpeedUpError
	}
	f.st.up()
	return nil
}

// SlowDown implements Motor.
func (f *Fake) SlowDown() error {
	f.SlowDownCalls++
	if f.SlowDownError != nil {
		return f.SlowDownError
	}
	f.st.down()
	return nil
}

// Speed implements Motor.
func (f *Fake) Speed() float64 { return f.st.speed }

// IsRunning implements Motor.
func (f *Fake) IsRunning() bool { return f.st.running }
