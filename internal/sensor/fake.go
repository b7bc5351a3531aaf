package sensor

import "errors"

// Fake is a test double that returns scripted readings.
type Fake struct {
	// Samples contains scripted readings to return.
	// Each call to IsBoxVisible consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Reads counts calls to IsBoxVisible.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by IsBoxVisible.
	ReadError error

	// FailAfter, if positive, makes every read after the first FailAfter
	// reads return ReadError (or a generic error).
	FailAfter int
}

// NewFake creates a Fake with the given samples.
func NewFake(samples ...bool) *Fake {
	return &Fake{Samples: samples}
}

// IsBoxVisible returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *Fake) IsBoxVisible() (bool, error) {
	f.Reads++
	if f.FailAfter > 0 && f.Reads > f.FailAfter {
		if f.ReadError != nil {
			return false, f.ReadError
		}
		return false, errors.New("sensor read failed")
	}
	if f.FailAfter == 0 && f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Close marks the sensor as closed.
func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds to the first sample.
func (f *Fake) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}
