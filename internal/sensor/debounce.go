package sensor

import "time"

// Debounced wraps a Sensor so that a change in reading is reported only
// after it has persisted for the debounce duration. The first reading is
// taken as the stable state.
type Debounced struct {
	inner    Sensor
	duration time.Duration
	now      func() time.Time

	baselined    bool
	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
}

// NewDebounced creates a debouncing wrapper. now defaults to time.Now.
func NewDebounced(inner Sensor, duration time.Duration, now func() time.Time) *Debounced {
	if now == nil {
		now = time.Now
	}
	return &Debounced{inner: inner, duration: duration, now: now}
}

// IsBoxVisible returns the debounced reading.
func (d *Debounced) IsBoxVisible() (bool, error) {
	raw, err := d.inner.IsBoxVisible()
	if err != nil {
		return false, err
	}
	t := d.now()

	if !d.baselined {
		d.stable = raw
		d.baselined = true
		return d.stable, nil
	}

	if raw == d.stable {
		// No change from stable state, clear any pending
		d.hasPending = false
		return d.stable, nil
	}

	if !d.hasPending || d.pending != raw {
		d.pending = raw
		d.hasPending = true
		d.pendingSince = t
	}

	if t.Sub(d.pendingSince) >= d.duration {
		d.stable = raw
		d.hasPending = false
	}
	return d.stable, nil
}

// Close closes the wrapped sensor.
func (d *Debounced) Close() error {
	return d.inner.Close()
}
