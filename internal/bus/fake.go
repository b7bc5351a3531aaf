package bus

import "sync"

// Fake records published envelopes for test assertions.
type Fake struct {
	mu sync.Mutex

	// Envelopes contains all envelopes that were published.
	Envelopes []Envelope

	// Payloads contains the wire encoding of each published envelope.
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFake creates a Fake for testing.
func NewFake() *Fake {
	return &Fake{Connected: true}
}

// Publish records the envelope.
func (f *Fake) Publish(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := Encode(env)
	if err != nil {
		return err
	}
	f.Envelopes = append(f.Envelopes, env)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// SetPublishError changes the scripted error while the fake is in use.
func (f *Fake) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// All returns a copy of the recorded envelopes.
func (f *Fake) All() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.Envelopes...)
}

// OfType returns the recorded envelopes of type t, in publish order.
func (f *Fake) OfType(t Type) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, env := range f.Envelopes {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Events returns the event names of recorded export_event envelopes.
func (f *Fake) Events() []string {
	var names []string
	for _, env := range f.OfType(TypeEvent) {
		names = append(names, env.Event)
	}
	return names
}

// Close marks the publisher as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded envelopes.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Envelopes = nil
	f.Payloads = nil
	f.PublishError = nil
	f.Closed = false
	f.Connected = true
}
