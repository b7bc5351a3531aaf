package exporter

import "sync"

// Sink delivers formatted records to the cloud.
type Sink interface {
	Send(messageType string, payload []byte) error
	Close() error
}

// SentMessage is one record accepted by a FakeSink.
type SentMessage struct {
	Type    string
	Payload []byte
}

// FakeSink records sent messages for test assertions.
type FakeSink struct {
	mu sync.Mutex

	// Messages contains everything accepted so far.
	Messages []SentMessage

	// SendError, if set, will be returned by Send.
	SendError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSink creates a FakeSink for testing.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Send records the message.
func (f *FakeSink) Send(messageType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Messages = append(f.Messages, SentMessage{Type: messageType, Payload: append([]byte(nil), payload...)})
	return nil
}

// Sent returns a copy of the recorded messages.
func (f *FakeSink) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.Messages...)
}

// SetSendError changes the error returned by Send.
func (f *FakeSink) SetSendError(err error) {
	f.mu.Lock()
	f.SendError = err
	f.mu.Unlock()
}

// Close marks the sink as closed.
func (f *FakeSink) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears all recorded state.
func (f *FakeSink) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.SendError = nil
	f.Closed = false
}
