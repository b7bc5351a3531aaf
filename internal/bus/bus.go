package bus

import "errors"

// Errors returned by publishers.
var (
	ErrNotConnected = errors.New("bus: not connected")
	ErrClosed       = errors.New("bus: closed")
)

// Publisher sends envelopes to whoever is listening. Publish never waits on
// a consumer; with nobody subscribed the envelope is lost. Envelopes from one
// publisher reach a given subscriber in publish order.
type Publisher interface {
	Publish(env Envelope) error
	Close() error
}

// Subscriber delivers envelopes to a handler, one at a time and in order.
type Subscriber interface {
	Subscribe(handler func(Envelope)) error
	Close() error
}

// ConnectionStatus reports whether a networked publisher is connected.
type ConnectionStatus interface {
	IsConnected() bool
}
