package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueDepth is the per-subscriber queue length of a Memory bus.
const DefaultQueueDepth = 256

// Memory is an in-process bus. Every subscriber has its own bounded queue
// drained by a dedicated goroutine; when a queue is full the envelope is
// dropped for that subscriber. Subscribers only see envelopes published
// after they subscribed.
type Memory struct {
	depth int

	mu     sync.RWMutex
	queues []chan Envelope
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// NewMemory creates an in-process bus. depth <= 0 selects DefaultQueueDepth.
func NewMemory(depth int) *Memory {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Memory{depth: depth}
}

// Publish implements Publisher.
func (m *Memory) Publish(env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, q := range m.queues {
		select {
		case q <- env:
		default:
			m.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(handler func(Envelope)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	q := make(chan Envelope, m.depth)
	m.queues = append(m.queues, q)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for env := range q {
			handler(env)
		}
	}()
	return nil
}

// Dropped returns how many deliveries were lost to full queues.
func (m *Memory) Dropped() uint64 {
	return m.dropped.Load()
}

// IsConnected implements ConnectionStatus; an open Memory bus is always connected.
func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Close stops accepting envelopes and waits for subscribers to finish
// handling what is already queued. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		close(q)
	}
	m.queues = nil
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
