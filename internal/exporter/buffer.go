package exporter

// pending is a formatted record waiting for the cloud connection.
type pending struct {
	topic   string
	payload []byte
}

// ringBuffer is a fixed-capacity FIFO that holds records while disconnected.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []pending
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if anything was dropped since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]pending, capacity),
		capacity: capacity,
	}
}

// push appends msg, overwriting the oldest entry when full. It reports true
// the first time an entry is dropped after a drain.
func (r *ringBuffer) push(msg pending) (firstDrop bool) {
	if r.count == r.capacity {
		firstDrop = !r.overflow
		r.overflow = true
		// head already points at the oldest entry
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return firstDrop
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return false
}

// drainAll returns every entry, oldest first, and empties the buffer.
func (r *ringBuffer) drainAll() []pending {
	if r.count == 0 {
		return nil
	}

	out := make([]pending, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
