package mqtt

import "sync"

// message is one inbound publish waiting for Poll.
type message struct {
	topic   string
	payload []byte
}

// inbox is a fixed-capacity FIFO filled by the client library's network
// goroutine and drained by Poll. When full the oldest message is dropped.
type inbox struct {
	mu       sync.Mutex
	buf      []message
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages overwritten since the last drain
}

func newInbox(capacity int) *inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &inbox{
		buf:      make([]message, capacity),
		capacity: capacity,
	}
}

// push appends msg and reports whether an older message was dropped to make room.
func (r *inbox) push(msg message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.capacity {
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		r.dropped++
		return true
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return false
}

// drainAll returns buffered messages oldest first, plus the number dropped
// since the previous drain, and empties the buffer.
func (r *inbox) drainAll() ([]message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := r.dropped
	r.dropped = 0
	if r.count == 0 {
		return nil, dropped
	}

	result := make([]message, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	return result, dropped
}

func (r *inbox) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
