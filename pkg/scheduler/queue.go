package scheduler

import (
	"sync"

	"github.com/blockstream/satellite-relay/pkg/wire"
)

// Priority indexes a Group's four transmit queues: the writer always
// prefers a lower-numbered priority over a higher one when both are
// non-empty.
type Priority int

const (
	// PriorityReaderHigh carries control traffic the reader thread
	// produces (SYN replies, keepalives).
	PriorityReaderHigh Priority = iota
	// PriorityReaderLow carries the reader thread's lower-urgency
	// control traffic (ping/pong).
	PriorityReaderLow
	// PriorityTxRelay carries mempool transaction relay chunks.
	PriorityTxRelay
	// PriorityInterleave carries the interleaver's block chunks.
	PriorityInterleave
	numPriorities
)

// Outbound is one not-yet-marshaled message waiting on a transmit
// queue.
type Outbound struct {
	MsgType wire.MsgType
	Chunk   wire.ChunkPayload
	Raw     []byte // non-nil for non-chunk-bearing message types
}

// Queue is a bounded single-producer/single-consumer ring buffer of
// outbound messages. Producers block on a full queue until space frees
// up or Abort is called; Abort is the shutdown step that releases any
// blocked producer.
type Queue struct {
	mu      sync.Mutex
	notFull *sync.Cond
	buf     []Outbound
	cap     int
	aborted bool
	onPush  func()
}

func newQueue(capacity int, onPush func()) *Queue {
	q := &Queue{buf: make([]Outbound, 0, capacity), cap: capacity, onPush: onPush}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// PushBlocking enqueues o, blocking while the queue is at capacity.
// Returns false if Abort was called before space freed up.
func (q *Queue) PushBlocking(o Outbound) bool {
	q.mu.Lock()
	for len(q.buf) >= q.cap && !q.aborted {
		q.notFull.Wait()
	}
	if q.aborted {
		q.mu.Unlock()
		return false
	}
	q.buf = append(q.buf, o)
	q.mu.Unlock()
	if q.onPush != nil {
		q.onPush()
	}
	return true
}

// Peek returns the oldest message without removing it.
func (q *Queue) Peek() (Outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Outbound{}, false
	}
	return q.buf[0], true
}

// Drop removes the oldest message, called once the writer has
// successfully handed it to the socket.
func (q *Queue) Drop() {
	q.mu.Lock()
	if len(q.buf) > 0 {
		q.buf = q.buf[1:]
	}
	q.mu.Unlock()
	q.notFull.Broadcast()
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Abort releases any producer blocked in PushBlocking and marks the
// queue so future pushes fail immediately.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
	q.notFull.Broadcast()
}
