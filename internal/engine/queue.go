package engine

import (
	"sync"

	"github.com/roach88/rollcall/internal/recognize"
)

// CaptureOutcome is the result of a submitted capture event.
type CaptureOutcome struct {
	Result *CaptureResult
	Err    error
}

// captureRequest is one frame waiting in the queue together with the
// channel its outcome is delivered on.
type captureRequest struct {
	frame recognize.Frame
	done  chan CaptureOutcome
}

// captureQueue is a thread-safe FIFO queue of capture requests.
//
// Producers (camera loops, stdin readers) enqueue from any goroutine while
// the Engine's Run loop dequeues. The queue uses a channel for signaling to
// enable context-aware waiting in the Run loop.
type captureQueue struct {
	mu       sync.Mutex
	requests []captureRequest
	closed   bool
	signal   chan struct{} // Signals request availability (buffered, size 1)
}

func newCaptureQueue() *captureQueue {
	return &captureQueue{
		requests: make([]captureRequest, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *captureQueue) Enqueue(r captureRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front request without blocking.
// Returns (captureRequest{}, false) if the queue is empty.
func (q *captureQueue) TryDequeue() (captureRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return captureRequest{}, false
	}

	r := q.requests[0]

	// Release the frame for GC; the backing array outlives the slice head.
	q.requests[0] = captureRequest{}

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed when the queue is closed.
func (q *captureQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *captureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Close signals that no more requests will be enqueued and returns the
// requests still waiting, so the caller can fail them.
func (q *captureQueue) Close() []captureRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.signal)

	pending := q.requests
	q.requests = nil
	return pending
}
