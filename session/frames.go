package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxFrameBuffer guards against accidental misconfiguration of the frame queue.
const MaxFrameBuffer uint32 = 64 * 1024

// Frame is one notification value as delivered by the peripheral.
type Frame struct {
	Seq  uint64
	At   time.Time
	Data []byte
}

// FrameQueueMetrics provides lock-free counters for a FrameQueue.
type FrameQueueMetrics struct {
	Received    int64
	Overwritten int64
	Errors      int64
}

// FrameQueue decouples the platform notification callback from frame
// consumers. When consumers fall behind the oldest frames are overwritten.
//
// Push is safe to call from any goroutine.
type FrameQueue struct {
	buffer mpmc.RichOverlappedRingBuffer[Frame]
	ready  chan struct{}
	seq    atomic.Uint64

	received    atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewFrameQueue creates a queue holding up to size frames.
func NewFrameQueue(size uint32) (*FrameQueue, error) {
	if size == 0 {
		return nil, fmt.Errorf("frame buffer size must be > 0")
	}
	if size > MaxFrameBuffer {
		return nil, fmt.Errorf("frame buffer size %d exceeds maximum %d", size, MaxFrameBuffer)
	}
	return &FrameQueue{
		buffer: mpmc.NewOverlappedRingBuffer[Frame](size),
		ready:  make(chan struct{}, 1),
	}, nil
}

// Push copies data into a new frame and signals Ready.
func (q *FrameQueue) Push(data []byte) error {
	frame := Frame{
		Seq:  q.seq.Add(1),
		At:   time.Now(),
		Data: append([]byte(nil), data...),
	}
	overwrites, err := q.buffer.EnqueueM(frame)
	if err != nil {
		q.errors.Add(1)
		return fmt.Errorf("frame enqueue failed: %w", err)
	}
	q.overwritten.Add(int64(overwrites))
	q.received.Add(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready fires after at least one Push since the last receive.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain hands every queued frame to fn in arrival order. It stops at the
// first error returned by fn.
func (q *FrameQueue) Drain(fn func(Frame) error) (int, error) {
	n := 0
	for !q.buffer.IsEmpty() {
		frame, err := q.buffer.Dequeue()
		if err != nil {
			q.errors.Add(1)
			return n, fmt.Errorf("frame dequeue failed: %w", err)
		}
		n++
		if err := fn(frame); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Metrics returns a snapshot of the counters.
func (q *FrameQueue) Metrics() FrameQueueMetrics {
	return FrameQueueMetrics{
		Received:    q.received.Load(),
		Overwritten: q.overwritten.Load(),
		Errors:      q.errors.Load(),
	}
}
