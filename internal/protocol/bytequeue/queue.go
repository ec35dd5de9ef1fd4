package bytequeue

import (
	"context"
	"errors"
	"sync"
)

var ErrEndOfStream = errors.New("bytequeue: end of stream")

// Queue hands inbound bytes to a consumer in arrival order.
// Bytes that arrive before anyone asks are buffered; requests made before a
// byte arrives wait in FIFO order and are resolved one byte each.
type Queue struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	waiters []chan byte
	closed  bool
}

func New() *Queue {
	return &Queue{}
}

// Push delivers b to the oldest waiter, or buffers it when nobody waits.
func (q *Queue) Push(b byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(b)
}

// PushBytes pushes every byte of p in order under one lock.
func (q *Queue) PushBytes(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range p {
		q.pushLocked(b)
	}
}

func (q *Queue) pushLocked(b byte) {
	if q.closed {
		return
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
		w <- b
		return
	}
	q.buf = append(q.buf, b)
}

// Next returns the next byte, blocking until one is pushed.
// A closed queue drains its buffer first, then returns ErrEndOfStream.
func (q *Queue) Next(ctx context.Context) (byte, error) {
	q.mu.Lock()
	if b, ok := q.popLocked(); ok {
		q.mu.Unlock()
		return b, nil
	}
	if q.closed {
		q.mu.Unlock()
		return 0, ErrEndOfStream
	}
	w := make(chan byte, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case b, ok := <-w:
		if !ok {
			return 0, ErrEndOfStream
		}
		return b, nil
	case <-ctx.Done():
		q.mu.Lock()
		removed := q.removeWaiterLocked(w)
		q.mu.Unlock()
		if removed {
			return 0, ctx.Err()
		}
		// handed a byte (or closed) before we could withdraw
		b, ok := <-w
		if !ok {
			return 0, ErrEndOfStream
		}
		return b, nil
	}
}

// Fill reads exactly len(dst) bytes into dst.
func (q *Queue) Fill(ctx context.Context, dst []byte) error {
	for i := range dst {
		b, err := q.Next(ctx)
		if err != nil {
			return err
		}
		dst[i] = b
	}
	return nil
}

// Close ends the stream. Waiters resolve with ErrEndOfStream; buffered
// bytes remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// Len reports buffered, unread bytes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}

// Waiting reports consumers blocked in Next.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

func (q *Queue) popLocked() (byte, bool) {
	if q.head >= len(q.buf) {
		return 0, false
	}
	b := q.buf[q.head]
	q.head++
	if q.head == len(q.buf) {
		q.buf = q.buf[:0]
		q.head = 0
	} else if q.head >= 4096 && q.head*2 >= len(q.buf) {
		n := copy(q.buf, q.buf[q.head:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return b, true
}

func (q *Queue) removeWaiterLocked(w chan byte) bool {
	for i, cur := range q.waiters {
		if cur == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
