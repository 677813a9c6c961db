package engine

import (
	"bytes"
	"sync"
)

// outputBudget is the byte allowance shared by stdout and stderr. Whichever
// stream writes first consumes it first.
type outputBudget struct {
	mu        sync.Mutex
	remaining int64
	overflow  func()
	exceeded  bool
}

func newOutputBudget(limit int64, overflow func()) *outputBudget {
	return &outputBudget{remaining: limit, overflow: overflow}
}

// take reserves up to n bytes and returns how many were granted.
func (o *outputBudget) take(n int64) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	granted := n
	if granted > o.remaining {
		granted = o.remaining
	}
	o.remaining -= granted
	if granted < n && !o.exceeded {
		o.exceeded = true
		if o.overflow != nil {
			o.overflow()
		}
	}
	return granted
}

// boundedBuffer keeps the bytes its budget grants and silently discards
// the rest, so the writer never blocks on a full pipe.
type boundedBuffer struct {
	budget    *outputBudget
	buf       bytes.Buffer
	truncated bool
}

func newBoundedBuffer(budget *outputBudget) *boundedBuffer {
	return &boundedBuffer{budget: budget}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	granted := b.budget.take(int64(len(p)))
	if granted > 0 {
		b.buf.Write(p[:granted])
	}
	if granted < int64(len(p)) {
		b.truncated = true
	}
	return len(p), nil
}

// overflowSignal is closed the first time the budget overflows.
type overflowSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newOverflowSignal() *overflowSignal {
	return &overflowSignal{ch: make(chan struct{})}
}

func (s *overflowSignal) fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *overflowSignal) done() <-chan struct{} {
	return s.ch
}

func (s *overflowSignal) fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
