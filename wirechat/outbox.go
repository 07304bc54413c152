package wirechat

import "sync"

// outbox is the unbounded frame queue drained by the write loop. Pushing
// never blocks so joins and sends stay non-blocking for callers.
type outbox struct {
	mu     sync.Mutex
	frames []Inbound
	wake   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(in Inbound) {
	o.mu.Lock()
	o.frames = append(o.frames, in)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []Inbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	return frames
}

// reset empties the queue and returns what was dropped.
func (o *outbox) reset() []Inbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	return frames
}

// retain keeps only the queued frames for which keep is true.
func (o *outbox) retain(keep func(Inbound) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.frames[:0]
	for _, in := range o.frames {
		if keep(in) {
			kept = append(kept, in)
		}
	}
	clear(o.frames[len(kept):])
	o.frames = kept
}

// signal wakes the write loop without queueing anything.
func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}
