package comm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Overflow is what a full frame queue does with the next frame.
type Overflow string

const (
	OverflowBlock      Overflow = "block"
	OverflowDropOldest Overflow = "drop-oldest"
	OverflowDropNewest Overflow = "drop-newest"
)

// dispatcher hands frames from the read loop to the consumer. With no queue
// the consumer runs inline on the read loop and a slow consumer slows reads.
type dispatcher struct {
	fn     FrameFunc
	active func() bool
	policy Overflow
	logger *slog.Logger

	queue   chan string
	done    chan struct{}
	dropped atomic.Uint64
}

func newDispatcher(fn FrameFunc, size int, policy Overflow, active func() bool, logger *slog.Logger) *dispatcher {
	d := &dispatcher{fn: fn, active: active, policy: policy, logger: logger}
	if fn != nil && size > 0 {
		d.queue = make(chan string, size)
		d.done = make(chan struct{})
		go d.run()
	}
	return d
}

// deliver must only be called from the read loop goroutine.
func (d *dispatcher) deliver(ctx context.Context, frame string) {
	if d.fn == nil || !d.active() {
		return
	}
	if d.queue == nil {
		d.fn(frame)
		return
	}

	switch d.policy {
	case OverflowDropNewest:
		select {
		case d.queue <- frame:
		default:
			d.drop(frame)
		}
	case OverflowDropOldest:
		for {
			select {
			case d.queue <- frame:
				return
			default:
			}
			select {
			case old := <-d.queue:
				d.drop(old)
			default:
			}
		}
	default:
		select {
		case d.queue <- frame:
		case <-ctx.Done():
		}
	}
}

func (d *dispatcher) drop(frame string) {
	n := d.dropped.Add(1)
	d.logger.Debug("frame queue full, dropping frame", "policy", string(d.policy), "dropped", n, "bytes", len(frame))
}

func (d *dispatcher) run() {
	defer close(d.done)
	for frame := range d.queue {
		// Once stopped the rest of the queue is thrown away.
		if d.active() {
			d.fn(frame)
		}
	}
}

// close waits until every queued frame was delivered or discarded.
func (d *dispatcher) close() {
	if d.queue == nil {
		return
	}
	close(d.queue)
	<-d.done
}
