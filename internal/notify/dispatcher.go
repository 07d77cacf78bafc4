package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
)

const (
	defaultBuffer       = 256
	defaultSinkDeadline = 5 * time.Second
)

// Dispatcher queues notifications and hands them to every sink from a single
// worker goroutine. A full queue drops the notification and logs a warning.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	queue  chan Notification

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64

	wg conc.WaitGroup
}

func NewDispatcher(buffer int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan Notification, buffer),
	}
	d.wg.Go(d.run)
	return d
}

func (d *Dispatcher) Notify(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Notification dropped, queue full", "type", n.Type, "task_id", n.TaskID)
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
func (d *Dispatcher) Failed() int64  { return d.failed.Load() }

func (d *Dispatcher) run() {
	for n := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), defaultSinkDeadline)
			err := sink.Deliver(ctx, n)
			cancel()
			if err != nil {
				d.failed.Add(1)
				d.logger.Warn("Notification delivery failed", "sink", sink.Name(), "type", n.Type, "task_id", n.TaskID, "error", err)
			}
		}
	}
}
