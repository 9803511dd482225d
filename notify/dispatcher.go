package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink delivers one alert to an external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Notifier accepts alerts without blocking. It reports false when the alert
// was dropped.
type Notifier interface {
	Notify(a Alert) bool
}

const sendTimeout = 30 * time.Second

// Dispatcher queues alerts and fans them out to its sinks from a single
// worker. A full queue drops the alert with a warning.
type Dispatcher struct {
	sinks  []Sink
	queue  chan Alert
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger *zap.Logger, size int, sinks ...Sink) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan Alert, size),
		logger: logger,
	}
}

func (d *Dispatcher) Notify(a Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Alert dropped: dispatcher closed", zap.String("kind", string(a.Kind)))
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		d.logger.Warn("Alert dropped: queue full", zap.String("kind", string(a.Kind)), zap.Int("capacity", cap(d.queue)))
		return false
	}
}

// Run delivers queued alerts until Close is called and the queue is drained.
func (d *Dispatcher) Run(ctx context.Context) {
	for a := range d.queue {
		d.deliver(ctx, a)
	}
}

// Close stops accepting alerts. Run returns once the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(sendCtx, a)
		cancel()
		if err != nil {
			d.logger.Error("Failed to deliver alert",
				zap.String("sink", sink.Name()),
				zap.String("kind", string(a.Kind)),
				zap.Error(err),
			)
		}
	}
}
