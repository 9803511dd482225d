package watch

import (
	"context"
	"sync"

	"stockcart-backend/ledger"

	"go.uber.org/zap"
)

// Observer receives committed stock transitions.
type Observer interface {
	Observe(ctx context.Context, transitions []ledger.Transition)
}

// Queue hands committed transitions to an Observer from a single worker, so
// suppression store round trips stay off the request path. Transitions are
// delivered in commit order. A full queue drops the batch with a warning.
type Queue struct {
	next   Observer
	queue  chan []ledger.Transition
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewQueue(next Observer, size int, logger *zap.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		next:   next,
		queue:  make(chan []ledger.Transition, size),
		logger: logger,
	}
}

// Observe enqueues transitions without blocking. The request context is not
// carried over; delivery runs under the context given to Run.
func (q *Queue) Observe(_ context.Context, transitions []ledger.Transition) {
	if len(transitions) == 0 {
		return
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("Stock transitions dropped: watch queue closed", zap.Int("products", len(transitions)))
		return
	}
	select {
	case q.queue <- transitions:
	default:
		q.logger.Warn("Stock transitions dropped: watch queue full",
			zap.Int("products", len(transitions)),
			zap.Int("capacity", cap(q.queue)),
		)
	}
}

// Run delivers queued transitions until Close is called and the queue is drained.
func (q *Queue) Run(ctx context.Context) {
	for transitions := range q.queue {
		q.next.Observe(ctx, transitions)
	}
}

// Close stops accepting transitions. Run returns once the queued ones are delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.queue)
	}
}
