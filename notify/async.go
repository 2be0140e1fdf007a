package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
)

const deliveryTimeout = 5 * time.Second

type job struct {
	investorID uint
	kind       Kind
	payload    Payload
}

// Async queues notifications for a background worker so Notify never blocks
// the caller. When the queue is full the event is dropped with a warning.
type Async struct {
	next  Dispatcher
	log   *zap.Logger
	queue chan job

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

func NewAsync(next Dispatcher, buffer int, log *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	log = logger.OrNop(log)
	a := &Async{
		next:  next,
		log:   log,
		queue: make(chan job, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, investorID uint, kind Kind, payload Payload) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.log.Warn("notification dropped after close", zap.Uint("investor_id", investorID), zap.String("kind", string(kind)))
		return nil
	}
	select {
	case a.queue <- job{investorID: investorID, kind: kind, payload: payload}:
	default:
		a.log.Warn("notification queue full, dropping", zap.Uint("investor_id", investorID), zap.String("kind", string(kind)))
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for j := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := a.next.Notify(ctx, j.investorID, j.kind, j.payload); err != nil {
			a.log.Warn("notification delivery failed",
				zap.Uint("investor_id", j.investorID),
				zap.String("kind", string(j.kind)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
