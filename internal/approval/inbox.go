package approval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InboundEvent is one raw webhook body waiting to be processed.
type InboundEvent struct {
	Provider string
	Body     []byte
}

// Handler consumes inbound events. A non-nil error means the event was not
// applied and may be retried.
type Handler interface {
	Handle(ctx context.Context, provider string, body []byte) error
}

// Inbox is a bounded queue drained by a fixed number of workers.
type Inbox struct {
	ch      chan InboundEvent
	handler Handler
	workers int
	log     *zap.Logger

	HandleTimeout time.Duration // per-event budget, independent of Run's ctx
	DrainTimeout  time.Duration // how long to keep draining after Run's ctx ends
	Retries       int           // extra attempts for an event whose handler failed
	RetryPause    time.Duration
}

func NewInbox(size, workers int, h Handler, log *zap.Logger) *Inbox {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{
		ch:            make(chan InboundEvent, size),
		handler:       h,
		workers:       workers,
		log:           log,
		HandleTimeout: 10 * time.Second,
		DrainTimeout:  10 * time.Second,
		Retries:       3,
		RetryPause:    250 * time.Millisecond,
	}
}

// Offer enqueues without blocking. false means the queue is full and the
// sender should redeliver later.
func (i *Inbox) Offer(ev InboundEvent) bool {
	select {
	case i.ch <- ev:
		return true
	default:
		return false
	}
}

func (i *Inbox) Len() int { return len(i.ch) }

// Run starts the workers and blocks until ctx is cancelled and the queue is
// drained. Events still queued after DrainTimeout are logged and dropped.
// Stop whatever calls Offer before cancelling ctx.
func (i *Inbox) Run(ctx context.Context) error {
	base := context.WithoutCancel(ctx)

	var (
		wg       sync.WaitGroup
		drainMu  sync.Mutex
		deadline <-chan time.Time
	)
	drainDeadline := func() <-chan time.Time {
		drainMu.Lock()
		defer drainMu.Unlock()
		if deadline == nil {
			deadline = time.After(i.DrainTimeout)
		}
		return deadline
	}

	for n := 0; n < i.workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case ev := <-i.ch:
					i.handle(base, ev)
					continue
				case <-ctx.Done():
				}

				// draining
				select {
				case ev := <-i.ch:
					i.handle(base, ev)
				case <-drainDeadline():
					return
				default:
					return
				}
			}
		}()
	}

	i.log.Info("inbox started", zap.Int("workers", i.workers), zap.Int("capacity", cap(i.ch)))
	<-ctx.Done()
	wg.Wait()
	if left := len(i.ch); left > 0 {
		i.log.Error("inbox stopped with events queued", zap.Int("left", left))
	}
	return nil
}

func (i *Inbox) handle(base context.Context, ev InboundEvent) {
	for attempt := 0; ; attempt++ {
		hctx, cancel := context.WithTimeout(base, i.HandleTimeout)
		err := i.handler.Handle(hctx, ev.Provider, ev.Body)
		cancel()
		if err == nil {
			return
		}
		if attempt >= i.Retries {
			i.log.Error("inbound event dropped after retries",
				zap.String("provider", ev.Provider),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}
		i.log.Warn("inbound event failed, retrying",
			zap.String("provider", ev.Provider),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		time.Sleep(i.RetryPause)
	}
}
