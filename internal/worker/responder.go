package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/kafka"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"go.uber.org/zap"
)

// Source is the part of kafka.Consumer the responder uses.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Responder:
//   - fetches webhook envelopes from Kafka,
//   - routes each partition to one worker so offsets commit in order,
//   - hands each raw body to the response processor,
//   - commits after processing (at-least-once; the workflow CAS absorbs
//     redeliveries). A processor error is retried with back-off and the
//     offset stays uncommitted until it succeeds.
type Responder struct {
	Source    Source
	Processor approval.Handler
	Log       *zap.Logger

	Workers    int           // number of goroutines processing messages
	FetchPause time.Duration // back-off after a fetch error
	RetryMin   time.Duration // first back-off after a processor error
	RetryMax   time.Duration
}

func NewResponder(src Source, proc approval.Handler, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Responder{
		Source:     src,
		Processor:  proc,
		Log:        log,
		Workers:    8,
		FetchPause: 200 * time.Millisecond,
		RetryMin:   500 * time.Millisecond,
		RetryMax:   30 * time.Second,
	}
}

// Run starts the worker and blocks until ctx is cancelled and in-flight
// messages are done.
func (w *Responder) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	lanes := make([]chan kafka.Message, w.Workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 2)
	}

	// fetcher
	go func() {
		defer func() {
			for _, ch := range lanes {
				close(ch)
			}
		}()
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.FetchPause):
				}
				continue
			}
			select {
			case lanes[lane(m.Partition, w.Workers)] <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func(msgCh <-chan kafka.Message) {
			defer wg.Done()
			for m := range msgCh {
				if ctx.Err() != nil {
					continue // left uncommitted for redelivery
				}
				w.processOne(ctx, m)
			}
		}(lanes[i])
	}

	w.Log.Info("responder started", zap.Int("workers", w.Workers))
	wg.Wait()
	return nil
}

func lane(partition, n int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % n
}

func (w *Responder) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.Provider == "" || len(env.Payload) == 0 {
		// poison: commit and skip
		metrics.WebhookEventsTotal.WithLabelValues("dropped").Inc()
		w.Log.Warn("bad webhook envelope",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		w.commit(ctx, m)
		return
	}

	backoff := max(w.RetryMin, time.Millisecond)
	for {
		err := w.Processor.Handle(ctx, env.Provider, env.Payload)
		if err == nil {
			break
		}
		w.Log.Warn("webhook processing failed, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if w.RetryMax > 0 && backoff > w.RetryMax {
			backoff = w.RetryMax
		}
	}
	w.commit(ctx, m)
}
func (w *Responder) commit(ctx context.Context, m kafka.Message) {
	if err := w.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
		w.Log.Error("kafka commit failed",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
}
