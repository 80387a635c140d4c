package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/repository"
)

var (
	errBoom = errors.New("boom")
	t0      = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

type sentText struct {
	To   string
	Body string
	Opts dispatcher.SendOptions
}

type sentInteractive struct {
	To   string
	Msg  model.Interactive
	Opts dispatcher.SendOptions
}

// fakeSender records sends; recipients in fail get ErrSendFailed.
type fakeSender struct {
	mu          sync.Mutex
	fail        map[string]bool
	texts       []sentText
	interactive []sentInteractive
	noRoute     bool
}

func newFakeSender(fail ...string) *fakeSender {
	s := &fakeSender{fail: make(map[string]bool)}
	for _, f := range fail {
		s.fail[f] = true
	}
	return s
}

func (s *fakeSender) Send(_ context.Context, to, body string, opts dispatcher.SendOptions) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return model.Message{}, &dispatcher.SendError{Provider: "fake", Cause: errBoom}
	}
	s.texts = append(s.texts, sentText{To: to, Body: body, Opts: opts})
	return model.Message{Recipient: to, Kind: model.KindText, Content: body, Status: model.StatusSent}, nil
}

func (s *fakeSender) SendInteractive(_ context.Context, to string, in model.Interactive, opts dispatcher.SendOptions) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return model.Message{}, &dispatcher.SendError{Provider: "fake", Cause: errBoom}
	}
	s.interactive = append(s.interactive, sentInteractive{To: to, Msg: in, Opts: opts})
	return model.Message{Recipient: to, Kind: model.KindInteractive, Status: model.StatusSent}, nil
}

func (s *fakeSender) CanRoute(model.Priority) error {
	if s.noRoute {
		return dispatcher.ErrNoProviderConfigured
	}
	return nil
}

func (s *fakeSender) Texts() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentText(nil), s.texts...)
}

func (s *fakeSender) Interactive() []sentInteractive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentInteractive(nil), s.interactive...)
}

type event struct {
	Topic   string
	Key     string
	Payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	p.events = append(p.events, event{topic, key, payload})
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Topic(topic string) []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// countingEffect counts executor calls and returns err.
type countingEffect struct {
	mu    sync.Mutex
	calls []model.Action
	err   error
}

func (c *countingEffect) Exec(_ context.Context, _ model.Workflow, a model.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, a)
	return c.err
}

func (c *countingEffect) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// flakyStore fails reads while down is set, like a store during an outage.
type flakyStore struct {
	*repository.MemoryWorkflows
	down atomic.Bool
}

func (s *flakyStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	if s.down.Load() {
		return nil, errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
	}
	return s.MemoryWorkflows.GetWorkflow(ctx, id)
}
