package dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
)

type sentCall struct {
	method string
	to     string
	body   string
	in     model.Interactive
}

// fakeProvider records calls and fails when err is set.
type fakeProvider struct {
	name        string
	interactive bool
	err         error

	mu    sync.Mutex
	calls []sentCall
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{Interactive: f.interactive, Template: true}
}

func (f *fakeProvider) record(c sentCall) (provider.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return provider.Receipt{}, f.err
	}
	return provider.Receipt{MessageID: f.name + "-msg"}, nil
}

func (f *fakeProvider) SendText(_ context.Context, to, body string) (provider.Receipt, error) {
	return f.record(sentCall{method: "text", to: to, body: body})
}

func (f *fakeProvider) SendTemplate(_ context.Context, to, name string, _ []string) (provider.Receipt, error) {
	return f.record(sentCall{method: "template", to: to, body: name})
}

func (f *fakeProvider) SendInteractive(_ context.Context, to string, in model.Interactive) (provider.Receipt, error) {
	return f.record(sentCall{method: "interactive", to: to, in: in})
}

func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

type memMessages struct {
	mu   sync.Mutex
	rows []model.Message
	err  error
}

func (m *memMessages) InsertMessage(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, msg)
	return nil
}

func (m *memMessages) Rows() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Message(nil), m.rows...)
}

type fakeCap struct {
	used  map[string]int64
	err   error
	calls int
}

func (c *fakeCap) Take(_ context.Context, name string, limit int64) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	if c.used == nil {
		c.used = map[string]int64{}
	}
	c.used[name]++
	return c.used[name] <= limit, nil
}

var errBoom = errors.New("boom")

func mustRegistry(provs ...provider.Provider) *Registry {
	r, err := NewRegistry(provs...)
	if err != nil {
		panic(err)
	}
	return r
}
