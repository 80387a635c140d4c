package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Send(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	store := &memMessages{}
	d := New(mustRegistry(primary), RoutingConfig{Default: "primary"}, store)

	msg, err := d.Send(context.Background(), "+1555", "hello", SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "primary", msg.Provider)
	assert.Equal(t, model.KindText, msg.Kind)
	require.NotNil(t, msg.ProviderMessageID)
	assert.Equal(t, "primary-msg", *msg.ProviderMessageID)
	assert.NotNil(t, msg.SentAt)
	assert.Len(t, store.Rows(), 1)
}

func TestDispatcher_FallbackOnFailure(t *testing.T) {
	broken := &fakeProvider{name: "broken", err: errBoom}
	backup := &fakeProvider{name: "backup"}
	store := &memMessages{}
	d := New(mustRegistry(broken, backup), RoutingConfig{Default: "broken", Fallback: "backup"}, store)

	msg, err := d.Send(context.Background(), "+1555", "hello", SendOptions{WorkflowID: "wf1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "backup", msg.Provider)

	rows := store.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "broken", rows[0].Provider)
	assert.Equal(t, model.StatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].Error)
	assert.Contains(t, *rows[0].Error, "boom")
	assert.Equal(t, "backup", rows[1].Provider)
	assert.Equal(t, model.StatusSent, rows[1].Status)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
	for _, r := range rows {
		require.NotNil(t, r.WorkflowID)
		assert.Equal(t, "wf1", *r.WorkflowID)
	}
}

func TestDispatcher_BothFail(t *testing.T) {
	a := &fakeProvider{name: "a", err: errBoom}
	b := &fakeProvider{name: "b", err: errors.New("also down")}
	store := &memMessages{}
	d := New(mustRegistry(a, b), RoutingConfig{Default: "a", Fallback: "b"}, store)

	msg, err := d.Send(context.Background(), "+1", "x", SendOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.Provider)
	assert.ErrorIs(t, err, errBoom, "primary cause is kept")
	assert.ErrorContains(t, err, "primary a: boom")
	assert.ErrorContains(t, err, "fallback b: also down")
	assert.Equal(t, "b", msg.Provider)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Len(t, store.Rows(), 2)
}

func TestDispatcher_NoFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  RoutingConfig
		opts SendOptions
	}{
		{"fallback disabled", RoutingConfig{Default: "a", Fallback: "b"}, SendOptions{DisableFallback: true}},
		{"fallback same as primary", RoutingConfig{Default: "a", Fallback: "a"}, SendOptions{}},
		{"fallback not configured", RoutingConfig{Default: "a"}, SendOptions{}},
		{"fallback not registered", RoutingConfig{Default: "a", Fallback: "ghost"}, SendOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeProvider{name: "a", err: errBoom}
			b := &fakeProvider{name: "b"}
			store := &memMessages{}
			d := New(mustRegistry(a, b), tt.cfg, store)

			_, err := d.Send(context.Background(), "+1", "x", tt.opts)
			assert.ErrorIs(t, err, ErrSendFailed)
			assert.ErrorIs(t, err, errBoom)
			assert.Len(t, store.Rows(), 1)
			assert.Empty(t, b.Calls())
		})
	}
}

func TestDispatcher_NoProviderConfigured(t *testing.T) {
	store := &memMessages{}
	d := New(mustRegistry(), RoutingConfig{Default: "x"}, store)

	_, err := d.Send(context.Background(), "+1", "x", SendOptions{})
	assert.ErrorIs(t, err, ErrNoProviderConfigured)
	assert.Empty(t, store.Rows())
}

func TestDispatcher_CanRoute(t *testing.T) {
	d := New(mustRegistry(&fakeProvider{name: "bulk"}), RoutingConfig{
		Default:    "ghost",
		Bulk:       "bulk",
		UseBulkFor: []model.Priority{model.PriorityLow},
	}, nil)

	assert.NoError(t, d.CanRoute(model.PriorityLow))
	assert.ErrorIs(t, d.CanRoute(model.PriorityHigh), ErrNoProviderConfigured)

	d.Reconfigure(RoutingConfig{Default: "bulk"})
	assert.NoError(t, d.CanRoute(model.PriorityHigh))
}

func TestDispatcher_SendInteractive_Degrades(t *testing.T) {
	textOnly := &fakeProvider{name: "sms"}
	d := New(mustRegistry(textOnly), RoutingConfig{Default: "sms"}, &memMessages{})

	in := model.Interactive{
		Title: "Approve?",
		Body:  "SO-1",
		Buttons: []model.Button{
			{ID: "wf:approve", Title: "Approve"},
			{ID: "wf:reject", Title: "Reject"},
		},
	}
	msg, err := d.SendInteractive(context.Background(), "+1", in, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.KindText, msg.Kind)

	calls := textOnly.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "text", calls[0].method)
	assert.Equal(t, RenderInteractiveText(in), calls[0].body)
	assert.Contains(t, calls[0].body, "1. Approve [wf:approve]")
	assert.Contains(t, calls[0].body, "2. Reject [wf:reject]")
}

func TestDispatcher_SendInteractive_Native(t *testing.T) {
	rich := &fakeProvider{name: "cloud", interactive: true}
	d := New(mustRegistry(rich), RoutingConfig{Default: "cloud"}, &memMessages{})

	in := model.Interactive{Body: "b", Buttons: []model.Button{{ID: "x:approve", Title: "OK"}}}
	msg, err := d.SendInteractive(context.Background(), "+1", in, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.KindInteractive, msg.Kind)

	calls := rich.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "interactive", calls[0].method)
	assert.Equal(t, in, calls[0].in)
}

func TestDispatcher_InteractiveFallbackToTextOnly(t *testing.T) {
	rich := &fakeProvider{name: "cloud", interactive: true, err: errBoom}
	sms := &fakeProvider{name: "sms"}
	store := &memMessages{}
	d := New(mustRegistry(rich, sms), RoutingConfig{Default: "cloud", Fallback: "sms"}, store)

	in := model.Interactive{Body: "b", Buttons: []model.Button{{ID: "x:approve", Title: "OK"}}}
	msg, err := d.SendInteractive(context.Background(), "+1", in, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sms", msg.Provider)
	assert.Equal(t, model.KindText, msg.Kind)

	rows := store.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, model.KindInteractive, rows[0].Kind)
	assert.Equal(t, model.KindText, rows[1].Kind)
}

func TestDispatcher_DailyCap(t *testing.T) {
	cheap := &fakeProvider{name: "cheap"}
	backup := &fakeProvider{name: "backup"}
	caps := &fakeCap{}
	store := &memMessages{}
	d := New(mustRegistry(cheap, backup), RoutingConfig{
		Default:   "cheap",
		Fallback:  "backup",
		DailyCaps: map[string]int64{"cheap": 1},
	}, store, WithDailyCap(caps))

	msg, err := d.Send(context.Background(), "+1", "one", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cheap", msg.Provider)

	msg, err = d.Send(context.Background(), "+1", "two", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "backup", msg.Provider)

	rows := store.Rows()
	require.Len(t, rows, 3)
	require.NotNil(t, rows[1].Error)
	assert.Contains(t, *rows[1].Error, ErrDailyCapReached.Error())
	assert.Len(t, cheap.Calls(), 1)
	assert.Equal(t, 2, caps.calls, "backup has no cap")
}

func TestDispatcher_DailyCapStoreDownFailsOpen(t *testing.T) {
	p := &fakeProvider{name: "p"}
	d := New(mustRegistry(p), RoutingConfig{Default: "p", DailyCaps: map[string]int64{"p": 1}},
		&memMessages{}, WithDailyCap(&fakeCap{err: errBoom}))

	_, err := d.Send(context.Background(), "+1", "x", SendOptions{})
	assert.NoError(t, err)
}

func TestDispatcher_RecordFailureDoesNotFailSend(t *testing.T) {
	p := &fakeProvider{name: "p"}
	d := New(mustRegistry(p), RoutingConfig{Default: "p"}, &memMessages{err: errBoom})

	msg, err := d.Send(context.Background(), "+1", "x", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
}

func TestDispatcher_Reconfigure(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d := New(mustRegistry(a, b), RoutingConfig{Default: "a"}, &memMessages{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				d.Reconfigure(RoutingConfig{Default: "b"})
			}
			_, err := d.Send(context.Background(), "+1", "x", SendOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	d.Reconfigure(RoutingConfig{Default: "b", Fallback: "a"})
	assert.Equal(t, RoutingConfig{Default: "b", Fallback: "a"}, d.Routing())

	msg, err := d.Send(context.Background(), "+1", "x", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "b", msg.Provider)
}
