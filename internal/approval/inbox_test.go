package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	got    []InboundEvent
	calls  int
	fails  int // first n calls fail
	block  chan struct{}
	called chan struct{}
	ctxErr []error
}

func (h *recordingHandler) Handle(ctx context.Context, provider string, body []byte) error {
	if h.called != nil {
		h.called <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.ctxErr = append(h.ctxErr, ctx.Err())
	if h.calls <= h.fails {
		return errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
	}
	h.got = append(h.got, InboundEvent{Provider: provider, Body: body})
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func TestInbox_OfferRejectsWhenFull(t *testing.T) {
	in := NewInbox(2, 1, &recordingHandler{}, nil)

	assert.True(t, in.Offer(InboundEvent{Provider: "cloud"}))
	assert.True(t, in.Offer(InboundEvent{Provider: "cloud"}))
	assert.False(t, in.Offer(InboundEvent{Provider: "cloud"}))
	assert.Equal(t, 2, in.Len())
}

func TestInbox_RunDrainsQueue(t *testing.T) {
	h := &recordingHandler{}
	in := NewInbox(16, 3, h, nil)
	for i := 0; i < 10; i++ {
		require.True(t, in.Offer(InboundEvent{Provider: "cloud", Body: []byte{byte(i)}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	assert.Eventually(t, func() bool { return h.count() == 10 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inbox did not stop")
	}
}

func TestInbox_RunWaitsForInFlight(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{}), called: make(chan struct{}, 1)}
	in := NewInbox(4, 1, h, nil)
	require.True(t, in.Offer(InboundEvent{Provider: "cloud"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = in.Run(ctx)
		close(done)
	}()

	<-h.called
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before the handler finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.block)
	<-done
	assert.Equal(t, 1, h.count())
}

func TestInbox_RunDrainsQueuedEventsAfterCancel(t *testing.T) {
	h := &recordingHandler{}
	in := NewInbox(16, 2, h, nil)
	for i := 0; i < 10; i++ {
		require.True(t, in.Offer(InboundEvent{Provider: "cloud", Body: []byte{byte(i)}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inbox did not stop")
	}

	assert.Equal(t, 10, h.count())
	assert.Zero(t, in.Len())
	for _, err := range h.ctxErr {
		assert.NoError(t, err, "handler saw a cancelled context")
	}
}

func TestInbox_RetriesFailedEvents(t *testing.T) {
	h := &recordingHandler{fails: 2}
	in := NewInbox(4, 1, h, nil)
	in.RetryPause = time.Millisecond
	require.True(t, in.Offer(InboundEvent{Provider: "cloud"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	assert.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 3, h.calls)
}

func TestInbox_GivesUpAfterRetries(t *testing.T) {
	h := &recordingHandler{fails: 100}
	in := NewInbox(4, 1, h, nil)
	in.Retries = 1
	in.RetryPause = time.Millisecond
	require.True(t, in.Offer(InboundEvent{Provider: "cloud"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, in.Run(ctx))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 2, h.calls)
	assert.Empty(t, h.got)
}
