package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	producer int
	value    int
}

type recordingHandler struct {
	mu     sync.Mutex
	events []testEvent
	delay  time.Duration
}

func (h *recordingHandler) OnEvent(e testEvent) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() []testEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]testEvent, len(h.events))
	copy(out, h.events)
	return out
}

func TestRingBufferRequiresPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() {
		NewRingBuffer[testEvent](10, &recordingHandler{})
	})
}

func TestRingBufferBasicOperations(t *testing.T) {
	handler := &recordingHandler{}
	rb := NewRingBuffer[testEvent](16, handler)
	rb.Start()

	for i := 0; i < 100; i++ {
		rb.Publish(testEvent{value: i})
	}

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 100
	}, time.Second, time.Millisecond)

	for i, e := range handler.snapshot() {
		assert.Equal(t, i, e.value)
	}
	assert.Equal(t, int64(0), rb.GetPendingEvents())
	assert.Equal(t, int64(99), rb.ConsumerSequence())
	assert.Equal(t, int64(99), rb.ProducerSequence())

	require.NoError(t, rb.Shutdown(context.Background()))
}

func TestRingBufferMultiProducerKeepsPerProducerOrder(t *testing.T) {
	handler := &recordingHandler{}
	rb := NewRingBuffer[testEvent](64, handler)
	rb.Start()

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				rb.Publish(testEvent{producer: p, value: i})
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, rb.Shutdown(context.Background()))

	events := handler.snapshot()
	require.Len(t, events, producers*perProducer)

	last := make(map[int]int)
	for _, e := range events {
		prev, ok := last[e.producer]
		if ok {
			assert.Equal(t, prev+1, e.value)
		}
		last[e.producer] = e.value
	}
}

func TestRingBufferShutdownDrains(t *testing.T) {
	handler := &recordingHandler{delay: time.Millisecond}
	rb := NewRingBuffer[testEvent](32, handler)
	rb.Start()

	for i := 0; i < 20; i++ {
		rb.Publish(testEvent{value: i})
	}
	require.NoError(t, rb.Shutdown(context.Background()))
	assert.Len(t, handler.snapshot(), 20)

	rb.Publish(testEvent{value: 99})
	assert.Len(t, handler.snapshot(), 20, "events after shutdown are dropped")
}

func TestRingBufferShutdownTimeout(t *testing.T) {
	handler := &recordingHandler{delay: 50 * time.Millisecond}
	rb := NewRingBuffer[testEvent](8, handler)
	rb.Start()

	for i := 0; i < 4; i++ {
		rb.Publish(testEvent{value: i})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rb.Shutdown(ctx), ErrDisruptorTimeout)

	require.NoError(t, rb.Shutdown(context.Background()))
}

type blockingHandler struct {
	release chan struct{}
}

func (h blockingHandler) OnEvent(testEvent) {
	<-h.release
}

func TestRingBufferTryPublishWhenFull(t *testing.T) {
	handler := blockingHandler{release: make(chan struct{})}
	rb := NewRingBuffer[testEvent](2, handler)
	rb.Start()

	assert.True(t, rb.TryPublish(testEvent{value: 1}))
	assert.True(t, rb.TryPublish(testEvent{value: 2}))
	assert.False(t, rb.TryPublish(testEvent{value: 3}), "consumer has not released a slot")

	close(handler.release)
	require.Eventually(t, func() bool {
		return rb.GetPendingEvents() == 0
	}, time.Second, time.Millisecond)
	assert.True(t, rb.TryPublish(testEvent{value: 4}))

	require.NoError(t, rb.Shutdown(context.Background()))
	assert.False(t, rb.TryPublish(testEvent{value: 5}))
}
