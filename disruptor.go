package match

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrDisruptorTimeout is returned when shutdown times out
var ErrDisruptorTimeout = errors.New("disruptor: shutdown timeout")

// idleWait bounds how long an idle consumer parks before re-checking.
const idleWait = 5 * time.Millisecond

// EventHandler consumes events in publish order.
type EventHandler[T any] interface {
	OnEvent(event T)
}

// RingBuffer is a multi-producer single-consumer ring buffer.
type RingBuffer[T any] struct {
	// Cache line padding to avoid false sharing
	_                [56]byte
	producerSequence atomic.Int64
	_                [56]byte
	consumerSequence atomic.Int64
	_                [56]byte

	buffer     []T
	bufferMask int64
	capacity   int64

	// published[i] holds the sequence last written to slot i
	published []int64

	handler EventHandler[T]
	wake    chan struct{}
	stopped chan struct{}

	isShutdown atomic.Bool
}

// NewRingBuffer creates a new MPSC RingBuffer.
// capacity must be a power of 2.
func NewRingBuffer[T any](capacity int64, handler EventHandler[T]) *RingBuffer[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("size must be a power of 2")
	}

	rb := &RingBuffer[T]{
		buffer:     make([]T, capacity),
		published:  make([]int64, capacity),
		capacity:   capacity,
		bufferMask: capacity - 1,
		handler:    handler,
		wake:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}

	rb.producerSequence.Store(-1)
	rb.consumerSequence.Store(-1)

	for i := range rb.published {
		atomic.StoreInt64(&rb.published[i], -1)
	}

	return rb
}

// Publish writes an event to the ring buffer. Safe for concurrent producers.
// Events published after Shutdown are dropped.
func (rb *RingBuffer[T]) Publish(event T) {
	if rb.isShutdown.Load() {
		return
	}

	var nextSeq int64
	for {
		currentProducerSeq := rb.producerSequence.Load()
		nextSeq = currentProducerSeq + 1

		// The producer may not lap the consumer.
		wrapPoint := nextSeq - rb.capacity
		if wrapPoint > rb.consumerSequence.Load() {
			if rb.isShutdown.Load() {
				return
			}
			rb.notify()
			runtime.Gosched()
			continue
		}

		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			break
		}
		runtime.Gosched()
	}

	index := nextSeq & rb.bufferMask
	rb.buffer[index] = event
	atomic.StoreInt64(&rb.published[index], nextSeq)
	rb.notify()
}

// TryPublish writes an event unless the ring is full or shut down. It never
// waits for the consumer.
func (rb *RingBuffer[T]) TryPublish(event T) bool {
	var nextSeq int64
	for {
		if rb.isShutdown.Load() {
			return false
		}
		currentProducerSeq := rb.producerSequence.Load()
		nextSeq = currentProducerSeq + 1
		if nextSeq-rb.capacity > rb.consumerSequence.Load() {
			rb.notify()
			return false
		}
		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			break
		}
	}

	index := nextSeq & rb.bufferMask
	rb.buffer[index] = event
	atomic.StoreInt64(&rb.published[index], nextSeq)
	rb.notify()
	return true
}

func (rb *RingBuffer[T]) notify() {
	select {
	case rb.wake <- struct{}{}:
	default:
	}
}

// Start starts the consumer goroutine.
func (rb *RingBuffer[T]) Start() {
	go rb.consumerLoop()
}

// Shutdown stops accepting events and waits until every claimed event is handled.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.isShutdown.Store(true)
	rb.notify()

	select {
	case <-rb.stopped:
		return nil
	case <-ctx.Done():
		return ErrDisruptorTimeout
	}
}

func (rb *RingBuffer[T]) consumerLoop() {
	defer close(rb.stopped)
	nextConsumerSeq := rb.consumerSequence.Load() + 1
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		if rb.isShutdown.Load() {
			rb.consume(nextConsumerSeq, rb.producerSequence.Load())
			return
		}

		availableSeq := rb.producerSequence.Load()
		if nextConsumerSeq <= availableSeq {
			nextConsumerSeq = rb.consume(nextConsumerSeq, availableSeq)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleWait)
		select {
		case <-rb.wake:
		case <-timer.C:
		}
	}
}

// consume handles events up to and including availableSeq and returns the
// next sequence to read.
func (rb *RingBuffer[T]) consume(nextConsumerSeq, availableSeq int64) int64 {
	var zero T
	for nextConsumerSeq <= availableSeq {
		index := nextConsumerSeq & rb.bufferMask

		// The slot is claimed but the producer may not have written it yet.
		for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
			runtime.Gosched()
		}

		event := rb.buffer[index]
		rb.buffer[index] = zero
		rb.handler.OnEvent(event)

		rb.consumerSequence.Store(nextConsumerSeq)
		nextConsumerSeq++
	}
	return nextConsumerSeq
}

// ConsumerSequence returns the last handled sequence.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumerSequence.Load()
}

// ProducerSequence returns the last claimed sequence.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.producerSequence.Load()
}

// GetPendingEvents returns the number of claimed but unhandled events.
func (rb *RingBuffer[T]) GetPendingEvents() int64 {
	producerSeq := rb.producerSequence.Load()
	consumerSeq := rb.consumerSequence.Load()
	return producerSeq - consumerSeq
}
