package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("event bus closed")

type Handler[T any] func(context.Context, T) error

// ErrorHandler receives errors returned, or panics raised, by subscribers.
type ErrorHandler func(ctx context.Context, err error)

type Option func(*options)

type options struct {
	onError ErrorHandler
}

// WithErrorHandler sets the sink for handler failures. Handler failures never
// reach the publisher.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.onError = h
		}
	}
}

// Bus is a single-slot broadcast channel. It always holds the latest published
// value; a new subscriber receives that value first and then every later
// publish, in publish order. Every subscriber drains its own mailbox on its own
// goroutine, so Publish never waits for a handler.
type Bus[T any] struct {
	mu      sync.Mutex
	current T
	subs    []*subscriber[T]
	nextID  uint64
	pending int
	idle    chan struct{}
	closed  bool
	onError ErrorHandler
}

func NewBus[T any](initial T, opts ...Option) *Bus[T] {
	o := options{onError: func(context.Context, error) {}}
	for _, opt := range opts {
		opt(&o)
	}

	idle := make(chan struct{})
	close(idle)

	return &Bus[T]{
		current: initial,
		idle:    idle,
		onError: o.onError,
	}
}

// Current returns the most recently published value.
func (b *Bus[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish replaces the current value and enqueues it for every active
// subscriber. The context is handed to handlers without its cancellation.
func (b *Bus[T]) Publish(ctx context.Context, evt T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.current = evt
	d := delivery[T]{ctx: context.WithoutCancel(ctx), evt: evt}
	for _, s := range b.subs {
		b.enqueueLocked(s, d)
	}
	return nil
}

// Subscribe registers h and immediately enqueues the current value for it.
// The returned function stops delivery; events still queued for h are dropped.
func (b *Bus[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	s := &subscriber[T]{
		id:     b.nextID,
		handle: h,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.subs = append(b.subs, s)
	b.enqueueLocked(s, delivery[T]{ctx: context.Background(), evt: b.current})

	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

// Wait blocks until every mailbox is empty and no handler is running. Events
// published by handlers count as pending, so a chain of reactions is awaited
// in full.
func (b *Bus[T]) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.pending == 0 {
			b.mu.Unlock()
			return nil
		}
		idle := b.idle
		b.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops every subscriber and waits for running handlers to return.
// Queued events are dropped and later publishes fail with ErrClosed. It must
// not be called from inside a handler.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	for _, s := range subs {
		b.stopLocked(s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}

func (b *Bus[T]) remove(s *subscriber[T]) {
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur.id == s.id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.stopLocked(s)
	b.mu.Unlock()
}

func (b *Bus[T]) enqueueLocked(s *subscriber[T], d delivery[T]) {
	if s.stopped {
		return
	}
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending++
	s.queue = append(s.queue, d)
	s.signal()
}

func (b *Bus[T]) stopLocked(s *subscriber[T]) {
	if s.stopped {
		return
	}
	s.stopped = true
	b.releaseLocked(len(s.queue))
	s.queue = nil
	s.signal()
}

func (b *Bus[T]) releaseLocked(n int) {
	if n == 0 {
		return
	}
	b.pending -= n
	if b.pending == 0 {
		close(b.idle)
	}
}

func (b *Bus[T]) run(s *subscriber[T]) {
	defer close(s.done)

	for {
		b.mu.Lock()
		if s.stopped {
			b.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			b.mu.Unlock()
			<-s.wake
			continue
		}
		d := s.queue[0]
		s.queue[0] = delivery[T]{}
		s.queue = s.queue[1:]
		b.mu.Unlock()

		b.dispatch(s, d)

		b.mu.Lock()
		b.releaseLocked(1)
		b.mu.Unlock()
	}
}

func (b *Bus[T]) dispatch(s *subscriber[T], d delivery[T]) {
	defer func() {
		if r := recover(); r != nil {
			b.onError(d.ctx, fmt.Errorf("event handler panic: %v", r))
		}
	}()

	if err := s.handle(d.ctx, d.evt); err != nil {
		b.onError(d.ctx, err)
	}
}

type delivery[T any] struct {
	ctx context.Context
	evt T
}

type subscriber[T any] struct {
	id      uint64
	handle  Handler[T]
	queue   []delivery[T]
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func (s *subscriber[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
