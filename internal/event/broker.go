// Package event fans values out to subscribers without ever blocking the
// publisher. Each subscription has its own unbounded mailbox and delivery
// goroutine, so a subscriber sees values in exactly the order they were
// published and a slow subscriber only delays itself.
package event

import (
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers fn. It is called from a dedicated goroutine, one
// value at a time. Subscribing to a closed broker returns an already
// closed subscription.
func (b *Broker[T]) Subscribe(fn func(T)) *Subscription[T] {
	s := &Subscription[T]{
		broker: b,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stopped = true
		close(s.done)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s
}

// Publish queues v for every current subscriber and returns immediately.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(v)
	}
}

// Close stops accepting values and waits until every subscriber has been
// handed everything published before Close. It must not be called from a
// subscriber callback.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.finish()
	}
	for s := range subs {
		<-s.done
	}
}

func (b *Broker[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type Subscription[T any] struct {
	broker *Broker[T]
	fn     func(T)

	mu       sync.Mutex
	pending  []T
	draining bool
	stopped  bool
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Close unsubscribes immediately; undelivered values are dropped. It does
// not wait for an in-flight callback.
func (s *Subscription[T]) Close() {
	s.broker.remove(s)
	s.mu.Lock()
	s.stopped = true
	s.pending = nil
	s.mu.Unlock()
	s.signal()
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.stopped || s.draining {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) run() {
	defer s.once.Do(func() { close(s.done) })
	for range s.wake {
		for {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			if len(s.pending) == 0 {
				exit := s.draining
				s.mu.Unlock()
				if exit {
					return
				}
				break
			}
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, v := range batch {
				if s.isStopped() {
					return
				}
				s.deliver(v)
			}
		}
	}
}

func (s *Subscription[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event subscriber panic: %v\n%s", r, debug.Stack())
		}
	}()
	s.fn(v)
}

func (s *Subscription[T]) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
