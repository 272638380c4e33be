// Package broadcaster provides a small generic pub/sub broker used to fan
// chain events out to wallet subscribers.
package broadcaster

import "context"

type Broker[T any] struct {
	doneChan chan struct{}
	publish  chan T
	sub      chan chan T
	unsub    chan chan T
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		doneChan: make(chan struct{}),
		publish:  make(chan T, 1),
		sub:      make(chan chan T, 1),
		unsub:    make(chan chan T, 1),
	}
}

// Start runs the broker loop until Stop is called or ctx is cancelled.
// Subscribers that cannot take a message immediately receive it from a
// helper goroutine so one slow consumer never stalls the rest.
func (b *Broker[T]) Start(ctx context.Context) {
	subs := make(map[chan T]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.doneChan:
			return
		case ch := <-b.sub:
			subs[ch] = struct{}{}
		case ch := <-b.unsub:
			delete(subs, ch)
		case msg := <-b.publish:
			for ch := range subs {
				select {
				case ch <- msg:
				default:
					go func(ch chan T) {
						select {
						case <-b.doneChan:
						case <-ctx.Done():
						case ch <- msg:
						}
					}(ch)
				}
			}
		}
	}
}

func (b *Broker[T]) Stop() {
	close(b.doneChan)
}

func (b *Broker[T]) Done() <-chan struct{} {
	return b.doneChan
}

func (b *Broker[T]) Subscribe() chan T {
	ch := make(chan T, 1)
	select {
	case b.sub <- ch:
	case <-b.doneChan:
	}
	return ch
}

func (b *Broker[T]) Unsubscribe(ch chan T) {
	select {
	case b.unsub <- ch:
	case <-b.doneChan:
	}
}

func (b *Broker[T]) Publish(msg T) {
	select {
	case b.publish <- msg:
	case <-b.doneChan:
	}
}
