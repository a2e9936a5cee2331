// Package eventstream provides a small fan-out broker used to announce
// ledger activity (settled transactions, micronote payments) to any number
// of subscribers without the publisher blocking on a slow consumer.
package eventstream

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

// Start runs the delivery loop until Stop is called. A subscriber whose
// buffer is full receives its message from a spawned goroutine instead of
// stalling delivery to everyone else.
func (b *Broker[T]) Start() {
	subs := make(map[chan T]struct{})
	for {
		select {
		case <-b.doneChan:
			return
		case sub := <-b.sub:
			subs[sub] = struct{}{}
		case unsub := <-b.unsub:
			delete(subs, unsub)
		case msg := <-b.publish:
			for ch := range subs {
				select {
				case ch <- msg:
				default:
					go func(ch chan T) {
						select {
						case <-b.doneChan:
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

// Subscribe registers a new subscriber channel with the given buffer
// size. A buffer of at least 1 keeps in-order delivery for subscribers
// that drain promptly.
func (b *Broker[T]) Subscribe(buffer int) chan T {
	if buffer < 1 {
		buffer = 1
	}
	msgCh := make(chan T, buffer)
	select {
	case b.sub <- msgCh:
	case <-b.doneChan:
	}
	return msgCh
}

func (b *Broker[T]) UnSubscribe(msgChan chan T) {
	select {
	case b.unsub <- msgChan:
	case <-b.doneChan:
	}
}

// Publish hands a message to the delivery loop. Publishing after Stop is
// a no-op rather than a deadlock.
func (b *Broker[T]) Publish(msg T) {
	select {
	case b.publish <- msg:
	case <-b.doneChan:
	}
}
