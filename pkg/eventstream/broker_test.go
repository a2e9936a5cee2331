package eventstream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker[int]()
	go broker.Start()
	defer broker.Stop()

	var wg sync.WaitGroup
	var received int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		sub := broker.Subscribe(1)
		go func() {
			defer wg.Done()
			select {
			case <-sub:
				atomic.AddInt64(&received, 1)
			case <-time.After(5 * time.Second):
			}
		}()
	}

	// let every subscriber register before publishing
	time.Sleep(50 * time.Millisecond)
	broker.Publish(7)
	wg.Wait()
	require.EqualValues(t, 50, atomic.LoadInt64(&received))
}

func TestBrokerUnsubscribe(t *testing.T) {
	broker := NewBroker[string]()
	go broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(1)
	time.Sleep(20 * time.Millisecond)
	broker.UnSubscribe(sub)
	time.Sleep(20 * time.Millisecond)

	broker.Publish("dropped")
	select {
	case msg := <-sub:
		t.Fatalf("received %q after unsubscribe", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrokerPublishAfterStop(t *testing.T) {
	broker := NewBroker[int]()
	go broker.Start()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		broker.Publish(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
