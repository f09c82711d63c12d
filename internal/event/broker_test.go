package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []int
}

func (c *collector) add(v int) {
	c.mu.Lock()
	c.got = append(c.got, v)
	c.mu.Unlock()
}

func (c *collector) values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.got...)
}

func TestBroker_DeliversInOrder(t *testing.T) {
	b := NewBroker[int]()
	c1, c2 := &collector{}, &collector{}
	b.Subscribe(c1.add)
	b.Subscribe(c2.add)

	want := make([]int, 500)
	for i := range want {
		want[i] = i
		b.Publish(i)
	}
	b.Close()

	assert.Equal(t, want, c1.values())
	assert.Equal(t, want, c2.values())
}

func TestBroker_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroker[int]()
	release := make(chan struct{})
	b.Subscribe(func(int) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(release)
	b.Close()
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	b := NewBroker[int]()
	c := &collector{}
	sub := b.Subscribe(c.add)

	b.Publish(1)
	assert.Eventually(t, func() bool { return len(c.values()) == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription goroutine did not exit")
	}

	b.Publish(2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{1}, c.values())

	sub.Close()
}

func TestBroker_CloseDrainsPending(t *testing.T) {
	b := NewBroker[int]()
	gate := make(chan struct{})
	c := &collector{}
	sub := b.Subscribe(func(v int) {
		<-gate
		c.add(v)
	})

	for i := 0; i < 10; i++ {
		b.Publish(i)
	}

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned before the subscriber drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("subscription did not drain")
	}
	b.Publish(99)

	_, open := <-sub.Done()
	require.False(t, open)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, c.values())
}

func TestBroker_SubscribeAfterClose(t *testing.T) {
	b := NewBroker[int]()
	b.Close()

	sub := b.Subscribe(func(int) { t.Error("unexpected delivery") })
	b.Publish(1)

	_, open := <-sub.Done()
	require.False(t, open)
}

func TestBroker_PanickingSubscriberKeepsReceiving(t *testing.T) {
	b := NewBroker[int]()
	c := &collector{}
	b.Subscribe(func(v int) {
		if v == 1 {
			panic("boom")
		}
		c.add(v)
	})

	b.Publish(1)
	b.Publish(2)

	assert.Eventually(t, func() bool { return len(c.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, c.values())
	b.Close()
}
