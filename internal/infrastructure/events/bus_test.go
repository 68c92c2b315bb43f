package events

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/logger"
)

var testLogger = logger.New(io.Discard, true, false)

type collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collector) handle(e domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitCount(t *testing.T, c *collector, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, c.count())
}

// TestFanOut verifies every subscriber receives every event in order.
func TestFanOut(t *testing.T) {
	bus := NewBus(8, testLogger)
	defer bus.Close()

	a, b := &collector{}, &collector{}
	bus.Subscribe("a", a.handle)
	bus.Subscribe("b", b.handle)

	for i := 0; i < 3; i++ {
		bus.Publish(domain.Event{Kind: domain.EventMotion, CameraID: domain.CameraID(i)})
	}

	waitCount(t, a, 3)
	waitCount(t, b, 3)

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, e := range a.events {
		if e.CameraID != domain.CameraID(i) {
			t.Errorf("event %d has camera %d", i, e.CameraID)
		}
	}
}

// TestSlowSubscriberDropsWithoutBlocking verifies Publish never waits on a full queue.
func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(1, testLogger)

	release := make(chan struct{})
	slow := &collector{}
	bus.Subscribe("slow", func(e domain.Event) {
		<-release
		slow.handle(e)
	})
	fast := &collector{}
	bus.Subscribe("fast", fast.handle)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(domain.Event{Kind: domain.EventMotion})
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	stats := bus.Stats()
	if stats.Published != 10 {
		t.Errorf("published %d, want 10", stats.Published)
	}
	if stats.Dropped["slow"] == 0 {
		t.Error("expected drops for the slow subscriber")
	}

	close(release)
	bus.Close()

	if got := slow.count() + int(stats.Dropped["slow"]); got != 10 {
		t.Errorf("slow subscriber handled+dropped %d events, want 10", got)
	}
	if fast.count()+int(stats.Dropped["fast"]) != 10 {
		t.Errorf("fast subscriber lost events: %d handled", fast.count())
	}
}

// TestHandlerPanicIsRecovered verifies a panicking handler keeps receiving events.
func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewBus(4, testLogger)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe("flaky", func(e domain.Event) {
		if e.CameraID == 0 {
			panic("bad event")
		}
		c.handle(e)
	})

	bus.Publish(domain.Event{CameraID: 0})
	bus.Publish(domain.Event{CameraID: 1})
	waitCount(t, c, 1)
}

// TestCloseDrainsQueues verifies queued events are handled before Close returns.
func TestCloseDrainsQueues(t *testing.T) {
	bus := NewBus(16, testLogger)

	c := &collector{}
	bus.Subscribe("store", func(e domain.Event) {
		time.Sleep(2 * time.Millisecond)
		c.handle(e)
	})
	for i := 0; i < 5; i++ {
		bus.Publish(domain.Event{Kind: domain.EventSessionStarted})
	}

	bus.Close()
	if c.count() != 5 {
		t.Errorf("expected 5 handled events after Close, got %d", c.count())
	}

	// Publishing and subscribing after Close are no-ops
	bus.Publish(domain.Event{})
	bus.Subscribe("late", c.handle)
	bus.Close()
	if bus.Stats().Published != 5 {
		t.Errorf("published %d, want 5", bus.Stats().Published)
	}
}
