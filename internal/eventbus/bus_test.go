package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(EventSessionCreated)
	other := bus.Subscribe(EventSnapshotCaptured)

	bus.Publish(Event{Type: EventSessionCreated, CorrelationID: "c1"})

	select {
	case ev := <-sub.Events:
		if ev.CorrelationID != "c1" {
			t.Fatalf("got correlation id %q, want c1", ev.CorrelationID)
		}
	default:
		t.Fatal("expected event for matching subscriber")
	}

	select {
	case <-other.Events:
		t.Fatal("non-matching subscriber should not receive event")
	default:
	}
}

func TestPublishDropsOldestOnFullChannel(t *testing.T) {
	bus := &Bus{subs: make(map[string]*subscriber)}
	bus.nextID++
	id := "sub-1"
	sub := &subscriber{id: id, ch: make(chan Event, 2)}
	bus.subs[id] = sub

	bus.Publish(Event{Type: "a", CorrelationID: "1"})
	bus.Publish(Event{Type: "a", CorrelationID: "2"})
	bus.Publish(Event{Type: "a", CorrelationID: "3"})

	first := <-sub.ch
	second := <-sub.ch
	if first.CorrelationID != "2" || second.CorrelationID != "3" {
		t.Fatalf("expected oldest event dropped, got %q then %q", first.CorrelationID, second.CorrelationID)
	}
	if bus.lagDropsFor(id) != 1 {
		t.Fatalf("lag drops = %d, want 1", bus.lagDropsFor(id))
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := New()
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	for i := 0; i < DefaultChannelSize+5; i++ {
		bus.Publish(Event{Type: "tick", Timestamp: time.Now()})
	}

	drained := 0
	for {
		select {
		case <-fast.Events:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Fatal("fast subscriber should have received events")
	}
	if slow.LagDrops() == 0 {
		t.Fatal("slow subscriber should have recorded lag drops")
	}
}
