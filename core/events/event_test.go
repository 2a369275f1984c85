package events

import (
	"testing"

	"tipjar/core/types"
)

func TestBroadcasterDeliversAndCancels(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(4)
	if b.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	b.Emit(Raw{Evt: &types.Event{Type: "a"}})
	evt := <-ch
	if evt.EventType() != "a" {
		t.Fatalf("unexpected event %q", evt.EventType())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
	b.Emit(Raw{Evt: &types.Event{Type: "b"}})
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	dropped := 0
	b.OnDrop = func() { dropped++ }
	ch, cancel := b.Subscribe(1)
	defer cancel()
	b.Emit(Raw{Evt: &types.Event{Type: "first"}})
	b.Emit(Raw{Evt: &types.Event{Type: "second"}})
	if dropped != 1 {
		t.Fatalf("expected one drop, got %d", dropped)
	}
	if evt := <-ch; evt.EventType() != "first" {
		t.Fatalf("expected first event, got %q", evt.EventType())
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected overflow to be dropped, got %q", evt.EventType())
	default:
	}
}

func TestCollectorPreservesOrder(t *testing.T) {
	var c Collector
	c.Emit(Raw{Evt: &types.Event{Type: "1"}})
	c.Emit(nil)
	c.Emit(Transfer{Amount: 3})
	got := c.Events()
	if len(got) != 2 || got[0].EventType() != "1" || got[1].EventType() != TypeTransfer {
		t.Fatalf("unexpected events %#v", got)
	}
	payload := got[1].(Payload).Event()
	if payload.Attributes["amount"] != "3" {
		t.Fatalf("unexpected amount attribute %q", payload.Attributes["amount"])
	}
}
