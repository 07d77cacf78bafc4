package events

import (
	"testing"
	"time"
)

func TestBrokerBacklogKeepsNewest(t *testing.T) {
	b := NewBroker(3)
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		b.Publish(Event{Type: "task.status_changed", TaskID: id})
	}
	_, cancel, snapshot := b.Subscribe()
	defer cancel()

	if len(snapshot) != 3 {
		t.Fatalf("expected 3 backlog events, got %d", len(snapshot))
	}
	for i, want := range []string{"t2", "t3", "t4"} {
		if snapshot[i].TaskID != want {
			t.Fatalf("backlog[%d] = %s, want %s", i, snapshot[i].TaskID, want)
		}
	}
}

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker(10)
	ch, cancel, snapshot := b.Subscribe()
	defer cancel()
	if len(snapshot) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(snapshot))
	}

	b.Publish(Event{Type: "assignment.offered", TaskID: "t1", DesignerID: "d1"})
	select {
	case ev := <-ch:
		if ev.DesignerID != "d1" || ev.Timestamp.IsZero() {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerCancelRemovesSubscriber(t *testing.T) {
	b := NewBroker(1)
	_, cancel, _ := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()
	cancel()
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
}

func TestNilBrokerIsSafe(t *testing.T) {
	var b *Broker
	b.Publish(Event{Type: "x"})
	ch, cancel, snapshot := b.Subscribe()
	cancel()
	if ch != nil || snapshot != nil {
		t.Fatalf("expected nil subscription from nil broker")
	}
}
