// Package events fans dispatch activity out to live subscribers and keeps a
// short backlog so a new subscriber can catch up.
package events

import (
	"sync"
	"time"
)

const (
	defaultBacklog          = 200
	defaultSubscriberBuffer = 50
)

type Event struct {
	Timestamp    time.Time `json:"ts"`
	Type         string    `json:"type"`
	TaskID       string    `json:"task_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	DesignerID   string    `json:"designer_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"msg,omitempty"`
}

type Publisher interface {
	Publish(Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

// Broker never blocks a publisher: a slow subscriber misses events rather
// than stalling the engine.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	backlog []Event
	head    int
	full    bool
}

func NewBroker(backlog int) *Broker {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Broker{
		subs:    map[int]chan Event{},
		backlog: make([]Event, backlog),
	}
}

func (b *Broker) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.backlog[b.head] = event
	b.head = (b.head + 1) % len(b.backlog)
	if b.head == 0 {
		b.full = true
	}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns the live channel, a cancel func and the backlog oldest first.
func (b *Broker) Subscribe() (<-chan Event, func(), []Event) {
	if b == nil {
		return nil, func() {}, nil
	}
	ch := make(chan Event, defaultSubscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return ch, cancel, snapshot
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) snapshotLocked() []Event {
	if !b.full {
		return append([]Event(nil), b.backlog[:b.head]...)
	}
	out := make([]Event, 0, len(b.backlog))
	out = append(out, b.backlog[b.head:]...)
	return append(out, b.backlog[:b.head]...)
}
