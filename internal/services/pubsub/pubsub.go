// Package pubsub fans out link events to live listeners such as the frame websocket.
package pubsub

import (
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// Topic represents a subscription topic.
type Topic string

const (
	TopicColorFrame  Topic = "COLOR_FRAME"
	TopicEntryStatus Topic = "ENTRY_STATUS"
)

// FrameEvent is published on TopicColorFrame for every frame an active entry dispatches.
type FrameEvent struct {
	EntryID string          `json:"entryId"`
	Frame   zone.ColorFrame `json:"frame"`
	At      time.Time       `json:"at"`
}

// StatusEvent is published on TopicEntryStatus when an entry connects, disconnects, starts or stops.
type StatusEvent struct {
	EntryID   string `json:"entryId"`
	Connected bool   `json:"connected"`
	Active    bool   `json:"active"`
	Error     string `json:"error,omitempty"`
}

// Subscriber represents a subscription channel.
type Subscriber struct {
	ID      string
	Topic   Topic
	Filter  string // entry ID, empty for all
	Channel chan interface{}
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Subscribe creates a new subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, filter string, bufferSize int) *Subscriber {
	sub := &Subscriber{
		ID:      cuid.New(),
		Topic:   topic,
		Filter:  filter,
		Channel: make(chan interface{}, bufferSize),
	}

	ps.mu.Lock()
	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	ps.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			close(s.Channel)
			ps.subscribers[sub.Topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends a message to all subscribers of a topic.
// If filter is non-empty, only sends to subscribers with matching filter or empty filter.
// Slow subscribers miss messages instead of blocking the publisher.
func (ps *PubSub) Publish(topic Topic, filter string, message interface{}) {
	// Held across the sends so Unsubscribe cannot close a channel mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, sub := range ps.subscribers[topic] {
		if sub.Filter == "" || filter == "" || sub.Filter == filter {
			select {
			case sub.Channel <- message:
			default:
			}
		}
	}
}

// PublishFrame publishes a dispatched frame for an entry.
func (ps *PubSub) PublishFrame(entryID string, frame zone.ColorFrame) {
	ps.Publish(TopicColorFrame, entryID, FrameEvent{EntryID: entryID, Frame: frame, At: time.Now()})
}

// PublishStatus publishes an entry status change.
func (ps *PubSub) PublishStatus(ev StatusEvent) {
	ps.Publish(TopicEntryStatus, ev.EntryID, ev)
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
