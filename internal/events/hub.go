// internal/events/hub.go
package events

import (
	"sync"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Hub is the in-process topic registry. Publish never blocks: a subscriber whose
// queue is full is closed and removed, and its stream handler ends the connection.
type Hub struct {
	mu     sync.Mutex
	topics map[Topic]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[Topic]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription is one attached stream. Events() is closed when the subscription ends.
type Subscription struct {
	hub      *Hub
	topic    Topic
	hostView bool
	ch       chan Event
	once     sync.Once
	evicted  bool
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Topic() Topic { return s.topic }

// Evicted reports whether the hub dropped this subscriber for falling behind.
func (s *Subscription) Evicted() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.evicted
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe attaches to topic. hostView lets the subscriber see HostOnly events.
func (h *Hub) Subscribe(topic Topic, hostView bool) *Subscription {
	sub := &Subscription{
		hub:      h,
		topic:    topic,
		hostView: hostView,
		ch:       make(chan Event, h.buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every current subscriber of its topic. It returns how
// many received it and how many were evicted. Publishes are serialized, so every
// subscriber sees the events of a topic in publish order.
func (h *Hub) Publish(ev Event) (delivered, evicted int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.topics[ev.Topic] {
		if ev.HostOnly && !sub.hostView {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.evicted = true
			h.removeLocked(sub)
			evicted++
		}
	}
	return delivered, evicted
}

// Subscribers returns the number of attached subscriptions on topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs, ok := h.topics[sub.topic]
	if ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, sub.topic)
			}
		}
	}
	sub.closeChan()
}
