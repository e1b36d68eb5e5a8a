package tabdb

import "sync"

// Message is one pub/sub event, carrying its topic and a Data payload.
type Message struct {
	Topic   string
	Payload Data
}

// Subscriber receives messages published on a topic it subscribed to.
type Subscriber interface {
	Send(msg *Message)
}

// funcSubscriber adapts a plain function to Subscriber behind a pointer, so
// two distinct subscriptions are never equal even when their underlying
// func values would be (funcs themselves cannot be compared, and the
// Broker's topic table uses Subscriber identity as a map key).
type funcSubscriber struct {
	fn func(msg *Message)
}

func (f *funcSubscriber) Send(msg *Message) { f.fn(msg) }

// SubscriberFunc adapts a plain function into a Subscriber.
func SubscriberFunc(fn func(msg *Message)) Subscriber {
	return &funcSubscriber{fn: fn}
}

// Mediator is the host-facing pub/sub collaborator named in the external
// interfaces: the heartbeat and save-state commands come in over it, and
// db-ready/collection-updated events go out over it.
type Mediator interface {
	Publish(msg *Message)
	Subscribe(topic string, sub Subscriber)
	Unsubscribe(topic string, sub Subscriber)
}

// Topic names for the four events/commands the external interface names.
const (
	TopicHeartBeat         = "event.heart_beat"
	TopicSaveState         = "command.save_state"
	TopicDbReady           = "event.db_ready"
	TopicCollectionUpdated = "event.collection_updated"
)

// Broker is the default in-memory Mediator: a topic-keyed fan-out table.
// Unlike a multi-tenant message broker, Publish here runs synchronously on
// the caller's goroutine, matching tabdb's single-threaded host tick loop
// instead of the concurrent subscriber model a networked broker needs.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[Subscriber]struct{})}
}

func (b *Broker) Subscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, sub)
	}
}

func (b *Broker) Publish(msg *Message) {
	b.mu.RLock()
	subs := b.topics[msg.Topic]
	targets := make([]Subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()
	for _, s := range targets {
		s.Send(msg)
	}
}
