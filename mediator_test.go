package tabdb

import "testing"

func TestBrokerPublishFanOut(t *testing.T) {
	b := NewBroker()
	var a, c int
	b.Subscribe("topic", SubscriberFunc(func(*Message) { a++ }))
	b.Subscribe("topic", SubscriberFunc(func(*Message) { c++ }))
	b.Publish(&Message{Topic: "topic"})
	if a != 1 || c != 1 {
		t.Fatalf("expected both subscribers to receive the message, got a=%d c=%d", a, c)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	var count int
	sub := SubscriberFunc(func(*Message) { count++ })
	b.Subscribe("topic", sub)
	b.Unsubscribe("topic", sub)
	b.Publish(&Message{Topic: "topic"})
	if count != 0 {
		t.Fatalf("expected unsubscribed handler not to fire, got %d", count)
	}
}

func TestBrokerNoSubscribersIsNoop(t *testing.T) {
	b := NewBroker()
	b.Publish(&Message{Topic: "nobody-listening"})
}
