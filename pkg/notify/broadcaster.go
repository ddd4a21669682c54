// ABOUTME: Notification broadcaster for committed changes
// ABOUTME: Fans a commit out to every subscriber of an overlapping path

package notify

import (
	"time"

	"github.com/nainya/jsondb/pkg/jsonpath"
)

// SubscriberIndex lists the subscriptions whose path overlaps p
type SubscriberIndex interface {
	OverlappingSubscribers(p jsonpath.Path) []Subscription
}

// Delivery is a notification that is due for one sink
type Delivery struct {
	Sink         Sink
	Notification Notification
}

// Broadcaster decides which notifications a commit produces
type Broadcaster struct {
	index SubscriberIndex
	now   func() time.Time
}

// NewBroadcaster creates a broadcaster over a subscriber index
func NewBroadcaster(index SubscriberIndex) *Broadcaster {
	return &Broadcaster{index: index, now: time.Now}
}

// Broadcast returns one delivery per subscription overlapping p.
// Each delivery carries its own copy of value.
func (b *Broadcaster) Broadcast(p jsonpath.Path, value any) []Delivery {
	subs := b.index.OverlappingSubscribers(p)
	if len(subs) == 0 {
		return nil
	}

	now := b.now()
	out := make([]Delivery, 0, len(subs))
	for _, sub := range subs {
		if sub.Sink == nil {
			continue
		}
		out = append(out, Delivery{
			Sink: sub.Sink,
			Notification: Notification{
				Path:       p,
				Subscribed: sub.Path,
				ClientID:   sub.ClientID,
				Value:      jsonpath.Clone(value),
				Time:       now,
			},
		})
	}
	return out
}

// Deliver hands every delivery to its sink in order
func Deliver(deliveries []Delivery) (delivered, dropped int) {
	for _, d := range deliveries {
		if d.Sink.Deliver(d.Notification) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
