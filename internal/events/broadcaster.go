package events

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/sirupsen/logrus"
)

// Subscriber receives events. ID identifies the subscriber for Unsubscribe.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, ev models.Event) error
}

type funcSubscriber struct {
	id string
	fn func(ctx context.Context, ev models.Event) error
}

func (f funcSubscriber) ID() string { return f.id }

func (f funcSubscriber) Send(ctx context.Context, ev models.Event) error { return f.fn(ctx, ev) }

// SubscriberFunc adapts fn to a Subscriber with the given id.
func SubscriberFunc(id string, fn func(ctx context.Context, ev models.Event) error) Subscriber {
	return funcSubscriber{id: id, fn: fn}
}

// Broadcaster fans session events out to their subscribers. Delivery is a
// single best-effort attempt; a subscriber whose Send fails is dropped.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[string]Subscriber // session id -> subscriber id -> subscriber
	global  map[string]Subscriber
	closed  bool
	log     *logrus.Entry
	metrics *Metrics
}

func NewBroadcaster(metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[string]map[string]Subscriber),
		global:  make(map[string]Subscriber),
		log:     logrus.WithField("component", "events"),
		metrics: metrics,
	}
}

// Subscribe registers s for events of sessionID. Subscribing twice is a no-op.
func (b *Broadcaster) Subscribe(sessionID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[string]Subscriber)
		b.subs[sessionID] = set
	}
	set[s.ID()] = s
	b.metrics.setSubscribers(b.countLocked())
}

// Unsubscribe removes s from sessionID. Removing an absent subscriber is a no-op.
func (b *Broadcaster) Unsubscribe(sessionID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sessionID, s.ID())
}

// SubscribeAll registers s for the events of every session.
func (b *Broadcaster) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.global[s.ID()] = s
}

func (b *Broadcaster) UnsubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.global, s.ID())
}

// Forget drops every subscriber of sessionID.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sessionID)
	b.metrics.setSubscribers(b.countLocked())
}

// Count returns the number of subscribers registered for sessionID.
func (b *Broadcaster) Count(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Publish delivers ev to every subscriber of sessionID and to the global
// subscribers. It never fails; delivery errors remove the subscriber.
func (b *Broadcaster) Publish(ctx context.Context, sessionID string, ev models.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(b.subs[sessionID]))
	for _, s := range b.subs[sessionID] {
		targets = append(targets, s)
	}
	globals := make([]Subscriber, 0, len(b.global))
	for _, s := range b.global {
		globals = append(globals, s)
	}
	b.mu.RUnlock()

	if ev.ResearchID == "" {
		ev.ResearchID = sessionID
	}
	for _, s := range targets {
		if err := s.Send(ctx, ev); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"research_id": sessionID,
				"subscriber":  s.ID(),
				"event":       ev.Type,
			}).Warn("dropping subscriber after failed delivery")
			b.mu.Lock()
			b.removeLocked(sessionID, s.ID())
			b.mu.Unlock()
			b.metrics.observeDelivery(string(ev.Type), false)
			continue
		}
		b.metrics.observeDelivery(string(ev.Type), true)
	}
	for _, s := range globals {
		if err := s.Send(ctx, ev); err != nil {
			b.log.WithError(err).WithField("subscriber", s.ID()).Warn("global subscriber delivery failed")
			b.metrics.observeDelivery(string(ev.Type), false)
			continue
		}
		b.metrics.observeDelivery(string(ev.Type), true)
	}
}

// Close drops every subscriber; later Subscribe and Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[string]Subscriber)
	b.global = make(map[string]Subscriber)
	b.metrics.setSubscribers(0)
}

func (b *Broadcaster) removeLocked(sessionID, id string) {
	set, ok := b.subs[sessionID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
	b.metrics.setSubscribers(b.countLocked())
}

func (b *Broadcaster) countLocked() int {
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
