// Package bus carries the cross-cutting signals of the feed: app
// background/foreground transitions and the context-scoped "kill all
// players" broadcast.
//
// Kill handlers are kept in an observer registry keyed by Scope. A scope
// marked immune never receives kills, and a broadcast may exclude further
// scopes by value.
//
// Handlers run synchronously on the publisher's goroutine, after the
// registry lock is released, so a handler may unsubscribe itself. Publish
// from the interaction goroutine.
package bus

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned when subscribing to a closed bus.
	ErrClosed = errors.New("bus closed")

	// ErrImmune is returned when subscribing a kill handler for an immune scope.
	ErrImmune = errors.New("scope is immune to kill broadcasts")

	// ErrNotSubscribed is returned by Unsubscribe for an unknown subscription.
	ErrNotSubscribed = errors.New("subscription not registered")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("nil handler")
)

// Topic names a lifecycle signal.
type Topic string

const (
	// TopicBackground fires when the app enters the background.
	TopicBackground Topic = "app.background"
	// TopicForeground fires when the app is about to enter the foreground.
	TopicForeground Topic = "app.foreground"
)

// Scope is the context tag of a player owner.
type Scope string

const (
	ScopePrimaryFeed       Scope = "primary_feed"
	ScopeDiscovery         Scope = "discovery"
	ScopeProfileGrid       Scope = "profile_grid"
	ScopeStandalonePreview Scope = "standalone_preview"
)

// KillSignal is delivered to kill handlers.
type KillSignal struct {
	Reason string
	Except []Scope
}

// Excludes reports whether the signal skips scope.
func (k KillSignal) Excludes(scope Scope) bool {
	for _, s := range k.Except {
		if s == scope {
			return true
		}
	}
	return false
}

// Subscription is a registration handle. Unsubscribe removes exactly this
// handle and never any other registration of the same owner.
type Subscription struct {
	topic  Topic
	scope  Scope
	kill   bool
	fn     func()
	onKill func(KillSignal)
}

// Topic returns the subscribed topic ("" for kill subscriptions).
func (s *Subscription) Topic() Topic { return s.topic }

// Scope returns the kill scope ("" for topic subscriptions).
func (s *Subscription) Scope() Scope { return s.scope }

// Stats counts deliveries.
type Stats struct {
	Published uint64
	Delivered uint64
	Kills     uint64
}

// Bus is the process-wide signal channel, constructed by the composition root.
type Bus struct {
	mu     sync.RWMutex
	topics map[Topic][]*Subscription
	kills  map[Scope][]*Subscription
	immune map[Scope]bool
	closed bool
	logger *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	killed    atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithImmune marks scopes that never receive kill broadcasts.
// Replaces the default immune set.
func WithImmune(scopes ...Scope) Option {
	return func(b *Bus) {
		b.immune = make(map[Scope]bool, len(scopes))
		for _, s := range scopes {
			b.immune[s] = true
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates a bus. By default ScopeProfileGrid is immune to kills.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[Topic][]*Subscription),
		kills:  make(map[Scope][]*Subscription),
		immune: map[Scope]bool{ScopeProfileGrid: true},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Immune reports whether scope is exempt from kill broadcasts.
func (b *Bus) Immune(scope Scope) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.immune[scope]
}

// Subscribe registers fn for topic.
func (b *Bus) Subscribe(topic Topic, fn func()) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{topic: topic, fn: fn}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

// SubscribeKill registers fn for kill broadcasts addressed to scope.
func (b *Bus) SubscribeKill(scope Scope, fn func(KillSignal)) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.immune[scope] {
		return nil, ErrImmune
	}

	sub := &Subscription{scope: scope, kill: true, onKill: fn}
	b.kills[scope] = append(b.kills[scope], sub)
	return sub, nil
}

// Unsubscribe removes sub by pointer identity.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrNotSubscribed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.kill {
		list, ok := remove(b.kills[sub.scope], sub)
		if !ok {
			return ErrNotSubscribed
		}
		if len(list) == 0 {
			delete(b.kills, sub.scope)
		} else {
			b.kills[sub.scope] = list
		}
		return nil
	}

	list, ok := remove(b.topics[sub.topic], sub)
	if !ok {
		return ErrNotSubscribed
	}
	if len(list) == 0 {
		delete(b.topics, sub.topic)
	} else {
		b.topics[sub.topic] = list
	}
	return nil
}

func remove(list []*Subscription, sub *Subscription) ([]*Subscription, bool) {
	for i, s := range list {
		if s == sub {
			out := make([]*Subscription, 0, len(list)-1)
			out = append(out, list[:i]...)
			out = append(out, list[i+1:]...)
			return out, true
		}
	}
	return list, false
}

// Publish delivers topic to its subscribers in registration order and
// returns how many handlers ran.
func (b *Bus) Publish(topic Topic) int {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	subs := append([]*Subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range subs {
		sub.fn()
	}
	b.delivered.Add(uint64(len(subs)))

	b.logger.Debug("bus published", "topic", string(topic), "handlers", len(subs))
	return len(subs)
}

// KillAll broadcasts a kill to every non-immune scope not listed in except
// and returns how many handlers ran. Scopes are visited in name order,
// handlers within a scope in registration order.
func (b *Bus) KillAll(reason string, except ...Scope) int {
	sig := KillSignal{Reason: reason, Except: except}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	scopes := make([]string, 0, len(b.kills))
	for scope := range b.kills {
		scopes = append(scopes, string(scope))
	}
	sort.Strings(scopes)

	var subs []*Subscription
	for _, name := range scopes {
		scope := Scope(name)
		if b.immune[scope] || sig.Excludes(scope) {
			continue
		}
		subs = append(subs, b.kills[scope]...)
	}
	b.mu.RUnlock()

	b.killed.Add(1)
	for _, sub := range subs {
		sub.onKill(sig)
	}
	b.delivered.Add(uint64(len(subs)))

	b.logger.Info("kill broadcast", "reason", reason, "handlers", len(subs))
	return len(subs)
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// KillSubscriberCount returns the number of kill handlers for scope.
func (b *Bus) KillSubscriberCount(scope Scope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.kills[scope])
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Kills:     b.killed.Load(),
	}
}

// Close drops every registration. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.topics = nil
	b.kills = nil
}
