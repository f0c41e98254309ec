package cache

import (
	"context"
	"sync"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
)

// Cache is the single in-memory source of truth for all fetched entities.
// One instance is created per client and passed by reference to everything
// that reads or writes it.
type Cache struct {
	mu      sync.Mutex
	records map[EntityKey]Record

	subs map[string]*subscription
	// deps indexes active subscriptions by the (entity, slot) pairs they
	// read during their last evaluation.
	deps map[EntityKey]map[string]map[string]*subscription

	lists map[string]*listFamily

	idFields  map[string][]string
	defaultID []string
}

// Option configures a Cache.
type Option func(*Cache)

// WithIDFields sets the id-like field names tried for a typename, in order.
func WithIDFields(typename string, fields ...string) Option {
	return func(c *Cache) { c.idFields[typename] = fields }
}

// WithDefaultIDFields sets the id field names tried for types without an
// explicit configuration. The default is just "id".
func WithDefaultIDFields(fields ...string) Option {
	return func(c *Cache) { c.defaultID = fields }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		records:   map[EntityKey]Record{Root: {}},
		subs:      map[string]*subscription{},
		deps:      map[EntityKey]map[string]map[string]*subscription{},
		lists:     map[string]*listFamily{},
		idFields:  map[string][]string{},
		defaultID: []string{"id"},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// changeset accumulates the (entity, slot) pairs touched by one merge.
type changeset map[EntityKey]map[string]struct{}

func (ch changeset) add(key EntityKey, slot string) {
	m := ch[key]
	if m == nil {
		m = map[string]struct{}{}
		ch[key] = m
	}
	m[slot] = struct{}{}
}

func (ch changeset) keys() []string {
	out := make([]string, 0, len(ch))
	for k := range ch {
		out = append(out, string(k))
	}
	return out
}

// finish publishes the write event and delivers pushes. Must be called
// after the lock is released.
func (c *Cache) finish(ctx context.Context, ch changeset, pushes []push) {
	if len(ch) > 0 {
		eventbus.Publish(ctx, events.CacheWrite{Keys: ch.keys()})
	}
	c.deliver(ctx, pushes)
}
