package cache

import (
	"context"

	"github.com/google/go-cmp/cmp"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	opid "github.com/arkestra/graphcache/internal/opid"
	"github.com/arkestra/graphcache/selection"
)

// Result is the derived value of a selection shape. Partial is set when a
// required record or slot was missing from the store; the corresponding
// fields resolve to nil and the sink decides how to render.
type Result struct {
	Data    map[string]any
	Partial bool
}

// Sink receives derived values. It is called only when the value actually
// changed since the last push.
type Sink func(Result)

// Handle identifies an active subscription.
type Handle struct {
	id string
}

type subscription struct {
	id     string
	anchor EntityKey
	shape  []*selection.Field
	sink   Sink
	deps   map[EntityKey]map[string]struct{}
	last   Result
	lists  []string
}

type push struct {
	id   string
	sink Sink
	res  Result
}

// Subscribe registers a selection shape anchored at the given record (Root
// for queries, an entity key for fragments) and returns its handle together
// with the current derived value. Subsequent changes to any dependency are
// pushed to sink.
func (c *Cache) Subscribe(anchor EntityKey, shape []*selection.Field, sink Sink) (*Handle, Result) {
	sub := &subscription{
		id:     opid.New(),
		anchor: anchor,
		shape:  shape,
		sink:   sink,
		deps:   map[EntityKey]map[string]struct{}{},
		lists:  declaredLists(shape),
	}
	c.mu.Lock()
	c.subs[sub.id] = sub
	for _, name := range sub.lists {
		fam := c.lists[name]
		if fam == nil {
			fam = &listFamily{name: name}
			c.lists[name] = fam
		}
		fam.refs++
	}
	res := c.evaluateLocked(sub)
	sub.last = res
	c.mu.Unlock()
	return &Handle{id: sub.id}, res
}

// Unsubscribe tears the subscription down. List registrations it declared
// are dropped once no other subscription references the same name. A
// notification racing with the teardown is simply dropped.
func (c *Cache) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[h.id]
	if !ok {
		return
	}
	c.clearDepsLocked(sub)
	delete(c.subs, h.id)
	for _, name := range sub.lists {
		fam := c.lists[name]
		if fam == nil {
			continue
		}
		fam.refs--
		if fam.refs <= 0 {
			delete(c.lists, name)
		}
	}
}

// evaluateLocked re-derives the subscription's value, re-recording its
// dependency set. The recorded set is a superset of everything read.
func (c *Cache) evaluateLocked(sub *subscription) Result {
	c.clearDepsLocked(sub)
	partial := false
	data := c.readSelectionLocked(sub, sub.anchor, sub.shape, &partial)
	return Result{Data: data, Partial: partial}
}

func (c *Cache) readSelectionLocked(sub *subscription, key EntityKey, fields []*selection.Field, partial *bool) map[string]any {
	rec, ok := c.records[key]
	if !ok {
		*partial = true
		// Depend on the missing record so its arrival re-evaluates.
		for _, f := range fields {
			c.addDepLocked(sub, key, f.Slot())
		}
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		slot := f.Slot()
		c.addDepLocked(sub, key, slot)
		v, ok := rec[slot]
		if !ok {
			*partial = true
			out[f.ResponseKey()] = nil
			continue
		}
		out[f.ResponseKey()] = c.readValueLocked(sub, f, v, partial)
	}
	return out
}

func (c *Cache) readValueLocked(sub *subscription, f *selection.Field, v any, partial *bool) any {
	if f.Selection == nil {
		return v
	}
	switch t := v.(type) {
	case nil:
		return nil
	case Link:
		return c.readSelectionLocked(sub, t.Key, f.Selection, partial)
	case map[string]any:
		return c.readInlineLocked(sub, f.Selection, t, partial)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = c.readValueLocked(sub, f, e, partial)
		}
		return out
	default:
		return v
	}
}

func (c *Cache) readInlineLocked(sub *subscription, fields []*selection.Field, inline map[string]any, partial *bool) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := inline[f.Slot()]
		if !ok {
			*partial = true
			out[f.ResponseKey()] = nil
			continue
		}
		out[f.ResponseKey()] = c.readValueLocked(sub, f, v, partial)
	}
	return out
}

func (c *Cache) addDepLocked(sub *subscription, key EntityKey, slot string) {
	if sub == nil {
		return
	}
	m := sub.deps[key]
	if m == nil {
		m = map[string]struct{}{}
		sub.deps[key] = m
	}
	m[slot] = struct{}{}

	byKey := c.deps[key]
	if byKey == nil {
		byKey = map[string]map[string]*subscription{}
		c.deps[key] = byKey
	}
	bySlot := byKey[slot]
	if bySlot == nil {
		bySlot = map[string]*subscription{}
		byKey[slot] = bySlot
	}
	bySlot[sub.id] = sub
}

func (c *Cache) clearDepsLocked(sub *subscription) {
	for key, slots := range sub.deps {
		byKey := c.deps[key]
		for slot := range slots {
			bySlot := byKey[slot]
			delete(bySlot, sub.id)
			if len(bySlot) == 0 {
				delete(byKey, slot)
			}
		}
		if len(byKey) == 0 {
			delete(c.deps, key)
		}
	}
	sub.deps = map[EntityKey]map[string]struct{}{}
}

// collectPushesLocked re-evaluates every subscription whose dependency set
// intersects the changeset and returns the pushes whose value actually
// changed.
func (c *Cache) collectPushesLocked(ch changeset) []push {
	if len(ch) == 0 {
		return nil
	}
	affected := map[string]*subscription{}
	for key, slots := range ch {
		byKey := c.deps[key]
		if byKey == nil {
			continue
		}
		for slot := range slots {
			for id, sub := range byKey[slot] {
				affected[id] = sub
			}
		}
	}
	var pushes []push
	for _, sub := range affected {
		res := c.evaluateLocked(sub)
		if cmp.Equal(res.Data, sub.last.Data) && res.Partial == sub.last.Partial {
			continue
		}
		sub.last = res
		pushes = append(pushes, push{id: sub.id, sink: sub.sink, res: res})
	}
	return pushes
}

// deliver pushes outside the lock; a subscription torn down in between is
// skipped.
func (c *Cache) deliver(ctx context.Context, pushes []push) {
	for _, p := range pushes {
		c.mu.Lock()
		_, alive := c.subs[p.id]
		c.mu.Unlock()
		if !alive {
			continue
		}
		eventbus.Publish(ctx, events.SubscriptionPush{Subscription: p.id, Partial: p.res.Partial})
		p.sink(p.res)
	}
}

func declaredLists(fields []*selection.Field) []string {
	var names []string
	var walk func([]*selection.Field)
	walk = func(fs []*selection.Field) {
		for _, f := range fs {
			if f.List != nil {
				names = append(names, f.List.Name)
			}
			if f.Selection != nil {
				walk(f.Selection)
			}
		}
	}
	walk(fields)
	return names
}
