package cache

import (
	"context"
	"reflect"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	"github.com/arkestra/graphcache/selection"
)

// WriteQuery merges a query response into the store under the root record
// and notifies every affected subscription. List declarations found in the
// shape are registered as a side effect; a conflicting registration is
// returned but does not abort the merge.
func (c *Cache) WriteQuery(ctx context.Context, shape []*selection.Field, data map[string]any) error {
	c.mu.Lock()
	ch := changeset{}
	err := c.writeSelectionLocked(Root, shape, data, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	c.finish(ctx, ch, pushes)
	return err
}

// WriteFragment merges a payload for a single entity, anchored at key.
func (c *Cache) WriteFragment(ctx context.Context, key EntityKey, shape []*selection.Field, data map[string]any) error {
	c.mu.Lock()
	ch := changeset{}
	err := c.writeSelectionLocked(key, shape, data, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	c.finish(ctx, ch, pushes)
	return err
}

// writeSelectionLocked merges payload fields into the owner record. Fields
// absent from the payload are preserved. Every slot whose stored value
// actually changes is added to ch; snap, when non-nil, captures prior values
// for rollback.
func (c *Cache) writeSelectionLocked(owner EntityKey, fields []*selection.Field, payload map[string]any, ch changeset, snap *snapshot) error {
	rec := c.ensureRecordLocked(owner, snap)
	var firstErr error
	for _, f := range fields {
		raw, ok := payload[f.ResponseKey()]
		if !ok {
			continue
		}
		slot := f.Slot()
		if f.List != nil {
			if err := c.registerListLocked(f.List.Name, owner, slot, f.Arguments); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		var stored any
		if f.Selection == nil {
			stored = raw
		} else {
			stored = c.normalizeValueLocked(f, raw, ch, snap)
		}
		prev, existed := rec[slot]
		if existed && reflect.DeepEqual(prev, stored) {
			continue
		}
		if snap != nil {
			snap.captureSlot(owner, slot, prev, existed)
		}
		rec[slot] = stored
		ch.add(owner, slot)
	}
	return firstErr
}

// normalizeValueLocked turns a response value under an object-valued field
// into its stored form: a Link for identifiable objects (recursively merged
// into their own record), an inline map for anonymous ones, or a slice of
// either.
func (c *Cache) normalizeValueLocked(f *selection.Field, raw any, ch changeset, snap *snapshot) any {
	switch t := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return c.normalizeObjectLocked(f.Selection, t, ch, snap)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = c.normalizeValueLocked(f, e, ch, snap)
		}
		return out
	default:
		return raw
	}
}

func (c *Cache) normalizeObjectLocked(fields []*selection.Field, obj map[string]any, ch changeset, snap *snapshot) any {
	if key := c.resolve(obj); key != "" {
		c.writeIdentityLocked(key, obj, ch, snap)
		_ = c.writeSelectionLocked(key, fields, obj, ch, snap)
		return Link{Key: key}
	}
	// Anonymous object: stored inline, slot-keyed like a record.
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := obj[f.ResponseKey()]
		if !ok {
			continue
		}
		if f.Selection == nil {
			out[f.Slot()] = raw
		} else {
			out[f.Slot()] = c.normalizeValueLocked(f, raw, ch, snap)
		}
	}
	return out
}

// writeIdentityLocked stores __typename and the matched id field so any
// subscriber can read them even when another query wrote the record.
func (c *Cache) writeIdentityLocked(key EntityKey, obj map[string]any, ch changeset, snap *snapshot) {
	rec := c.ensureRecordLocked(key, snap)
	set := func(slot string, v any) {
		prev, existed := rec[slot]
		if existed && reflect.DeepEqual(prev, v) {
			return
		}
		if snap != nil {
			snap.captureSlot(key, slot, prev, existed)
		}
		rec[slot] = v
		ch.add(key, slot)
	}
	set("__typename", key.Typename())
	if f, ok := c.idField(key.Typename(), obj); ok {
		set(f, obj[f])
	}
}

func (c *Cache) ensureRecordLocked(key EntityKey, snap *snapshot) Record {
	rec, ok := c.records[key]
	if !ok {
		rec = Record{}
		c.records[key] = rec
		if snap != nil {
			snap.captureCreate(key)
		}
	}
	return rec
}

// Read evaluates a selection shape against the current store without
// subscribing.
func (c *Cache) Read(anchor EntityKey, shape []*selection.Field) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	partial := false
	data := c.readSelectionLocked(nil, anchor, shape, &partial)
	return Result{Data: data, Partial: partial}
}

// Delete removes the record from the store and from every registered list,
// and returns the keys of records that held a link to it. Subscribers
// reading the entity or any affected list are re-evaluated; dangling links
// resolve as missing and flag their result partial.
func (c *Cache) Delete(ctx context.Context, key EntityKey) []EntityKey {
	c.mu.Lock()
	ch := changeset{}
	dependents := c.deleteEverywhereLocked(key, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	if len(ch) > 0 {
		eventbus.Publish(ctx, events.ListChange{Kind: "delete", Key: string(key)})
	}
	c.finish(ctx, ch, pushes)
	return dependents
}

func (c *Cache) deleteEverywhereLocked(key EntityKey, ch changeset, snap *snapshot) []EntityKey {
	rec, ok := c.records[key]
	if !ok {
		return nil
	}
	for _, fam := range c.lists {
		for _, h := range fam.handles {
			c.removeMemberLocked(h, key, ch, snap)
		}
	}
	// Invalidate every slot of the record itself plus whatever
	// subscriptions currently depend on.
	for slot := range rec {
		ch.add(key, slot)
	}
	for slot := range c.deps[key] {
		ch.add(key, slot)
	}
	var dependents []EntityKey
	for owner, r := range c.records {
		if owner == key {
			continue
		}
		if recordLinksTo(r, key) {
			dependents = append(dependents, owner)
		}
	}
	if snap != nil {
		snap.captureDelete(key, rec)
	}
	delete(c.records, key)
	return dependents
}

func recordLinksTo(rec Record, key EntityKey) bool {
	for _, v := range rec {
		if valueLinksTo(v, key) {
			return true
		}
	}
	return false
}

func valueLinksTo(v any, key EntityKey) bool {
	switch t := v.(type) {
	case Link:
		return t.Key == key
	case []any:
		for _, e := range t {
			if valueLinksTo(e, key) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if valueLinksTo(e, key) {
				return true
			}
		}
	}
	return false
}
