package cache

import (
	"context"
	"reflect"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	"github.com/arkestra/graphcache/selection"
)

// listFamily groups every registration of one list name. Several handles
// under one name is the @parentID case: the same list appearing under
// distinct parent records.
type listFamily struct {
	name    string
	refs    int
	handles []*listHandle
}

// listHandle is one concrete location of a named list: a slot on an anchor
// record. Membership and order live in that slot as []any of Links; filters
// are the argument values the list was queried with, consulted as predicate
// fallback.
type listHandle struct {
	anchor  EntityKey
	slot    string
	filters map[string]any
}

func (c *Cache) registerListLocked(name string, anchor EntityKey, slot string, filters map[string]any) error {
	fam := c.lists[name]
	if fam == nil {
		fam = &listFamily{name: name}
		c.lists[name] = fam
	}
	for _, h := range fam.handles {
		if h.anchor != anchor {
			continue
		}
		if h.slot != slot || !reflect.DeepEqual(h.filters, filters) {
			return &DuplicateListRegistrationError{List: name, Anchor: anchor}
		}
		return nil
	}
	fam.handles = append(fam.handles, &listHandle{anchor: anchor, slot: slot, filters: filters})
	return nil
}

// resolveListLocked picks the handle a list operation targets. A single
// registration wins outright; several registrations need a parent id to
// disambiguate.
func (c *Cache) resolveListLocked(name, parentID string) (*listHandle, error) {
	fam := c.lists[name]
	if fam == nil || len(fam.handles) == 0 {
		return nil, &ListResolutionError{List: name, ParentID: parentID, Reason: "not registered"}
	}
	if len(fam.handles) == 1 && parentID == "" {
		return fam.handles[0], nil
	}
	if parentID == "" {
		return nil, &ListResolutionError{List: name, Reason: "several anchors and no parent id"}
	}
	for _, h := range fam.handles {
		if h.anchor.ID() == parentID || string(h.anchor) == parentID {
			return h, nil
		}
	}
	return nil, &ListResolutionError{List: name, ParentID: parentID, Reason: "no anchor matches parent id"}
}

// insertListLocked appends or prepends key to the named list. Inserting an
// already-present key is a no-op, as is a candidate failing the predicate.
func (c *Cache) insertListLocked(name, parentID string, key EntityKey, candidate map[string]any, pos selection.Position, pred *selection.Predicate, ch changeset, snap *snapshot) error {
	h, err := c.resolveListLocked(name, parentID)
	if err != nil {
		return err
	}
	if !pred.Accept(candidate, h.filters) {
		return nil
	}
	rec, ok := c.records[h.anchor]
	if !ok {
		return &ListResolutionError{List: name, ParentID: parentID, Reason: "anchor record missing"}
	}
	prev, existed := rec[h.slot]
	members, _ := prev.([]any)
	for _, m := range members {
		if l, ok := m.(Link); ok && l.Key == key {
			return nil
		}
	}
	next := make([]any, 0, len(members)+1)
	if pos == selection.Prepend {
		next = append(next, Link{Key: key})
		next = append(next, members...)
	} else {
		next = append(next, members...)
		next = append(next, Link{Key: key})
	}
	if snap != nil {
		snap.captureSlot(h.anchor, h.slot, prev, existed)
	}
	rec[h.slot] = next
	ch.add(h.anchor, h.slot)
	return nil
}

// removeListLocked drops key from the named list; absent keys are a no-op.
func (c *Cache) removeListLocked(name, parentID string, key EntityKey, ch changeset, snap *snapshot) error {
	h, err := c.resolveListLocked(name, parentID)
	if err != nil {
		return err
	}
	c.removeMemberLocked(h, key, ch, snap)
	return nil
}

func (c *Cache) removeMemberLocked(h *listHandle, key EntityKey, ch changeset, snap *snapshot) {
	rec, ok := c.records[h.anchor]
	if !ok {
		return
	}
	prev, existed := rec[h.slot]
	members, _ := prev.([]any)
	found := false
	next := make([]any, 0, len(members))
	for _, m := range members {
		if l, ok := m.(Link); ok && l.Key == key {
			found = true
			continue
		}
		next = append(next, m)
	}
	if !found {
		return
	}
	if snap != nil {
		snap.captureSlot(h.anchor, h.slot, prev, existed)
	}
	rec[h.slot] = next
	ch.add(h.anchor, h.slot)
}

// toggleListLocked makes exactly one membership transition: removal when
// present, insertion otherwise.
func (c *Cache) toggleListLocked(name, parentID string, key EntityKey, candidate map[string]any, pos selection.Position, pred *selection.Predicate, ch changeset, snap *snapshot) error {
	h, err := c.resolveListLocked(name, parentID)
	if err != nil {
		return err
	}
	if rec, ok := c.records[h.anchor]; ok {
		members, _ := rec[h.slot].([]any)
		for _, m := range members {
			if l, ok := m.(Link); ok && l.Key == key {
				c.removeMemberLocked(h, key, ch, snap)
				return nil
			}
		}
	}
	return c.insertListLocked(name, parentID, key, candidate, pos, pred, ch, snap)
}

// InsertList adds key to the named list from application code, outside any
// mutation response. parentID may be empty when the name is unambiguous.
func (c *Cache) InsertList(ctx context.Context, name, parentID string, key EntityKey, pos selection.Position) error {
	c.mu.Lock()
	ch := changeset{}
	rec := c.records[key]
	err := c.insertListLocked(name, parentID, key, publicView(rec), pos, nil, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	if err == nil && len(ch) > 0 {
		eventbus.Publish(ctx, events.ListChange{List: name, Kind: "insert", Key: string(key)})
	}
	c.finish(ctx, ch, pushes)
	return err
}

// RemoveList removes key from the named list from application code.
func (c *Cache) RemoveList(ctx context.Context, name, parentID string, key EntityKey) error {
	c.mu.Lock()
	ch := changeset{}
	err := c.removeListLocked(name, parentID, key, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	if err == nil && len(ch) > 0 {
		eventbus.Publish(ctx, events.ListChange{List: name, Kind: "remove", Key: string(key)})
	}
	c.finish(ctx, ch, pushes)
	return err
}

// ToggleList flips key's membership in the named list from application code.
func (c *Cache) ToggleList(ctx context.Context, name, parentID string, key EntityKey, pos selection.Position) error {
	c.mu.Lock()
	ch := changeset{}
	rec := c.records[key]
	err := c.toggleListLocked(name, parentID, key, publicView(rec), pos, nil, ch, nil)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	if err == nil && len(ch) > 0 {
		eventbus.Publish(ctx, events.ListChange{List: name, Kind: "toggle", Key: string(key)})
	}
	c.finish(ctx, ch, pushes)
	return err
}

// publicView exposes a record's scalar slots for predicate evaluation.
func publicView(rec Record) map[string]any {
	if rec == nil {
		return nil
	}
	return map[string]any(rec)
}
