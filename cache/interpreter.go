package cache

import (
	"fmt"

	events "github.com/arkestra/graphcache/internal/events"
	"github.com/arkestra/graphcache/selection"
)

// applyOperationsLocked walks a mutation response against the shape's
// list-operation markers and applies each one, recording successful changes
// in log. Failures are collected, not fatal: one bad marker never prevents
// the rest of the response from being committed.
func (c *Cache) applyOperationsLocked(fields []*selection.Field, payload map[string]any, ch changeset, snap *snapshot, log *[]events.ListChange) []error {
	var errs []error
	for _, f := range fields {
		raw, ok := payload[f.ResponseKey()]
		if !ok {
			continue
		}
		for _, op := range f.Operations {
			switch m := op.(type) {
			case selection.Insert:
				for _, obj := range payloadObjects(raw) {
					key := c.resolve(obj)
					if key == "" {
						errs = append(errs, fmt.Errorf("cache: insert into %q: payload object has no identity", m.List))
						continue
					}
					if err := c.insertListLocked(m.List, m.ParentID, key, obj, positionOf(m.Position), m.When, ch, snap); err != nil {
						errs = append(errs, err)
					} else {
						*log = append(*log, events.ListChange{List: m.List, Kind: "insert", Key: string(key)})
					}
				}
			case selection.Remove:
				for _, obj := range payloadObjects(raw) {
					key := c.resolve(obj)
					if key == "" {
						errs = append(errs, fmt.Errorf("cache: remove from %q: payload object has no identity", m.List))
						continue
					}
					if err := c.removeListLocked(m.List, m.ParentID, key, ch, snap); err != nil {
						errs = append(errs, err)
					} else {
						*log = append(*log, events.ListChange{List: m.List, Kind: "remove", Key: string(key)})
					}
				}
			case selection.Toggle:
				for _, obj := range payloadObjects(raw) {
					key := c.resolve(obj)
					if key == "" {
						errs = append(errs, fmt.Errorf("cache: toggle in %q: payload object has no identity", m.List))
						continue
					}
					if err := c.toggleListLocked(m.List, m.ParentID, key, obj, positionOf(m.Position), m.When, ch, snap); err != nil {
						errs = append(errs, err)
					} else {
						*log = append(*log, events.ListChange{List: m.List, Kind: "toggle", Key: string(key)})
					}
				}
			case selection.Delete:
				for _, key := range deleteTargets(c, m.TypeName, raw) {
					c.deleteEverywhereLocked(key, ch, snap)
					*log = append(*log, events.ListChange{Kind: "delete", Key: string(key)})
				}
			}
		}
		if f.Selection == nil {
			continue
		}
		for _, obj := range payloadObjects(raw) {
			errs = append(errs, c.applyOperationsLocked(f.Selection, obj, ch, snap, log)...)
		}
	}
	return errs
}

// payloadObjects flattens a response value into the objects a marker applies
// to: the object itself, or every object element of a list.
func payloadObjects(raw any) []map[string]any {
	switch t := raw.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// deleteTargets resolves the keys a delete marker names. The field value may
// be an id scalar, a list of id scalars, or (lists of) objects carrying
// their own identity.
func deleteTargets(c *Cache, typename string, raw any) []EntityKey {
	switch t := raw.(type) {
	case map[string]any:
		if key := c.resolve(t); key != "" {
			return []EntityKey{key}
		}
		return nil
	case []any:
		var out []EntityKey
		for _, e := range t {
			out = append(out, deleteTargets(c, typename, e)...)
		}
		return out
	default:
		if id := stringifyID(raw); id != "" {
			return []EntityKey{Key(typename, id)}
		}
	}
	return nil
}

func positionOf(p selection.Position) selection.Position {
	if p == "" {
		return selection.Append
	}
	return p
}
