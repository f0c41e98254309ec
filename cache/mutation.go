package cache

import (
	"context"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	opid "github.com/arkestra/graphcache/internal/opid"
	"github.com/arkestra/graphcache/selection"
)

// PendingMutation tracks an optimistic write between apply and
// commit-or-rollback. The snapshot holds the exact prior value of every slot
// the write touched; rollback restores those values verbatim, even when an
// unrelated write landed on the same slot in the interim. That clobbering is
// a documented limitation of the rollback-wins policy.
type PendingMutation struct {
	c     *Cache
	id    string
	shape []*selection.Field
	snap  *snapshot
	done  bool
}

// ID returns the pending mutation's correlation id.
func (p *PendingMutation) ID() string { return p.id }

// CommitReport summarizes a committed (or optimistically applied) response
// merge. List failures — operations that could not be applied and
// registration conflicts found in the shape — are isolated per operation:
// they are reported here but never abort the entity merge itself.
type CommitReport struct {
	ChangedKeys []string
	ListErrors  []error
}

// ApplyOptimistic merges a caller-supplied guess at a mutation's result
// through the same store and list path a real response takes, recording
// prior values for rollback, and notifies affected subscribers immediately.
func (c *Cache) ApplyOptimistic(ctx context.Context, shape []*selection.Field, payload map[string]any) (*PendingMutation, *CommitReport) {
	p := &PendingMutation{c: c, id: opid.New(), shape: shape, snap: newSnapshot()}
	c.mu.Lock()
	ch := changeset{}
	var listLog []events.ListChange
	var listErrs []error
	if err := c.writeSelectionLocked(Root, shape, payload, ch, p.snap); err != nil {
		listErrs = append(listErrs, err)
	}
	listErrs = append(listErrs, c.applyOperationsLocked(shape, payload, ch, p.snap, &listLog)...)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	for _, ev := range listLog {
		eventbus.Publish(ctx, ev)
	}
	c.finish(ctx, ch, pushes)
	return p, &CommitReport{ChangedKeys: ch.keys(), ListErrors: listErrs}
}

// CommitMutation merges a confirmed mutation response and runs the
// list-operation markers found in the shape. Later writes win field by
// field over any optimistic values.
func (c *Cache) CommitMutation(ctx context.Context, shape []*selection.Field, data map[string]any) *CommitReport {
	c.mu.Lock()
	ch := changeset{}
	var listLog []events.ListChange
	var listErrs []error
	if err := c.writeSelectionLocked(Root, shape, data, ch, nil); err != nil {
		listErrs = append(listErrs, err)
	}
	listErrs = append(listErrs, c.applyOperationsLocked(shape, data, ch, nil, &listLog)...)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	for _, ev := range listLog {
		eventbus.Publish(ctx, ev)
	}
	c.finish(ctx, ch, pushes)
	return &CommitReport{ChangedKeys: ch.keys(), ListErrors: listErrs}
}

// Commit confirms the mutation with the server's response and discards the
// snapshot.
func (p *PendingMutation) Commit(ctx context.Context, data map[string]any) *CommitReport {
	if p.done {
		return &CommitReport{}
	}
	p.done = true
	p.snap = nil
	return p.c.CommitMutation(ctx, p.shape, data)
}

// Rollback restores every captured value to its state at apply time and
// notifies affected subscribers.
func (p *PendingMutation) Rollback(ctx context.Context) {
	if p.done {
		return
	}
	p.done = true
	c := p.c
	c.mu.Lock()
	ch := p.snap.restore(c)
	pushes := c.collectPushesLocked(ch)
	c.mu.Unlock()
	c.finish(ctx, ch, pushes)
}

type slotState struct {
	value   any
	existed bool
}

// snapshot captures the store state a pending mutation is about to
// overwrite: prior slot values (including absence), records it created and
// records it deleted.
type snapshot struct {
	slots   map[EntityKey]map[string]slotState
	created map[EntityKey]struct{}
	deleted map[EntityKey]Record
}

func newSnapshot() *snapshot {
	return &snapshot{
		slots:   map[EntityKey]map[string]slotState{},
		created: map[EntityKey]struct{}{},
		deleted: map[EntityKey]Record{},
	}
}

// captureSlot records the first prior value seen for (key, slot). Slots of
// records created by this mutation are not captured; the whole record goes
// away on rollback.
func (s *snapshot) captureSlot(key EntityKey, slot string, prev any, existed bool) {
	if _, ok := s.created[key]; ok {
		return
	}
	m := s.slots[key]
	if m == nil {
		m = map[string]slotState{}
		s.slots[key] = m
	}
	if _, ok := m[slot]; ok {
		return
	}
	m[slot] = slotState{value: prev, existed: existed}
}

func (s *snapshot) captureCreate(key EntityKey) {
	s.created[key] = struct{}{}
}

func (s *snapshot) captureDelete(key EntityKey, rec Record) {
	if _, ok := s.deleted[key]; !ok {
		s.deleted[key] = rec
	}
}

// restore puts every captured value back and returns the slots it touched.
// Restore order matters: deleted records come back first, then slot values,
// then records created by the mutation are dropped.
func (s *snapshot) restore(c *Cache) changeset {
	ch := changeset{}
	for key, rec := range s.deleted {
		c.records[key] = rec
		for slot := range rec {
			ch.add(key, slot)
		}
		for slot := range c.deps[key] {
			ch.add(key, slot)
		}
	}
	for key, slots := range s.slots {
		rec, ok := c.records[key]
		if !ok {
			continue
		}
		for slot, st := range slots {
			if st.existed {
				rec[slot] = st.value
			} else {
				delete(rec, slot)
			}
			ch.add(key, slot)
		}
	}
	for key := range s.created {
		rec, ok := c.records[key]
		if !ok {
			continue
		}
		for slot := range rec {
			ch.add(key, slot)
		}
		for slot := range c.deps[key] {
			ch.add(key, slot)
		}
		delete(c.records, key)
	}
	return ch
}
