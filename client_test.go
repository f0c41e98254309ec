package graphcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arkestra/graphcache/transport"
)

const itemsQuery = `query AllItems { items @list(name: "All_Items") { __typename id text completed } }`

func itemPayload(id, text string, completed bool) map[string]any {
	return map[string]any{"__typename": "Item", "id": id, "text": text, "completed": completed}
}

func itemsPayload(items ...map[string]any) map[string]any {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return map[string]any{"items": list}
}

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) sink() Sink {
	return func(res Result) {
		r.mu.Lock()
		r.results = append(r.results, res)
		r.mu.Unlock()
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *recorder) last(t *testing.T) Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		t.Fatalf("no pushes recorded")
	}
	return r.results[len(r.results)-1]
}

func TestQueryThenMutateUpdatesSubscribers(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "milk", false), itemPayload("2", "bread", false)))
	tp.QueueData(itemsPayload(itemPayload("1", "milk", false)))
	tp.QueueData(map[string]any{
		"toggleItem": map[string]any{"item": itemPayload("1", "milk", true)},
	})
	c := New(tp)
	ctx := context.Background()

	var full, narrow recorder
	hFull, initial, err := c.Query(ctx, itemsQuery, nil, full.sink())
	require.NoError(t, err)
	defer hFull.Unsubscribe()
	require.Len(t, initial.Data["items"], 2)

	hNarrow, _, err := c.Query(ctx, `query { items(completed: false) { __typename id completed } }`, nil, narrow.sink())
	require.NoError(t, err)
	defer hNarrow.Unsubscribe()

	// The mutation touches Item:1, which both queries select.
	res, err := c.Mutate(ctx, `mutation ToggleItem {
		toggleItem { item { __typename id completed } }
	}`, nil)
	require.NoError(t, err)
	require.Empty(t, res.ListErrors)

	require.Equal(t, 1, full.count())
	require.Equal(t, 1, narrow.count())
	items := full.last(t).Data["items"].([]any)
	require.Equal(t, true, items[0].(map[string]any)["completed"])
}

func TestQueryReturnsGraphQLErrors(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueErrors(transport.Error{Message: "denied"})
	c := New(tp)

	_, _, err := c.Query(context.Background(), itemsQuery, nil, func(Result) {})
	require.Error(t, err)
}

func TestReadQueryDoesNotTouchNetwork(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "milk", false)))
	c := New(tp)
	ctx := context.Background()

	h, _, err := c.Query(ctx, itemsQuery, nil, func(Result) {})
	require.NoError(t, err)
	defer h.Unsubscribe()

	got, err := c.ReadQuery(`query { items { text } }`, nil)
	require.NoError(t, err)
	want := map[string]any{"items": []any{map[string]any{"text": "milk"}}}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, tp.Calls(), 1)
}

func TestMutateFailureRollsBackOptimisticWrite(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "a", false), itemPayload("2", "b", false)))
	tp.QueueFailure(fmt.Errorf("network down"))
	c := New(tp)
	ctx := context.Background()

	var rec recorder
	h, before, err := c.Query(ctx, itemsQuery, nil, rec.sink())
	require.NoError(t, err)
	defer h.Unsubscribe()

	_, err = c.Mutate(ctx, `mutation AddItem {
		addItem { item @insert(list: "All_Items") { __typename id text completed } }
	}`, nil, WithOptimisticResponse(map[string]any{
		"addItem": map[string]any{"item": itemPayload("3", "c", false)},
	}))
	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "AddItem", merr.Operation)

	// Optimistic apply pushed once, rollback pushed the restored value.
	require.Equal(t, 2, rec.count())
	after, err := c.ReadQuery(itemsQuery, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("rollback did not restore state (-before +after):\n%s", diff)
	}
}

func TestMutateServerErrorsRollBack(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "a", false)))
	tp.QueueErrors(transport.Error{Message: "validation failed"})
	c := New(tp)
	ctx := context.Background()

	h, before, err := c.Query(ctx, itemsQuery, nil, func(Result) {})
	require.NoError(t, err)
	defer h.Unsubscribe()

	_, err = c.Mutate(ctx, `mutation AddItem {
		addItem { item @insert(list: "All_Items") { __typename id text completed } }
	}`, nil, WithOptimisticResponse(map[string]any{
		"addItem": map[string]any{"item": itemPayload("9", "x", false)},
	}))
	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)

	after, err := c.ReadQuery(itemsQuery, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(before.Data, after.Data); diff != "" {
		t.Fatalf("rollback did not restore state (-before +after):\n%s", diff)
	}
}

func TestMutateReportsListErrors(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(map[string]any{
		"addItem": map[string]any{"item": itemPayload("1", "a", false)},
	})
	c := New(tp)

	res, err := c.Mutate(context.Background(), `mutation AddItem {
		addItem { item @insert(list: "Never_Registered") { __typename id text completed } }
	}`, nil)
	require.NoError(t, err)
	require.Len(t, res.ListErrors, 1)

	// The entity itself still committed.
	_, initial, err := c.SubscribeFragment("Item", "1", `fragment ItemText on Item { text }`, "ItemText", nil, func(Result) {})
	require.NoError(t, err)
	require.Equal(t, "a", initial.Data["text"])
}

func TestMutateRejectsNonMutation(t *testing.T) {
	c := New(transport.NewMockTransport())
	_, err := c.Mutate(context.Background(), `query Q { item { id } }`, nil)
	require.Error(t, err)
}

func TestSubscribeFragmentTracksEntity(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "milk", false)))
	tp.QueueData(map[string]any{
		"renameItem": map[string]any{"item": map[string]any{"__typename": "Item", "id": "1", "text": "oat milk"}},
	})
	c := New(tp)
	ctx := context.Background()

	h, _, err := c.Query(ctx, itemsQuery, nil, func(Result) {})
	require.NoError(t, err)
	defer h.Unsubscribe()

	var rec recorder
	fh, initial, err := c.SubscribeFragment("Item", "1", `fragment ItemRow on Item {
		text
		completed
	}`, "ItemRow", nil, rec.sink())
	require.NoError(t, err)
	defer fh.Unsubscribe()
	require.Equal(t, "milk", initial.Data["text"])

	_, err = c.Mutate(ctx, `mutation RenameItem {
		renameItem { item { __typename id text } }
	}`, nil)
	require.NoError(t, err)

	require.Equal(t, 1, rec.count())
	require.Equal(t, "oat milk", rec.last(t).Data["text"])
}

// gateTransport blocks every roundtrip until released and counts calls.
type gateTransport struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (g *gateTransport) Roundtrip(ctx context.Context, req transport.Request) (*transport.Response, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return &transport.Response{Data: itemsPayload(itemPayload("1", "a", false))}, nil
}

func TestConcurrentIdenticalQueriesShareOneRoundtrip(t *testing.T) {
	tp := &gateTransport{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(tp)
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _, err := c.Query(ctx, itemsQuery, nil, func(Result) {})
			errs <- err
			if h != nil {
				h.Unsubscribe()
			}
		}()
	}

	<-tp.entered
	// Give the second caller time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(tp.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), tp.calls.Load())
}

func TestDistinctVariablesDoNotShareFlights(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.QueueData(itemsPayload(itemPayload("1", "a", false)))
	tp.QueueData(itemsPayload(itemPayload("1", "a", false), itemPayload("2", "b", false)))
	c := New(tp)
	ctx := context.Background()

	src := `query Page($first: Int) { items(first: $first) { __typename id text } }`
	h1, _, err := c.Query(ctx, src, map[string]any{"first": float64(1)}, func(Result) {})
	require.NoError(t, err)
	defer h1.Unsubscribe()
	h2, _, err := c.Query(ctx, src, map[string]any{"first": float64(2)}, func(Result) {})
	require.NoError(t, err)
	defer h2.Unsubscribe()

	require.Len(t, tp.Calls(), 2)
}
