package cache

import (
	"testing"

	"github.com/arkestra/graphcache/document"
	"github.com/arkestra/graphcache/selection"
)

// mustShape resolves an operation's selection shape and fails the test on
// error.
func mustShape(t *testing.T, source string, variables map[string]any) []*selection.Field {
	t.Helper()
	op, err := document.Resolve(source, "", variables)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	return op.Shape
}

// recorder is a sink capturing every push.
type recorder struct {
	results []Result
}

func (r *recorder) sink() Sink {
	return func(res Result) { r.results = append(r.results, res) }
}

func (r *recorder) count() int { return len(r.results) }

func (r *recorder) last(t *testing.T) Result {
	t.Helper()
	if len(r.results) == 0 {
		t.Fatalf("no pushes recorded")
	}
	return r.results[len(r.results)-1]
}

// itemsData builds the canonical test payload: a root "items" list of Item
// records.
func itemsData(items ...map[string]any) map[string]any {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return map[string]any{"items": list}
}

func item(id, text string, completed bool) map[string]any {
	return map[string]any{"__typename": "Item", "id": id, "text": text, "completed": completed}
}

// listTexts extracts the "text" column of a pushed items list.
func listTexts(t *testing.T, res Result) []string {
	t.Helper()
	items, _ := res.Data["items"].([]any)
	out := make([]string, 0, len(items))
	for _, e := range items {
		m, _ := e.(map[string]any)
		s, _ := m["text"].(string)
		out = append(out, s)
	}
	return out
}

// listIDs extracts the "id" column of a pushed items list.
func listIDs(t *testing.T, res Result) []string {
	t.Helper()
	items, _ := res.Data["items"].([]any)
	out := make([]string, 0, len(items))
	for _, e := range items {
		m, _ := e.(map[string]any)
		s, _ := m["id"].(string)
		out = append(out, s)
	}
	return out
}
