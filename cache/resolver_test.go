package cache

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestResolveRequiresTypenameAndID(t *testing.T) {
	c := New()
	if got := c.resolve(map[string]any{"id": "1"}); got != "" {
		t.Fatalf("object without __typename resolved to %q", got)
	}
	if got := c.resolve(map[string]any{"__typename": "Item"}); got != "" {
		t.Fatalf("object without id resolved to %q", got)
	}
	if got := c.resolve(map[string]any{"__typename": "Item", "id": "1"}); got != Key("Item", "1") {
		t.Fatalf("got %q", got)
	}
}

func TestResolveNumericID(t *testing.T) {
	c := New()
	// JSON decoding yields float64 ids.
	if got := c.resolve(map[string]any{"__typename": "Item", "id": float64(7)}); got != Key("Item", "7") {
		t.Fatalf("got %q", got)
	}
}

func TestResolveCustomIDFields(t *testing.T) {
	c := New(WithIDFields("User", "username"))
	if got := c.resolve(map[string]any{"__typename": "User", "username": "ada"}); got != Key("User", "ada") {
		t.Fatalf("got %q", got)
	}
	// Other types keep the default.
	if got := c.resolve(map[string]any{"__typename": "Item", "id": "1"}); got != Key("Item", "1") {
		t.Fatalf("got %q", got)
	}
}

func TestResolveDefaultIDFieldOrder(t *testing.T) {
	c := New(WithDefaultIDFields("uuid", "id"))
	if got := c.resolve(map[string]any{"__typename": "Item", "uuid": "x", "id": "1"}); got != Key("Item", "x") {
		t.Fatalf("got %q", got)
	}
}

func TestUnidentifiableObjectsDoNotShare(t *testing.T) {
	c := New()
	ctx := context.Background()

	// The same anonymous value object cached under two parents yields
	// independent inline copies; updating one leaves the other untouched.
	shape := mustShape(t, `query {
		a: item(id: 1) { __typename id stats { views } }
		b: item(id: 2) { __typename id stats { views } }
	}`, nil)
	require.NoError(t, c.WriteQuery(ctx, shape, map[string]any{
		"a": map[string]any{"__typename": "Item", "id": "1", "stats": map[string]any{"views": float64(1)}},
		"b": map[string]any{"__typename": "Item", "id": "2", "stats": map[string]any{"views": float64(1)}},
	}))

	update := mustShape(t, `query { a: item(id: 1) { __typename id stats { views } } }`, nil)
	require.NoError(t, c.WriteQuery(ctx, update, map[string]any{
		"a": map[string]any{"__typename": "Item", "id": "1", "stats": map[string]any{"views": float64(9)}},
	}))

	got := c.Read(Root, shape)
	want := map[string]any{
		"a": map[string]any{"__typename": "Item", "id": "1", "stats": map[string]any{"views": float64(9)}},
		"b": map[string]any{"__typename": "Item", "id": "2", "stats": map[string]any{"views": float64(1)}},
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Fatalf("Data mismatch (-want +got):\n%s", diff)
	}
}
