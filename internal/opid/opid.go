// Package opid issues correlation ids for operations (queries, mutations,
// subscriptions) and carries them through context so event subscribers can
// pair start/finish events.
package opid

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// key is the context key for the operation ID.
type key struct{}

// New returns a fresh lexicographically sortable operation id.
func New() string {
	return ulid.Make().String()
}

// NewContext returns a copy of parent with a new operation ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := New()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the operation ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(key{})
	id, ok := v.(string)
	return id, ok
}
