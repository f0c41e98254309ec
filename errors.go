package graphcache

import (
	"strings"

	"github.com/arkestra/graphcache/transport"
)

// MutationError is returned when a mutation fails: either the transport
// failed outright (Err) or the server answered with GraphQL errors
// (Errors). Any optimistic write has been rolled back by the time the
// caller sees it.
type MutationError struct {
	Operation string
	Errors    []transport.Error
	Err       error
}

func (e *MutationError) Error() string {
	if e.Err != nil {
		return "graphcache: mutation " + e.Operation + ": " + e.Err.Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return "graphcache: mutation " + e.Operation + ": " + strings.Join(msgs, "; ")
}

func (e *MutationError) Unwrap() error { return e.Err }
