// Package transport carries GraphQL operations to a server. The cache core
// depends only on the Transport interface; HTTP and websocket
// implementations live here.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoData indicates a response carried neither data nor errors.
	ErrNoData = errors.New("transport: response has no data")
)

// Request is one executable GraphQL operation.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Error is a GraphQL error as carried in a response.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e Error) Error() string { return e.Message }

// Response is the server's answer. Errors being non-empty is treated as
// operation failure by the mutation pipeline.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []Error        `json:"errors,omitempty"`
}

// ErrorList joins the response's GraphQL errors into one error value, or
// nil when there are none.
func (r *Response) ErrorList() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return fmt.Errorf("transport: %s", strings.Join(msgs, "; "))
}

// Transport executes a request and returns the server's response. A non-nil
// error means the request never produced a usable response (network
// failure, protocol error); GraphQL errors come back inside the Response.
type Transport interface {
	Roundtrip(ctx context.Context, req Request) (*Response, error)
}
