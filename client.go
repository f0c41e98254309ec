// Package graphcache is a client-side normalized cache and mutation engine
// for GraphQL applications. A Client owns one cache instance and one
// transport; queries and fragments subscribe to overlapping slices of the
// cached data and every merge (network responses, optimistic mutation
// results, list operations) is pushed to exactly the subscribers it affects.
package graphcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arkestra/graphcache/cache"
	"github.com/arkestra/graphcache/document"
	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	opid "github.com/arkestra/graphcache/internal/opid"
	"github.com/arkestra/graphcache/selection"
	"github.com/arkestra/graphcache/transport"
)

// Result is the derived value pushed to subscribers.
type Result = cache.Result

// Sink receives derived values on change.
type Sink = cache.Sink

// Client ties a cache instance to a transport.
type Client struct {
	cache   *cache.Cache
	tp      transport.Transport
	flights singleflight.Group
}

// Option configures a Client.
type Option func(*[]cache.Option)

// WithIDFields sets the id-like field names tried for a typename, in order.
func WithIDFields(typename string, fields ...string) Option {
	return func(opts *[]cache.Option) { *opts = append(*opts, cache.WithIDFields(typename, fields...)) }
}

// WithDefaultIDFields sets the id field names for types without an explicit
// configuration.
func WithDefaultIDFields(fields ...string) Option {
	return func(opts *[]cache.Option) { *opts = append(*opts, cache.WithDefaultIDFields(fields...)) }
}

// New creates a client around the given transport.
func New(tp transport.Transport, opts ...Option) *Client {
	var cacheOpts []cache.Option
	for _, o := range opts {
		o(&cacheOpts)
	}
	return &Client{cache: cache.New(cacheOpts...), tp: tp}
}

// Cache exposes the underlying cache for direct reads, imperative list
// operations and entity deletes.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Handle is an active query or fragment binding. Unsubscribe tears it down;
// a change notification racing with the teardown is dropped.
type Handle struct {
	c *Client
	h *cache.Handle
}

// Unsubscribe removes the binding from the cache.
func (h *Handle) Unsubscribe() {
	if h != nil {
		h.c.cache.Unsubscribe(h.h)
	}
}

// Query fetches the operation over the transport, merges the response and
// subscribes sink to the derived value. The returned Result is the value at
// subscription time; later changes arrive through sink. Identical concurrent
// fetches share one round trip.
func (c *Client) Query(ctx context.Context, source string, variables map[string]any, sink Sink) (*Handle, Result, error) {
	op, err := document.Resolve(source, "", variables)
	if err != nil {
		return nil, Result{}, err
	}
	ctx, _ = opid.NewContext(ctx)

	key := source + "\x00" + selection.ArgumentSignature(variables)
	v, err, _ := c.flights.Do(key, func() (any, error) {
		return c.tp.Roundtrip(ctx, transport.Request{Query: source, OperationName: op.Name, Variables: variables})
	})
	if err != nil {
		return nil, Result{}, err
	}
	resp := v.(*transport.Response)
	if errList := resp.ErrorList(); errList != nil {
		return nil, Result{}, errList
	}

	if err := c.cache.WriteQuery(ctx, op.Shape, resp.Data); err != nil {
		return nil, Result{}, err
	}
	h, res := c.cache.Subscribe(cache.Root, op.Shape, sink)
	return &Handle{c: c, h: h}, res, nil
}

// ReadQuery derives the operation's value from the cache without touching
// the network.
func (c *Client) ReadQuery(source string, variables map[string]any) (Result, error) {
	op, err := document.Resolve(source, "", variables)
	if err != nil {
		return Result{}, err
	}
	return c.cache.Read(cache.Root, op.Shape), nil
}

// SubscribeFragment binds sink to a fragment anchored at one entity. No
// network request is made; the fragment reads whatever queries have cached.
func (c *Client) SubscribeFragment(typename, id, source, fragmentName string, variables map[string]any, sink Sink) (*Handle, Result, error) {
	shape, err := document.ResolveFragment(source, fragmentName, variables)
	if err != nil {
		return nil, Result{}, err
	}
	h, res := c.cache.Subscribe(cache.Key(typename, id), shape, sink)
	return &Handle{c: c, h: h}, res, nil
}

// MutateResult is a successful mutation's outcome. ListErrors holds
// list-operation failures that were isolated from the merge (unknown or
// ambiguous lists); the entity data committed regardless.
type MutateResult struct {
	Data       map[string]any
	ListErrors []error
}

// MutateOptions configures one mutation call.
type MutateOptions struct {
	OptimisticResponse map[string]any
}

// MutateOption mutates MutateOptions.
type MutateOption func(*MutateOptions)

// WithOptimisticResponse applies the given guess at the mutation's result to
// the cache before the network confirms it. On failure the write is rolled
// back to the exact prior values.
func WithOptimisticResponse(data map[string]any) MutateOption {
	return func(o *MutateOptions) { o.OptimisticResponse = data }
}

// Mutate runs the mutation pipeline: optional optimistic apply, network
// dispatch, then commit or rollback. It returns the server data on success
// and a *MutationError on failure.
func (c *Client) Mutate(ctx context.Context, source string, variables map[string]any, opts ...MutateOption) (*MutateResult, error) {
	var opt MutateOptions
	for _, f := range opts {
		f(&opt)
	}
	op, err := document.Resolve(source, "", variables)
	if err != nil {
		return nil, err
	}
	if op.Type != "mutation" {
		return nil, fmt.Errorf("graphcache: %q is not a mutation", op.Name)
	}
	ctx, _ = opid.NewContext(ctx)

	start := time.Now()
	eventbus.Publish(ctx, events.MutationStart{OperationName: op.Name, Optimistic: opt.OptimisticResponse != nil})

	var pending *cache.PendingMutation
	if opt.OptimisticResponse != nil {
		pending, _ = c.cache.ApplyOptimistic(ctx, op.Shape, opt.OptimisticResponse)
	}

	resp, err := c.tp.Roundtrip(ctx, transport.Request{Query: source, OperationName: op.Name, Variables: variables})
	var merr *MutationError
	if err != nil {
		merr = &MutationError{Operation: op.Name, Err: err}
	} else if len(resp.Errors) > 0 {
		merr = &MutationError{Operation: op.Name, Errors: resp.Errors}
	}
	if merr != nil {
		if pending != nil {
			pending.Rollback(ctx)
		}
		eventbus.Publish(ctx, events.MutationFinish{OperationName: op.Name, RolledBack: pending != nil, Err: merr, Duration: time.Since(start)})
		return nil, merr
	}

	var report *cache.CommitReport
	if pending != nil {
		report = pending.Commit(ctx, resp.Data)
	} else {
		report = c.cache.CommitMutation(ctx, op.Shape, resp.Data)
	}
	eventbus.Publish(ctx, events.MutationFinish{OperationName: op.Name, Duration: time.Since(start)})
	return &MutateResult{Data: resp.Data, ListErrors: report.ListErrors}, nil
}
