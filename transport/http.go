package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
)

// HTTPOptions configures the HTTP transport.
//
// Defaults:
// - Client:       http.DefaultClient
// - Timeout:      10s (used only if the incoming context has no deadline)
// - MaxBodyBytes: 0 (unlimited)
type HTTPOptions struct {
	Client       *http.Client
	Timeout      time.Duration
	MaxBodyBytes int64
	Headers      http.Header
}

// HTTPOption mutates HTTPOptions.
type HTTPOption func(*HTTPOptions)

func WithHTTPClient(c *http.Client) HTTPOption    { return func(o *HTTPOptions) { o.Client = c } }
func WithTimeout(d time.Duration) HTTPOption      { return func(o *HTTPOptions) { o.Timeout = d } }
func WithMaxBodyBytes(n int64) HTTPOption         { return func(o *HTTPOptions) { o.MaxBodyBytes = n } }
func WithHeader(name, value string) HTTPOption {
	return func(o *HTTPOptions) {
		if o.Headers == nil {
			o.Headers = http.Header{}
		}
		o.Headers.Add(name, value)
	}
}

// HTTP is a GraphQL-over-HTTP POST transport.
type HTTP struct {
	endpoint string
	opt      HTTPOptions
}

// NewHTTP creates an HTTP transport for the given endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	op := HTTPOptions{Client: http.DefaultClient, Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &HTTP{endpoint: endpoint, opt: op}
}

func (t *HTTP) Roundtrip(ctx context.Context, req Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && t.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opt.Timeout)
		defer cancel()
	}

	start := time.Now()
	eventbus.Publish(ctx, events.TransportStart{Kind: "http", URL: t.endpoint, OperationName: req.OperationName})
	res, err := t.roundtrip(ctx, req)
	fin := events.TransportFinish{Kind: "http", URL: t.endpoint, OperationName: req.OperationName, Err: err, Duration: time.Since(start)}
	if res != nil {
		fin.ErrorCount = len(res.Errors)
	}
	eventbus.Publish(ctx, fin)
	return res, err
}

func (t *HTTP) roundtrip(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json; charset=utf-8")
	hreq.Header.Set("Accept", "application/json")
	for k, vs := range t.opt.Headers {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	hres, err := t.opt.Client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hres.Body.Close()

	reader := io.Reader(hres.Body)
	if t.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(hres.Body, t.opt.MaxBodyBytes)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	var res Response
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("transport: status %d: invalid JSON response", hres.StatusCode)
	}
	if res.Data == nil && len(res.Errors) == 0 {
		if hres.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("transport: status %d", hres.StatusCode)
		}
		return nil, ErrNoData
	}
	return &res, nil
}
