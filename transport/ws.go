package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	opid "github.com/arkestra/graphcache/internal/opid"
)

// WSOptions configures the websocket transport.
type WSOptions struct {
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	InitPayload      map[string]any
}

// WSOption mutates WSOptions.
type WSOption func(*WSOptions)

func WithDialer(d *websocket.Dialer) WSOption { return func(o *WSOptions) { o.Dialer = d } }
func WithHandshakeTimeout(d time.Duration) WSOption {
	return func(o *WSOptions) { o.HandshakeTimeout = d }
}
func WithInitPayload(p map[string]any) WSOption { return func(o *WSOptions) { o.InitPayload = p } }

// WS speaks the graphql-transport-ws protocol: one connection, an init/ack
// handshake, then any number of concurrent operations multiplexed by id.
// Roundtrip resolves with the operation's first result, which covers
// queries and mutations; servers stream further results for subscriptions.
type WS struct {
	url string
	opt WSOptions

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wsResult
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsResult struct {
	res *Response
	err error
}

// NewWS creates a websocket transport for the given url (ws:// or wss://).
func NewWS(url string, opts ...WSOption) *WS {
	op := WSOptions{Dialer: websocket.DefaultDialer, HandshakeTimeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &WS{url: url, opt: op, pending: map[string]chan wsResult{}}
}

func (t *WS) Roundtrip(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.TransportStart{Kind: "ws", URL: t.url, OperationName: req.OperationName})
	res, err := t.roundtrip(ctx, req)
	fin := events.TransportFinish{Kind: "ws", URL: t.url, OperationName: req.OperationName, Err: err, Duration: time.Since(start)}
	if res != nil {
		fin.ErrorCount = len(res.Errors)
	}
	eventbus.Publish(ctx, fin)
	return res, err
}

func (t *WS) roundtrip(ctx context.Context, req Request) (*Response, error) {
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	id := opid.New()
	ch := make(chan wsResult, 1)
	t.mu.Lock()
	t.pending[id] = ch
	conn := t.conn
	err := t.writeLocked(conn, wsMessage{ID: id, Type: "subscribe", Payload: mustJSON(req)})
	t.mu.Unlock()
	if err != nil {
		t.drop(id)
		return nil, err
	}

	select {
	case r := <-ch:
		t.drop(id)
		return r.res, r.err
	case <-ctx.Done():
		t.mu.Lock()
		_ = t.writeLocked(conn, wsMessage{ID: id, Type: "complete"})
		t.mu.Unlock()
		t.drop(id)
		return nil, ctx.Err()
	}
}

// connect dials and performs the connection_init / connection_ack handshake
// once; later calls reuse the connection.
func (t *WS) connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialer := *t.opt.Dialer
	dialer.HandshakeTimeout = t.opt.HandshakeTimeout
	dialer.Subprotocols = []string{"graphql-transport-ws"}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}

	init := wsMessage{Type: "connection_init"}
	if t.opt.InitPayload != nil {
		init.Payload = mustJSON(t.opt.InitPayload)
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return err
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return err
	}
	if ack.Type != "connection_ack" {
		conn.Close()
		return fmt.Errorf("transport: expected connection_ack, got %q", ack.Type)
	}

	t.conn = conn
	go t.readLoop(conn)
	return nil
}

func (t *WS) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.fail(conn, err)
			return
		}
		switch msg.Type {
		case "next":
			var res Response
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				t.resolve(msg.ID, wsResult{err: fmt.Errorf("transport: invalid payload: %w", err)})
				continue
			}
			t.resolve(msg.ID, wsResult{res: &res})
		case "error":
			var errs []Error
			if err := json.Unmarshal(msg.Payload, &errs); err != nil {
				t.resolve(msg.ID, wsResult{err: fmt.Errorf("transport: invalid error payload: %w", err)})
				continue
			}
			t.resolve(msg.ID, wsResult{res: &Response{Errors: errs}})
		case "complete":
			// Operation finished; anything still pending got no result.
			t.resolve(msg.ID, wsResult{err: ErrNoData})
		case "ping":
			t.mu.Lock()
			_ = t.writeLocked(conn, wsMessage{Type: "pong"})
			t.mu.Unlock()
		}
	}
}

// Close tears the connection down; in-flight operations fail.
func (t *WS) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.fail(conn, fmt.Errorf("transport: connection closed"))
	return nil
}

func (t *WS) writeLocked(conn *websocket.Conn, msg wsMessage) error {
	return conn.WriteJSON(msg)
}

func (t *WS) resolve(id string, r wsResult) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (t *WS) drop(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WS) fail(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	pending := t.pending
	t.pending = map[string]chan wsResult{}
	t.mu.Unlock()
	conn.Close()
	for _, ch := range pending {
		ch <- wsResult{err: err}
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
