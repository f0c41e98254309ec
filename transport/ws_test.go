package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsTestServer speaks just enough graphql-transport-ws for the client side:
// it acks the init handshake and answers every subscribe via handle.
func wsTestServer(t *testing.T, handle func(conn *websocket.Conn, msg wsMessage)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init wsMessage
		if err := conn.ReadJSON(&init); err != nil || init.Type != "connection_init" {
			return
		}
		if err := conn.WriteJSON(wsMessage{Type: "connection_ack"}); err != nil {
			return
		}
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "subscribe" {
				handle(conn, msg)
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSRoundtripNext(t *testing.T) {
	queries := make(chan string, 1)
	srv := wsTestServer(t, func(conn *websocket.Conn, msg wsMessage) {
		var req Request
		_ = json.Unmarshal(msg.Payload, &req)
		queries <- req.Query

		payload, _ := json.Marshal(map[string]any{"data": map[string]any{"item": "x"}})
		_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: "next", Payload: payload})
		_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: "complete"})
	})
	defer srv.Close()

	tp := NewWS(wsURL(srv))
	defer tp.Close()

	res, err := tp.Roundtrip(context.Background(), Request{Query: "{ item }"})
	require.NoError(t, err)
	require.Equal(t, "{ item }", <-queries)
	if diff := cmp.Diff(map[string]any{"item": "x"}, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestWSRoundtripError(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, msg wsMessage) {
		payload, _ := json.Marshal([]map[string]any{{"message": "denied"}})
		_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: "error", Payload: payload})
	})
	defer srv.Close()

	tp := NewWS(wsURL(srv))
	defer tp.Close()

	res, err := tp.Roundtrip(context.Background(), Request{Query: "{ item }"})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "denied", res.Errors[0].Message)
}

func TestWSReusesConnection(t *testing.T) {
	var handshakes atomic.Int64
	up := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var init wsMessage
		if conn.ReadJSON(&init) != nil {
			return
		}
		_ = conn.WriteJSON(wsMessage{Type: "connection_ack"})
		for {
			var msg wsMessage
			if conn.ReadJSON(&msg) != nil {
				return
			}
			if msg.Type != "subscribe" {
				continue
			}
			payload, _ := json.Marshal(map[string]any{"data": map[string]any{"n": float64(1)}})
			_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: "next", Payload: payload})
		}
	}))
	defer srv.Close()

	tp := NewWS(wsURL(srv))
	defer tp.Close()

	for i := 0; i < 3; i++ {
		_, err := tp.Roundtrip(context.Background(), Request{Query: "{ n }"})
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), handshakes.Load())
}

func TestWSCompleteWithoutResultIsNoData(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, msg wsMessage) {
		_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: "complete"})
	})
	defer srv.Close()

	tp := NewWS(wsURL(srv))
	defer tp.Close()

	_, err := tp.Roundtrip(context.Background(), Request{Query: "{ item }"})
	require.ErrorIs(t, err, ErrNoData)
}

func TestWSCloseFailsInflight(t *testing.T) {
	started := make(chan struct{})
	srv := wsTestServer(t, func(conn *websocket.Conn, msg wsMessage) {
		close(started)
		// Never answer; the client tears the connection down instead.
	})
	defer srv.Close()

	tp := NewWS(wsURL(srv))

	done := make(chan error, 1)
	go func() {
		_, err := tp.Roundtrip(context.Background(), Request{Query: "{ item }"})
		done <- err
	}()

	<-started
	require.NoError(t, tp.Close())
	require.Error(t, <-done)
}
