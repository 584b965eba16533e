package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("http://localhost:10332")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:10332/ws", u)

	u, err = websocketURL("https://node.example/custom")
	require.NoError(t, err)
	assert.Equal(t, "wss://node.example/custom", u)

	_, err = websocketURL("ftp://x")
	assert.Error(t, err)
}

func TestBlockNotifier_DeliversBlockAdded(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"55"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"transaction_added","params":[{}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"block_added","params":[{"index":77}]}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	blocks := make(chan uint32, 1)
	n, err := NewBlockNotifier("ws"+strings.TrimPrefix(server.URL, "http"), func(index uint32) {
		blocks <- index
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	select {
	case index := <-blocks:
		assert.Equal(t, uint32(77), index)
	case <-time.After(2 * time.Second):
		t.Fatal("no block notification received")
	}
}
