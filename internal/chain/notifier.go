package chain

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// =============================================================================
// Block Notifier
// =============================================================================

// BlockNotifier subscribes to the node's block_added stream and calls
// onBlock for every new block. It only shortens the listener's latency; the
// listener still reads blocks over JSON-RPC.
type BlockNotifier struct {
	url     string
	onBlock func(index uint32)
	log     *logger.Logger
	backoff time.Duration
}

// NewBlockNotifier creates a notifier for a node WebSocket endpoint. An
// http(s) RPC URL is converted to its ws(s) "/ws" counterpart.
func NewBlockNotifier(endpoint string, onBlock func(index uint32), log *logger.Logger) (*BlockNotifier, error) {
	wsURL, err := websocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BlockNotifier{url: wsURL, onBlock: onBlock, log: log, backoff: 5 * time.Second}, nil
}

func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse websocket endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Run connects and reconnects until ctx is done.
func (n *BlockNotifier) Run(ctx context.Context) {
	for {
		err := n.session(ctx)
		if ctx.Err() != nil {
			return
		}
		n.log.WithError(err).Warn("block notifier disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.backoff):
		}
	}
}

func (n *BlockNotifier) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subscribe := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params":  []any{"block_added"},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		n.route(data)
	}
}

func (n *BlockNotifier) route(data []byte) {
	msg := gjson.ParseBytes(data)
	if errMsg := msg.Get("error.message"); errMsg.Exists() {
		n.log.WithField("error", errMsg.String()).Warn("block notifier subscription refused")
		return
	}
	if !strings.EqualFold(msg.Get("method").String(), "block_added") {
		return
	}
	index := msg.Get("params.0.index")
	if !index.Exists() {
		return
	}
	n.onBlock(uint32(index.Uint()))
}
