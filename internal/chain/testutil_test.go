package chain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"leverage-sync/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func fromRecord(rec domain.LogRecord) rpcLog {
	ts := hexutil.Uint64(rec.BlockTimestamp)
	return rpcLog{
		Address:        rec.Address,
		Topics:         rec.Topics,
		Data:           rec.Data,
		BlockNumber:    hexutil.Uint64(rec.BlockNumber),
		TxHash:         rec.TxHash,
		LogIndex:       hexutil.Uint(rec.LogIndex),
		BlockTimestamp: &ts,
		Removed:        rec.Removed,
	}
}

// newWSServer starts a websocket server; handler receives the upgraded
// connection and its 1-based connection number.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn, n int)) (*httptest.Server, string) {
	t.Helper()
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		handler(c, int(conns.Add(1)))
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// acceptSubscribe reads one eth_subscribe request and confirms it with subID.
func acceptSubscribe(t *testing.T, conn *websocket.Conn, subID string) (wsRequest, bool) {
	t.Helper()
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return wsRequest{}, false
	}
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return wsRequest{}, false
	}
	if req.Method != "eth_subscribe" {
		t.Errorf("expected eth_subscribe, got %s", req.Method)
		return req, false
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID}
	if err := conn.WriteJSON(resp); err != nil {
		return req, false
	}
	return req, true
}

func sendLog(conn *websocket.Conn, subID string, rec domain.LogRecord) error {
	return conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]interface{}{
			"subscription": subID,
			"result":       fromRecord(rec),
		},
	})
}

// drain keeps reading until the client goes away, answering pings.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
