package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/silkroad/internal/logging"
)

func TestSubscription_Matches(t *testing.T) {
	gate := &Event{Type: EventGateChanged, Subject: "gate_1", Wallet: "walletA"}
	settle := &Event{Type: EventSettlementProgress, Subject: "SET-001"}

	assert.True(t, Subscription{}.Matches(gate), "empty filter matches all")
	assert.True(t, Subscription{}.Matches(settle))

	byType := Subscription{EventTypes: []EventType{EventSettlementProgress}}
	assert.False(t, byType.Matches(gate))
	assert.True(t, byType.Matches(settle))

	bySubject := Subscription{Subjects: []string{"gate_1"}}
	assert.True(t, bySubject.Matches(gate))
	assert.False(t, bySubject.Matches(settle))

	byWallet := Subscription{Wallets: []string{"walletB"}}
	assert.False(t, byWallet.Matches(gate))
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Stats()["connectedClients"] == n
	}, 2*time.Second, 5*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	h.Publish(EventGateChanged, "gate_1", "walletA", map[string]any{"state": "step1_identity"})

	e := readEvent(t, conn)
	assert.Equal(t, EventGateChanged, e.Type)
	assert.Equal(t, "gate_1", e.Subject)
	assert.Equal(t, "walletA", e.Wallet)
}

func TestHub_QueryFilterScopesToSubject(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "?settlement=SET-002")
	waitClients(t, h, 1)

	h.Publish(EventSettlementProgress, "SET-001", "", "ignored")
	h.Publish(EventSettlementProgress, "SET-002", "", "wanted")

	e := readEvent(t, conn)
	assert.Equal(t, "SET-002", e.Subject)
	assert.Equal(t, "wanted", e.Data)
}

func TestHub_SubscriptionUpdate(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []EventType{EventInvoiceSold}}))
	// Give readPump a moment to apply the filter.
	time.Sleep(50 * time.Millisecond)

	h.Publish(EventInvoiceListed, "inv_1", "", nil)
	h.Publish(EventInvoiceSold, "inv_1", "", nil)

	e := readEvent(t, conn)
	assert.Equal(t, EventInvoiceSold, e.Type)
}

func TestHub_ShutdownRejectsUpgrades(t *testing.T) {
	h := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	assert.True(t, h.Running())

	cancel()
	<-done
	assert.False(t, h.Running())

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := NewHub(logging.Discard())
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Publish(EventInvoiceListed, "inv", "", nil)
	}
	assert.Len(t, h.broadcast, cap(h.broadcast))
}
