package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func makeEvents(from, to uint64) []domain.Event {
	var out []domain.Event
	for seq := from; seq <= to; seq++ {
		out = append(out, domain.Event{
			Seq:    seq,
			ID:     idhash.ComputeEventID("stream-ledger", seq, domain.EventTransfer),
			Kind:   domain.EventTransfer,
			From:   idhash.AddressFromSeed("alice"),
			To:     idhash.AddressFromSeed("bob"),
			Amount: uint256.NewInt(seq * 10),
		})
	}
	return out
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	return &cfg
}

func receive(t *testing.T, c *Client, n int) []domain.Event {
	t.Helper()
	var got []domain.Event
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("events channel closed after %d events", len(got))
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timeout after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestHub_BacklogThenLive(t *testing.T) {
	hub := NewHub(HubOptions{})
	server := httptest.NewServer(hub)
	defer server.Close()

	hub.Publish(makeEvents(1, 3))

	client, err := Dial(context.Background(), wsURL(server), 1, testClientConfig())
	require.NoError(t, err)
	defer client.Close()

	got := receive(t, client, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)
	assert.Equal(t, uint64(30), got[1].Amount.Uint64())

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(makeEvents(4, 5))
	got = receive(t, client, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)
	assert.Equal(t, uint64(5), client.LastSeq())
}

func TestHub_HistoryIsBounded(t *testing.T) {
	hub := NewHub(HubOptions{HistorySize: 3})
	hub.Publish(makeEvents(1, 5))

	sub, backlog, err := hub.register(0)
	require.NoError(t, err)
	defer hub.unregister(sub)

	require.Len(t, backlog, 3)
	assert.Equal(t, uint64(3), backlog[0].Seq)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(HubOptions{ClientBuffer: 2})
	sub, _, err := hub.register(0)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(makeEvents(1, 3))
	assert.Equal(t, 0, hub.Clients())
	select {
	case <-sub.done:
	default:
		t.Fatal("slow subscriber was not closed")
	}
}

func TestHub_RejectsInvalidSince(t *testing.T) {
	hub := NewHub(HubOptions{})
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub(HubOptions{})
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, _, err = hub.register(0)
	require.Error(t, err)
}

func TestClient_ReconnectsFromLastSeq(t *testing.T) {
	hub := NewHub(HubOptions{})
	hub.Publish(makeEvents(1, 3))

	var connections atomic.Int32
	var resumedSince atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) == 1 {
			// first connection delivers one event and dies
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("upgrade: %v", err)
				return
			}
			_ = c.WriteJSON(makeEvents(1, 1)[0])
			c.Close()
			return
		}
		resumedSince.Store(r.URL.Query().Get("since"))
		hub.ServeHTTP(w, r)
	}))
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), 0, testClientConfig())
	require.NoError(t, err)
	defer client.Close()

	got := receive(t, client, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, uint64(1), client.Reconnects())
	assert.Equal(t, "1", resumedSince.Load())
}

func TestClient_SkipsAlreadyDeliveredEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, e := range append(makeEvents(1, 2), makeEvents(1, 3)...) {
			_ = c.WriteJSON(e)
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), 0, testClientConfig())
	require.NoError(t, err)
	defer client.Close()

	got := receive(t, client, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestClient_ReportsGapWhenHistoryExpired(t *testing.T) {
	hub := NewHub(HubOptions{HistorySize: 3})
	server := httptest.NewServer(hub)
	defer server.Close()
	hub.Publish(makeEvents(1, 10))

	gaps := make(chan Gap, 1)
	cfg := testClientConfig()
	cfg.OnGap = func(g Gap) { gaps <- g }

	client, err := Dial(context.Background(), wsURL(server), 2, cfg)
	require.NoError(t, err)
	defer client.Close()

	got := receive(t, client, 3)
	assert.Equal(t, []uint64{8, 9, 10}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})

	select {
	case g := <-gaps:
		assert.Equal(t, Gap{After: 2, Next: 8}, g)
		assert.Equal(t, uint64(5), g.Missed())
	case <-time.After(time.Second):
		t.Fatal("gap was not reported")
	}
	assert.Equal(t, uint64(1), client.Gaps())
	assert.Equal(t, uint64(5), client.Missed())
}

func TestClient_NoGapWithoutPosition(t *testing.T) {
	hub := NewHub(HubOptions{HistorySize: 3})
	server := httptest.NewServer(hub)
	defer server.Close()
	hub.Publish(makeEvents(1, 10))

	client, err := Dial(context.Background(), wsURL(server), 0, testClientConfig())
	require.NoError(t, err)
	defer client.Close()

	receive(t, client, 3)
	assert.Zero(t, client.Gaps())
}

func TestClient_CloseClosesEvents(t *testing.T) {
	hub := NewHub(HubOptions{})
	server := httptest.NewServer(hub)
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), 0, testClientConfig())
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, ok := <-client.Events()
	assert.False(t, ok)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/events", 0, testClientConfig())
	require.Error(t, err)
}
