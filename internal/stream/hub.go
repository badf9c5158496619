// Package stream publishes committed ledger events over websocket.
//
// Each message is one JSON-encoded domain.Event. A subscriber may pass
// ?since=<seq> to receive retained history after seq before live events.
package stream

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/observability"
)

// HubOptions configures a Hub.
type HubOptions struct {
	HistorySize  int           // Default: 1024 events retained for ?since
	ClientBuffer int           // Default: 256 events queued per client before it is dropped
	PingInterval time.Duration // Default: 30s
	WriteTimeout time.Duration // Default: 10s
	Logger       *slog.Logger
}

// Hub fans committed events out to websocket subscribers. It implements
// ledger.EventSink; Publish never blocks on a subscriber.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	history []domain.Event
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	send chan domain.Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Compile-time interface check.
var _ ledger.EventSink = (*Hub)(nil)

// NewHub creates a Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 1024
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log.With("component", "stream"),
		clients: make(map[*subscriber]struct{}),
	}
}

// Publish records events in the history ring and queues them for every
// subscriber. A subscriber whose queue is full is disconnected.
func (h *Hub) Publish(events []domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, events...)
	if over := len(h.history) - h.opts.HistorySize; over > 0 {
		h.history = append([]domain.Event(nil), h.history[over:]...)
	}

	for sub := range h.clients {
		for _, e := range events {
			select {
			case sub.send <- e:
				continue
			default:
			}
			h.drop(sub)
			observability.RecordStreamDropped()
			h.log.Warn("dropped slow subscriber")
			break
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.clients {
		h.drop(sub)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(sub *subscriber) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	sub.close()
	observability.UpdateStreamClients(len(h.clients))
}

// register adds a subscriber and returns the retained events after since.
// Both happen under the lock so no event falls between backlog and live feed.
func (h *Hub) register(since uint64) (*subscriber, []domain.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, errors.New("hub closed")
	}

	var backlog []domain.Event
	for _, e := range h.history {
		if e.Seq > since {
			backlog = append(backlog, e)
		}
	}
	sub := &subscriber{
		send: make(chan domain.Event, h.opts.ClientBuffer),
		done: make(chan struct{}),
	}
	h.clients[sub] = struct{}{}
	observability.UpdateStreamClients(len(h.clients))
	return sub, backlog, nil
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(sub)
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, backlog, err := h.register(since)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		return
	}
	defer h.unregister(sub)
	h.log.Debug("subscriber connected", "remote", r.RemoteAddr, "since", since, "backlog", len(backlog))

	// Reader: only control frames are expected; a read error ends the session.
	go func() {
		defer sub.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e domain.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		return conn.WriteJSON(e)
	}
	for _, e := range backlog {
		if err := write(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sub.done:
			// Drain what was queued before the drop so a clean Close delivers it.
			for {
				select {
				case e := <-sub.send:
					if err := write(e); err != nil {
						return
					}
				default:
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case e := <-sub.send:
			if err := write(e); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
