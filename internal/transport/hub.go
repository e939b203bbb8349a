package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/outbox"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

// Rooms resolves room membership for multicast.
type Rooms interface {
	Members(roomID string) []string
}

// InboundFunc handles one raw frame read from p. Frames from one peer are
// handled in order on its reader goroutine.
type InboundFunc func(ctx context.Context, p *Peer, raw []byte)

// Hub accepts sockets, maps sessions to their live peer and fans messages
// out. It never touches game state; undeliverable frames go to the outbox.
type Hub struct {
	rooms Rooms
	queue *outbox.Queue

	writeTimeout time.Duration
	readLimit    int64
	origins      []string
	onMessage    InboundFunc
	onDetach     func(sessionID string)

	mu    sync.RWMutex
	bound map[string]*Peer // session id -> live peer
	all   map[*Peer]struct{}

	readers sync.WaitGroup
}

type Option func(*Hub)

func WithWriteTimeout(d time.Duration) Option { return func(h *Hub) { h.writeTimeout = d } }

// WithOrigins sets accepted Origin host patterns; empty accepts same-origin only.
func WithOrigins(patterns []string) Option { return func(h *Hub) { h.origins = patterns } }

func WithReadLimit(n int64) Option { return func(h *Hub) { h.readLimit = n } }

func OnMessage(f InboundFunc) Option { return func(h *Hub) { h.onMessage = f } }

// OnDetach runs after the socket bound to a session goes away. Superseded
// sockets do not trigger it.
func OnDetach(f func(sessionID string)) Option { return func(h *Hub) { h.onDetach = f } }

func NewHub(rooms Rooms, queue *outbox.Queue, opts ...Option) *Hub {
	h := &Hub{
		rooms:        rooms,
		queue:        queue,
		writeTimeout: 5 * time.Second,
		readLimit:    64 << 10,
		bound:        make(map[string]*Peer),
		all:          make(map[*Peer]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the peer's read loop until the
// socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(h.readLimit)

	p := newPeer(conn, r.RemoteAddr, h.writeTimeout)
	h.mu.Lock()
	h.all[p] = struct{}{}
	h.mu.Unlock()
	h.readers.Add(1)
	defer h.readers.Done()

	obslog.L().Info("ws_open", zap.String("peer_id", p.id), zap.String("remote", p.remote))
	h.listen(r.Context(), p)
}

func (h *Hub) listen(ctx context.Context, p *Peer) {
	defer h.detach(p)
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_error", zap.String("peer_id", p.id), zap.Error(err))
			}
			return
		}
		if h.onMessage != nil {
			h.onMessage(ctx, p, data)
		}
	}
}

func (h *Hub) detach(p *Peer) {
	p.Close(websocket.StatusNormalClosure, "")
	sid := p.SessionID()
	h.mu.Lock()
	delete(h.all, p)
	owned := sid != "" && h.bound[sid] == p
	if owned {
		delete(h.bound, sid)
	}
	h.mu.Unlock()

	obslog.L().Info("ws_close", zap.String("peer_id", p.id), zap.String("session_id", sid), zap.Bool("owned", owned))
	if owned && h.onDetach != nil {
		h.onDetach(sid)
	}
}

// Bind makes p the live socket for sessionID. A previous socket of the same
// session is closed and will not report a detach.
func (h *Hub) Bind(sessionID string, p *Peer) {
	h.mu.Lock()
	if prev := p.SessionID(); prev != "" && prev != sessionID && h.bound[prev] == p {
		delete(h.bound, prev)
	}
	old := h.bound[sessionID]
	h.bound[sessionID] = p
	p.setSession(sessionID)
	h.mu.Unlock()

	if old != nil && old != p {
		old.setSession("")
		old.Close(websocket.StatusPolicyViolation, "superseded by a new connection")
		obslog.L().Info("ws_superseded", zap.String("session_id", sessionID), zap.String("old_peer", old.id), zap.String("new_peer", p.id))
	}
}

func (h *Hub) peer(sessionID string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bound[sessionID]
}

// Connected reports whether sessionID has a live socket.
func (h *Hub) Connected(sessionID string) bool { return h.peer(sessionID) != nil }

// Count returns the number of open sockets, bound or not.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// Unicast is best effort: without a live socket it only logs.
func (h *Hub) Unicast(sessionID string, msg protocol.Envelope) {
	p := h.peer(sessionID)
	if p == nil {
		obslog.L().Warn("unicast_no_transport", zap.String("session_id", sessionID), zap.String("type", msg.Type))
		return
	}
	if err := p.Send(context.Background(), msg); err != nil {
		obslog.L().Warn("unicast_failed", zap.String("session_id", sessionID), zap.String("type", msg.Type), zap.Error(err))
	}
}

// Multicast unicasts to every current member of roomID.
func (h *Hub) Multicast(roomID string, msg protocol.Envelope) {
	for _, id := range h.rooms.Members(roomID) {
		h.Unicast(id, msg)
	}
}

// Deliver sends msg live when possible and otherwise queues it for replay.
// It reports whether the live write succeeded.
func (h *Hub) Deliver(sessionID string, msg protocol.Envelope) bool {
	if p := h.peer(sessionID); p != nil {
		err := p.Send(context.Background(), msg)
		if err == nil {
			return true
		}
		obslog.L().Warn("deliver_fallback", zap.String("session_id", sessionID), zap.String("type", msg.Type), zap.Error(err))
	}
	h.queue.Enqueue(sessionID, msg)
	return false
}

// DeliverRoom is Deliver for every member of roomID.
func (h *Hub) DeliverRoom(roomID string, msg protocol.Envelope) {
	for _, id := range h.rooms.Members(roomID) {
		h.Deliver(id, msg)
	}
}

// Replay drains sessionID's backlog to its live socket in order. On a write
// failure the undelivered tail goes back to the queue. Returns the number of
// frames written.
func (h *Hub) Replay(sessionID string) int {
	p := h.peer(sessionID)
	if p == nil {
		return 0
	}
	msgs := h.queue.DequeueAll(sessionID)
	for i, m := range msgs {
		if err := p.Send(context.Background(), m.Payload); err != nil {
			dropped := h.queue.Requeue(sessionID, msgs[i:])
			obslog.L().Warn("replay_interrupted", zap.String("session_id", sessionID), zap.Int("sent", i), zap.Int("dropped", dropped), zap.Error(err))
			return i
		}
	}
	if len(msgs) > 0 {
		obslog.L().Info("replay_done", zap.String("session_id", sessionID), zap.Int("sent", len(msgs)))
	}
	return len(msgs)
}

// CloseSession closes the socket bound to sessionID.
func (h *Hub) CloseSession(sessionID, reason string) bool {
	p := h.peer(sessionID)
	if p == nil {
		return false
	}
	p.Close(websocket.StatusGoingAway, reason)
	return true
}

// Shutdown closes every socket and waits for the readers to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.all))
	for p := range h.all {
		peers = append(peers, p)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		p.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
