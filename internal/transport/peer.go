package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/xiangqi-relay/internal/protocol"
)

// Peer is one accepted socket. Writes are serialised; wsjson.Write is not
// safe for concurrent use on a single conn.
type Peer struct {
	id           string
	remote       string
	conn         *websocket.Conn
	writeTimeout time.Duration

	wmu sync.Mutex

	mu        sync.Mutex
	sessionID string

	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, remote string, writeTimeout time.Duration) *Peer {
	return &Peer{
		id:           uuid.NewString(),
		remote:       remote,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// ID identifies the socket, not the session.
func (p *Peer) ID() string { return p.id }

func (p *Peer) RemoteAddr() string { return p.remote }

// SessionID returns the session bound to this socket, or "".
func (p *Peer) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *Peer) setSession(id string) {
	p.mu.Lock()
	p.sessionID = id
	p.mu.Unlock()
}

// Send writes one frame with a bounded deadline.
func (p *Peer) Send(ctx context.Context, env protocol.Envelope) error {
	if _, ok := ctx.Deadline(); !ok && p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return wsjson.Write(ctx, p.conn, env)
}

// Close starts the close handshake without waiting for it; the reader
// goroutine observes the close and detaches the peer.
func (p *Peer) Close(code websocket.StatusCode, reason string) {
	p.closeOnce.Do(func() {
		go func() { _ = p.conn.Close(code, reason) }()
	})
}
