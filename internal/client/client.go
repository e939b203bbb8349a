// Package client is a reconnecting websocket client for the relay. It keeps
// an ordered local queue while offline and shows moves optimistically.
package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type (
	MessageCallback func(protocol.Envelope)
	StateCallback   func(State)
)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

var ErrClosed = errors.New("client closed")

type Client struct {
	url     string
	header  http.Header
	backoff Backoff

	heartbeatEvery time.Duration
	writeTimeout   time.Duration
	now            func() time.Time

	// mu guards the socket, the local queue and identity. Writes happen
	// under it so the queue flush and live sends stay ordered.
	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	pending  []protocol.Envelope
	name     string
	playerID string
	roomID   string

	ledger Ledger

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCb   int
	cbM      sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type Option func(*Client)

func WithBackoff(b Backoff) Option { return func(c *Client) { c.backoff = b } }

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatEvery = d }
}

// WithHeader adds handshake headers, e.g. Origin.
func WithHeader(h http.Header) Option { return func(c *Client) { c.header = h } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		backoff:        DefaultBackoff,
		heartbeatEvery: 30 * time.Second,
		writeTimeout:   5 * time.Second,
		now:            time.Now,
		state:          StateDisconnected,
		stopCh:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PlayerID is the session id from the last connect_ack.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Game is the locally displayed game state, optimistic moves included.
func (c *Client) Game() protocol.GameSnapshot { return c.ledger.State() }

// Queued is the number of frames waiting for a socket.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect dials once. A failed first dial is returned to the caller; only an
// established connection reconnects on its own.
func (c *Client) Connect(ctx context.Context) error {
	if c.isStopping() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.header,
	})
	return conn, err
}

// attach installs conn, re-announces the player if it had one, flushes the
// local queue in order and starts the read and heartbeat loops.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	var flush []protocol.Envelope
	if c.name != "" {
		flush = append(flush, protocol.MustNew(protocol.TypeConnect, protocol.ConnectData{PlayerName: c.name}))
	}
	flush = append(flush, c.pending...)
	c.pending = nil
	c.state = StateConnected
	for i, env := range flush {
		if err := c.writeLocked(env); err != nil {
			// the read loop notices the dead socket and reconnects
			c.pending = append(c.pending, flush[i:]...)
			obslog.L().Warn("client_flush_interrupted", zap.Int("sent", i), zap.Error(err))
			break
		}
	}
	c.mu.Unlock()
	c.notify(StateConnected)

	done := make(chan struct{})
	c.wg.Add(2)
	go c.listen(conn, done)
	go c.heartbeatLoop(conn, done)
}

func (c *Client) writeLocked(env protocol.Envelope) error {
	if c.conn == nil {
		return errors.New("no connection")
	}
	ctx, cancel := context.WithTimeout(c.rootCtx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, env)
}

// Send writes env now when connected and otherwise queues it for the next
// connection.
func (c *Client) Send(typ string, data any) error {
	if c.isStopping() {
		return ErrClosed
	}
	env, err := protocol.New(typ, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if typ == protocol.TypeConnect {
		if d, ok := data.(protocol.ConnectData); ok {
			c.name = d.PlayerName
		}
	}
	if c.conn == nil || c.state != StateConnected {
		c.pending = append(c.pending, env)
		return nil
	}
	if err := c.writeLocked(env); err != nil {
		c.pending = append(c.pending, env)
		obslog.L().Warn("client_send_queued", zap.String("type", typ), zap.Error(err))
	}
	return nil
}

// sendLive writes only if a socket is up. Heartbeats are never queued.
func (c *Client) sendLive(conn *websocket.Conn, env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	if err := c.writeLocked(env); err != nil {
		obslog.L().Debug("client_live_send_failed", zap.String("type", env.Type), zap.Error(err))
	}
}

// Move shows the predicted result immediately and sends the move. A
// rejecting move_ack restores the previous state.
func (c *Client) Move(roomID string, from, to protocol.Position) error {
	next, err := Predict(c.ledger.State(), from, to)
	if err != nil {
		return err
	}
	c.ledger.Apply(next)
	return c.Send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &from, To: &to})
}

func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	for {
		var env protocol.Envelope
		if err := wsjson.Read(c.rootCtx, conn, &env); err != nil {
			if c.isStopping() {
				return
			}
			c.mu.Lock()
			owned := c.conn == conn
			if owned {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			if owned {
				obslog.L().Info("client_disconnected", zap.Int("close_status", int(websocket.CloseStatus(err))))
				c.setState(StateDisconnected)
				c.scheduleReconnect()
			}
			return
		}
		c.observe(conn, env)

		c.cbM.RLock()
		callbacks := make([]callbackEntry, len(c.msgCbs))
		copy(callbacks, c.msgCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(env)
			}
		}
	}
}

// observe updates local bookkeeping from server frames.
func (c *Client) observe(conn *websocket.Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHeartbeat:
		var hb protocol.HeartbeatData
		_ = protocol.DecodeData(env, &hb)
		c.sendLive(conn, protocol.MustNew(protocol.TypeHeartbeatAck, hb))
	case protocol.TypeConnectAck:
		var ack protocol.ConnectAck
		if protocol.DecodeData(env, &ack) == nil {
			c.mu.Lock()
			c.playerID = ack.PlayerID
			if ack.RoomID != "" {
				c.roomID = ack.RoomID
			}
			c.mu.Unlock()
		}
	case protocol.TypeRoomCreated, protocol.TypeRoomJoined:
		var p protocol.RoomPayload
		if protocol.DecodeData(env, &p) == nil {
			c.mu.Lock()
			c.roomID = p.RoomID
			c.mu.Unlock()
		}
	case protocol.TypeRoomLeft:
		c.mu.Lock()
		c.roomID = ""
		c.mu.Unlock()
		c.ledger.Reset()
	case protocol.TypeMoveAck:
		var ack protocol.MoveAck
		if protocol.DecodeData(env, &ack) == nil {
			c.ledger.Ack(ack)
		}
	case protocol.TypeError:
		var e protocol.ErrorPayload
		if protocol.DecodeData(env, &e) == nil && refusesMove(e.Code) && c.ledger.Reject() {
			obslog.L().Info("client_move_rolled_back", zap.String("code", string(e.Code)))
		}
	case protocol.TypeGameState:
		var s protocol.GameSnapshot
		if protocol.DecodeData(env, &s) == nil {
			c.ledger.Sync(s)
		}
	}
}

// refusesMove reports whether a move can be answered with an error frame
// carrying code.
func refusesMove(code protocol.Code) bool {
	switch code {
	case protocol.RoomNotFound, protocol.PlayerNotFound, protocol.InvalidMessageFormat, protocol.InternalServerError:
		return true
	}
	return false
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()
	if c.heartbeatEvery <= 0 {
		return
	}
	t := time.NewTicker(c.heartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-done:
			return
		case <-t.C:
			c.sendLive(conn, protocol.MustNew(protocol.TypeHeartbeat, protocol.HeartbeatData{Timestamp: c.now().UnixMilli()}))
		}
	}
}

func (c *Client) scheduleReconnect() {
	if c.backoff.MaxAttempts <= 0 {
		c.setState(StateFailed)
		return
	}
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.backoff.Delay(attempt)):
			}
			conn, err := c.dial(c.rootCtx)
			if err != nil {
				obslog.L().Debug("client_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			obslog.L().Info("client_reconnected", zap.Int("attempt", attempt))
			c.attach(conn)
			return
		}
		obslog.L().Warn("client_reconnect_exhausted", zap.Int("attempts", c.backoff.MaxAttempts))
		c.setState(StateFailed)
	}()
}

func (c *Client) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCb++
	c.msgCbs = append(c.msgCbs, callbackEntry{id: c.nextCb, callback: cb})
	return c.nextCb
}

func (c *Client) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCb++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextCb, callback: cb})
	return c.nextCb
}

func (c *Client) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Client) notify(s State) {
	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(s)
		}
	}
}

// Close stops reconnecting, closes the socket and waits for the loops.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// WSURL turns an http(s) base URL into its ws(s) form.
func WSURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimSuffix(base, "/") + path
}
