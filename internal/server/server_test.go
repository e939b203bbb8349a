package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/xiangqi-relay/internal/archive"
	"github.com/park285/xiangqi-relay/internal/config"
	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/rules"
	"github.com/park285/xiangqi-relay/internal/session"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		ListenAddr:        "127.0.0.1:0",
		WSPath:            "/ws",
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  2 * time.Hour,
		ReconnectGrace:    5 * time.Minute,
		SweepInterval:     time.Hour,
		WriteTimeout:      2 * time.Second,
		QueueMaxRetries:   3,
		QueueTTL:          time.Hour,
		MaxNameLength:     20,
		ArchiveBackend:    config.ArchiveNone,
	}
}

type memArchive struct {
	mu      sync.Mutex
	results []archive.Result
}

func (m *memArchive) Record(_ context.Context, r archive.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *memArchive) Recent(context.Context, int) ([]archive.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]archive.Result(nil), m.results...), nil
}

func (m *memArchive) Close() error { return nil }

func (m *memArchive) all() []archive.Result {
	r, _ := m.Recent(context.Background(), 0)
	return r
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func startServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testConfig(), opts...)
	s.Start()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		srv.Close()
	})
	return s, srv
}

type player struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dialPlayer(t *testing.T, srv *httptest.Server) *player {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return &player{t: t, conn: c}
}

func (p *player) send(typ string, data any) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(p.t, wsjson.Write(ctx, p.conn, protocol.MustNew(typ, data)))
}

func (p *player) sendRaw(raw string) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(p.t, p.conn.Write(ctx, websocket.MessageText, []byte(raw)))
}

// expect reads frames until one of type typ arrives and decodes its data.
func (p *player) expect(typ string, out any) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env protocol.Envelope
		require.NoError(p.t, wsjson.Read(ctx, p.conn, &env), "waiting for %s", typ)
		if env.Type != typ {
			continue
		}
		if out != nil {
			require.NoError(p.t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func (p *player) connect(name string) protocol.ConnectAck {
	p.t.Helper()
	p.send(protocol.TypeConnect, protocol.ConnectData{PlayerName: name})
	var ack protocol.ConnectAck
	p.expect(protocol.TypeConnectAck, &ack)
	require.NotEmpty(p.t, ack.PlayerID)
	p.id = ack.PlayerID
	return ack
}

// startMatch connects two players and seats them red and black.
func startMatch(t *testing.T, srv *httptest.Server) (red, black *player, roomID string) {
	t.Helper()
	red = dialPlayer(t, srv)
	red.connect("Alice")
	red.send(protocol.TypeCreateRoom, protocol.CreateRoomData{PlayerName: "Alice"})
	var created protocol.RoomPayload
	red.expect(protocol.TypeRoomCreated, &created)
	require.NotEmpty(t, created.RoomID)
	require.Equal(t, "waiting", created.Room.Status)
	require.Len(t, created.Room.Players, 1)
	require.Equal(t, "red", created.Room.Players[0].Color)

	black = dialPlayer(t, srv)
	black.connect("Bob")
	black.send(protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: created.RoomID, PlayerName: "Bob"})
	var joined protocol.RoomPayload
	black.expect(protocol.TypeRoomJoined, &joined)
	require.Equal(t, "playing", joined.Room.Status)
	require.Equal(t, 2, joined.Room.PlayerCount)

	var st protocol.GameSnapshot
	red.expect(protocol.TypeGameState, &st)
	require.Equal(t, "red", st.CurrentPlayer)
	black.expect(protocol.TypeGameState, nil)
	return red, black, created.RoomID
}

func TestCreateJoinMove(t *testing.T) {
	_, srv := startServer(t)
	red, black, roomID := startMatch(t, srv)

	red.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 1, Y: 2}, To: &protocol.Position{X: 4, Y: 2}})
	var ack protocol.MoveAck
	red.expect(protocol.TypeMoveAck, &ack)
	require.True(t, ack.Success, ack.Error)
	require.NotNil(t, ack.GameState)
	assert.Equal(t, 1, ack.GameState.MoveCount)
	assert.Equal(t, "black", ack.GameState.CurrentPlayer)

	var st protocol.GameSnapshot
	red.expect(protocol.TypeGameState, &st)
	assert.Equal(t, 1, st.MoveCount)
	black.expect(protocol.TypeGameState, &st)
	assert.Equal(t, 1, st.MoveCount)
	assert.Equal(t, "black", st.CurrentPlayer)
	assert.Equal(t, "playing", st.Status)
}

func TestMoveRefusals(t *testing.T) {
	_, srv := startServer(t)
	red, black, roomID := startMatch(t, srv)

	black.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 1, Y: 7}, To: &protocol.Position{X: 4, Y: 7}})
	var ack protocol.MoveAck
	black.expect(protocol.TypeMoveAck, &ack)
	assert.False(t, ack.Success)
	assert.Equal(t, "it is not your turn", ack.Error)
	assert.Nil(t, ack.GameState)

	red.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 0, Y: 0}, To: &protocol.Position{X: 0, Y: 5}})
	red.expect(protocol.TypeMoveAck, &ack)
	assert.False(t, ack.Success)
	assert.True(t, strings.HasPrefix(ack.Error, "invalid move"), ack.Error)

	red.send(protocol.TypeMove, protocol.MoveData{RoomID: "missing", From: &protocol.Position{X: 1, Y: 2}, To: &protocol.Position{X: 4, Y: 2}})
	var perr protocol.ErrorPayload
	red.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.RoomNotFound, perr.Code)

	red.send(protocol.TypeMove, map[string]any{"roomId": roomID})
	red.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.InvalidMessageFormat, perr.Code)
}

func TestProtocolErrors(t *testing.T) {
	_, srv := startServer(t)
	p := dialPlayer(t, srv)
	var perr protocol.ErrorPayload

	p.sendRaw(`{"type":"connect"}`)
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.InvalidMessageFormat, perr.Code)

	p.send("teleport", nil)
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.UnknownMessageType, perr.Code)
	assert.Contains(t, perr.Message, "teleport")

	p.send(protocol.TypeCreateRoom, protocol.CreateRoomData{PlayerName: "Alice"})
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.PlayerNotFound, perr.Code)

	p.send(protocol.TypeConnect, protocol.ConnectData{PlayerName: "   "})
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.InvalidPlayerName, perr.Code)
	assert.Contains(t, perr.Message, "20")

	p.send(protocol.TypeConnect, protocol.ConnectData{PlayerName: strings.Repeat("장", 21)})
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.InvalidPlayerName, perr.Code)

	p.connect(strings.Repeat("장", 20))
	p.send(protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: "nope"})
	p.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.RoomNotFound, perr.Code)
}

func TestThirdPlayerIsTurnedAway(t *testing.T) {
	_, srv := startServer(t)
	_, _, roomID := startMatch(t, srv)

	carol := dialPlayer(t, srv)
	carol.connect("Carol")
	carol.send(protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: roomID})
	var perr protocol.ErrorPayload
	carol.expect(protocol.TypeError, &perr)
	assert.Equal(t, protocol.RoomFull, perr.Code)

	carol.send(protocol.TypeRoomList, nil)
	var list protocol.RoomList
	carol.expect(protocol.TypeRoomList, &list)
	assert.Empty(t, list.Rooms)
}

func TestReconnectWithinGrace(t *testing.T) {
	s, srv := startServer(t)
	red, black, roomID := startMatch(t, srv)
	bobID := black.id

	require.NoError(t, black.conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return s.Stats().PendingReconnects == 1 }, 5*time.Second, 10*time.Millisecond)

	var upd protocol.RoomPayload
	red.expect(protocol.TypeRoomUpdated, &upd)
	require.Len(t, upd.Room.Players, 2)
	assert.False(t, upd.Room.Players[1].IsConnected)

	// the opponent keeps playing; the update waits in bob's outbox
	red.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 1, Y: 2}, To: &protocol.Position{X: 4, Y: 2}})
	var ack protocol.MoveAck
	red.expect(protocol.TypeMoveAck, &ack)
	require.True(t, ack.Success)

	again := dialPlayer(t, srv)
	got := again.connect("Bob")
	assert.Equal(t, bobID, got.PlayerID)
	assert.True(t, got.Reconnected)
	assert.Equal(t, roomID, got.RoomID)

	var st protocol.GameSnapshot
	again.expect(protocol.TypeGameState, &st)
	assert.Equal(t, 1, st.MoveCount)
	assert.Equal(t, "black", st.CurrentPlayer)

	red.expect(protocol.TypeRoomUpdated, &upd)
	assert.True(t, upd.Room.Players[1].IsConnected)
	sess, ok := s.sessions.Get(bobID)
	require.True(t, ok)
	assert.Equal(t, session.StatusConnected, sess.Status)
	assert.WithinDuration(t, time.Now(), sess.LastLivenessAt, 5*time.Second)

	again.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 7, Y: 7}, To: &protocol.Position{X: 4, Y: 7}})
	again.expect(protocol.TypeMoveAck, &ack)
	assert.True(t, ack.Success, ack.Error)
	assert.Zero(t, s.Stats().PendingReconnects)
}

func TestLeaveMidMatchAbandons(t *testing.T) {
	arc := &memArchive{}
	_, srv := startServer(t, WithArchive(arc))
	red, black, roomID := startMatch(t, srv)

	black.send(protocol.TypeLeaveRoom, protocol.LeaveRoomData{RoomID: roomID})
	var left protocol.RoomLeft
	black.expect(protocol.TypeRoomLeft, &left)
	assert.Equal(t, roomID, left.RoomID)

	var fin protocol.MatchFinished
	red.expect(protocol.TypeMatchEnded, &fin)
	assert.Equal(t, archive.StatusAbandoned, fin.Status)
	assert.Equal(t, "red", fin.Winner)

	var upd protocol.RoomPayload
	red.expect(protocol.TypeRoomUpdated, &upd)
	assert.Equal(t, "finished", upd.Room.Status)
	assert.Equal(t, 1, upd.Room.PlayerCount)

	require.Len(t, arc.all(), 1)
	assert.Equal(t, red.id, arc.all()[0].WinnerID)
}

func TestLeaveAfterCheckmateKeepsResult(t *testing.T) {
	arc := &memArchive{}
	mate := match.OracleFunc(func(match.State, match.Move, string) match.Verdict {
		return match.Verdict{Legal: true, Outcome: rules.Checkmate}
	})
	_, srv := startServer(t, WithArchive(arc), WithOracle(mate))
	red, black, roomID := startMatch(t, srv)

	red.send(protocol.TypeMove, protocol.MoveData{RoomID: roomID, From: &protocol.Position{X: 1, Y: 2}, To: &protocol.Position{X: 4, Y: 2}})
	var fin protocol.MatchFinished
	black.expect(protocol.TypeMatchEnded, &fin)
	assert.Equal(t, "checkmate", fin.Status)

	black.send(protocol.TypeLeaveRoom, protocol.LeaveRoomData{RoomID: roomID})
	black.expect(protocol.TypeRoomLeft, nil)
	var upd protocol.RoomPayload
	red.expect(protocol.TypeRoomUpdated, &upd)
	assert.Equal(t, 1, upd.Room.PlayerCount)

	require.Eventually(t, func() bool { return len(arc.all()) > 0 }, 5*time.Second, 10*time.Millisecond)
	results := arc.all()
	require.Len(t, results, 1)
	assert.Equal(t, "checkmate", results[0].Status)
	assert.Equal(t, red.id, results[0].WinnerID)
}

func TestSweepExpiresAbandonedSessions(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	arc := &memArchive{}
	s := New(testConfig(), WithClock(clk.Now), WithArchive(arc))

	alice := s.sessions.Open("Alice")
	bob := s.sessions.Open("Bob")
	room := s.rooms.Create(alice, "Alice")
	require.True(t, s.rooms.Join(room.ID, alice, "Alice"))
	require.True(t, s.rooms.Join(room.ID, bob, "Bob"))

	s.dropSession(bob)
	got, _ := s.sessions.Get(bob)
	assert.Equal(t, session.StatusDisconnected, got.Status)
	r, _ := s.rooms.Get(room.ID)
	assert.False(t, r.Black.Connected)

	clk.Advance(4 * time.Minute)
	s.Sweep()
	assert.True(t, s.sessions.Exists(bob), "still inside the grace window")

	clk.Advance(2 * time.Minute)
	s.Sweep()
	assert.False(t, s.sessions.Exists(bob))
	_, seated := s.rooms.RoomOf(bob)
	assert.False(t, seated)
	r, _ = s.rooms.Get(room.ID)
	assert.Equal(t, match.RoomFinished, r.Status)
	assert.Equal(t, []string{alice}, r.Members())

	results := arc.all()
	require.Len(t, results, 1)
	assert.Equal(t, archive.StatusAbandoned, results[0].Status)
	assert.Equal(t, alice, results[0].WinnerID)

	_, ok := s.broker.TryRecover("Bob")
	assert.False(t, ok)
}

func TestSweepClearsExpiredQueue(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	s := New(testConfig(), WithClock(clk.Now))
	s.queue.Enqueue("ghost", protocol.MustNew(protocol.TypeGameState, nil))

	clk.Advance(time.Hour)
	s.Sweep()
	assert.Zero(t, s.Stats().Outbox.Messages)
}
