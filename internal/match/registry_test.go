package match

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/xiangqi-relay/internal/rules"
)

func sq(x, y int) rules.Square { return rules.Square{X: x, Y: y} }

func newTestRegistry() *Registry {
	n := 0
	return NewRegistry(WithIDGenerator(func() string { n++; return fmt.Sprintf("room-%d", n) }))
}

func startedRoom(t *testing.T, r *Registry) Room {
	t.Helper()
	room := r.Create("alice", "Alice")
	require.True(t, r.Join(room.ID, "alice", "Alice"))
	require.True(t, r.Join(room.ID, "bob", "Bob"))
	got, ok := r.Get(room.ID)
	require.True(t, ok)
	return got
}

func TestCreateRoundTrip(t *testing.T) {
	r := newTestRegistry()
	room := r.Create("alice", "Alice")

	got, ok := r.Get(room.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", got.CreatorID)
	assert.Equal(t, "Alice", got.CreatorName)
	assert.Equal(t, RoomWaiting, got.Status)
	assert.Zero(t, got.PlayerCount())
}

func TestJoinOrderAssignsColorsAndStarts(t *testing.T) {
	r := newTestRegistry()
	room := r.Create("alice", "Alice")

	require.True(t, r.Join(room.ID, "alice", "Alice"))
	got, _ := r.Get(room.ID)
	assert.Equal(t, "alice", got.Red.SessionID)
	assert.Nil(t, got.Black)
	assert.Equal(t, RoomWaiting, got.Status)
	assert.Nil(t, got.Match)

	require.True(t, r.Join(room.ID, "bob", "Bob"))
	got, _ = r.Get(room.ID)
	assert.Equal(t, "bob", got.Black.SessionID)
	assert.Equal(t, RoomPlaying, got.Status)
	require.NotNil(t, got.Match)
	assert.Equal(t, "alice", got.Match.Red.ID)
	assert.Equal(t, "bob", got.Match.Black.ID)
	assert.Equal(t, rules.Red, got.Match.Turn)
	assert.Equal(t, rules.InitialFEN, got.Match.Board.FEN())
}

func TestThirdJoinRejected(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)

	assert.False(t, r.Join(room.ID, "carol", "Carol"))
	_, err := r.TryJoin(room.ID, "carol", "Carol")
	assert.ErrorIs(t, err, ErrRoomFull)
	got, _ := r.Get(room.ID)
	assert.Equal(t, 2, got.PlayerCount())
}

func TestJoinRefusals(t *testing.T) {
	r := newTestRegistry()
	a := r.Create("alice", "Alice")
	b := r.Create("bob", "Bob")
	require.True(t, r.Join(a.ID, "alice", "Alice"))

	_, err := r.TryJoin("nope", "bob", "Bob")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = r.TryJoin(b.ID, "alice", "Alice")
	assert.ErrorIs(t, err, ErrAlreadySeated)
	_, err = r.TryJoin(a.ID, "alice", "Alice")
	assert.ErrorIs(t, err, ErrAlreadySeated)
}

func TestConcurrentJoinsOnLastSeat(t *testing.T) {
	r := newTestRegistry()
	room := r.Create("alice", "Alice")
	require.True(t, r.Join(room.ID, "alice", "Alice"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Join(room.ID, fmt.Sprintf("p%d", i), "P") {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	got, _ := r.Get(room.ID)
	assert.Equal(t, 2, got.PlayerCount())
	assert.Equal(t, RoomPlaying, got.Status)
}

func TestLeavePurgesEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	room := r.Create("alice", "Alice")
	require.True(t, r.Join(room.ID, "alice", "Alice"))

	res := r.Leave(room.ID, "alice")
	assert.True(t, res.Left)
	assert.True(t, res.Purged)
	_, ok := r.Get(room.ID)
	assert.False(t, ok)
	_, ok = r.RoomOf("alice")
	assert.False(t, ok)

	// the session may join elsewhere afterwards
	other := r.Create("alice", "Alice")
	assert.True(t, r.Join(other.ID, "alice", "Alice"))
}

func TestLeaveMidMatchEndsIt(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)

	res := r.Leave(room.ID, "alice")
	require.True(t, res.Left)
	assert.False(t, res.Purged)
	assert.Equal(t, RoomFinished, res.Room.Status)
	assert.True(t, res.Abandoned)
	assert.Equal(t, rules.Red, res.Color)
	require.NotNil(t, res.Room.Match)
	assert.Equal(t, "bob", res.Room.Match.Black.ID)
	assert.Equal(t, []string{"bob"}, r.Members(room.ID))

	_, err := r.ApplyMove(room.ID, "bob", sq(1, 7), sq(4, 7), RulesOracle{})
	assert.ErrorIs(t, err, ErrFinished)

	assert.False(t, r.Leave(room.ID, "ghost").Left)
	assert.Equal(t, LeaveResult{}, r.Leave("nope", "bob"))
}

func TestListOpenAndSearch(t *testing.T) {
	clk := time.Unix(0, 0)
	n := 0
	r := NewRegistry(
		WithClock(func() time.Time { clk = clk.Add(time.Second); return clk }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("ROOM-%d", n) }),
	)
	a := r.Create("alice", "Alice")
	r.Join(a.ID, "alice", "Alice")
	b := r.Create("bob", "Bobby")
	r.Join(b.ID, "bob", "Bobby")
	c := r.Create("carol", "Carol")
	r.Join(c.ID, "carol", "Carol")
	r.Join(c.ID, "dave", "Dave")

	open := r.ListOpen()
	require.Len(t, open, 2)
	assert.Equal(t, a.ID, open[0].ID)
	assert.Equal(t, b.ID, open[1].ID)

	r.Join(a.ID, "erin", "Erin")
	assert.Len(t, r.ListOpen(), 1, "listing reflects live occupancy")

	hits := r.Search("bob")
	require.Len(t, hits, 1)
	assert.Equal(t, b.ID, hits[0].ID)
	assert.Len(t, r.Search("room-"), 3)
	assert.Len(t, r.Search("CAROL"), 1)
}

func TestApplyMoveChecks(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)

	cases := []struct {
		name    string
		room    string
		player  string
		from    rules.Square
		to      rules.Square
		wantErr error
	}{
		{"unknown room", "nope", "alice", sq(1, 2), sq(4, 2), ErrRoomNotFound},
		{"not seated", room.ID, "carol", sq(1, 2), sq(4, 2), ErrNotSeated},
		{"wrong turn", room.ID, "bob", sq(1, 7), sq(4, 7), ErrNotYourTurn},
		{"out of bounds", room.ID, "alice", sq(1, 2), sq(9, 2), ErrOutOfBounds},
		{"same square", room.ID, "alice", sq(1, 2), sq(1, 2), ErrSameSquare},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := r.ApplyMove(c.room, c.player, c.from, c.to, RulesOracle{})
			assert.ErrorIs(t, err, c.wantErr)
		})
	}

	_, err := r.ApplyMove(room.ID, "alice", sq(0, 0), sq(0, 5), RulesOracle{})
	var illegal *IllegalMoveError
	require.True(t, errors.As(err, &illegal))
	assert.Equal(t, rules.ReasonGeometry, illegal.Reason)

	got, _ := r.Get(room.ID)
	assert.Empty(t, got.Match.History, "rejected moves leave no trace")
}

func TestApplyMoveAdvancesTurn(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)

	st, err := r.ApplyMove(room.ID, "alice", sq(1, 2), sq(4, 2), RulesOracle{})
	require.NoError(t, err)
	assert.Equal(t, rules.Black, st.Turn)
	assert.Len(t, st.History, 1)

	snap := st.Snapshot()
	assert.Equal(t, 1, snap.MoveCount)
	assert.Equal(t, "black", snap.CurrentPlayer)
	assert.Equal(t, "playing", snap.Status)

	st, err = r.ApplyMove(room.ID, "bob", sq(7, 7), sq(4, 7), RulesOracle{})
	require.NoError(t, err)
	assert.Equal(t, rules.Red, st.Turn)
	assert.Len(t, st.History, 2)
}

func TestApplyMoveFinishesRoom(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)
	mate := OracleFunc(func(State, Move, string) Verdict {
		return Verdict{Legal: true, Outcome: rules.Checkmate}
	})

	st, err := r.ApplyMove(room.ID, "alice", sq(1, 2), sq(4, 2), mate)
	require.NoError(t, err)
	assert.Equal(t, rules.Checkmate, st.Status)
	assert.Equal(t, "alice", st.WinnerID())

	got, _ := r.Get(room.ID)
	assert.Equal(t, RoomFinished, got.Status)
	_, err = r.ApplyMove(room.ID, "bob", sq(1, 7), sq(4, 7), mate)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestLeaveAfterCheckmateIsNotAbandonment(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)
	mate := OracleFunc(func(State, Move, string) Verdict {
		return Verdict{Legal: true, Outcome: rules.Checkmate}
	})
	_, err := r.ApplyMove(room.ID, "alice", sq(1, 2), sq(4, 2), mate)
	require.NoError(t, err)

	res := r.Leave(room.ID, "bob")
	require.True(t, res.Left)
	assert.False(t, res.Abandoned, "a decided match keeps its result")
	assert.Equal(t, rules.Black, res.Color)
	assert.Equal(t, rules.Checkmate, res.Room.Match.Status)
}

func TestApplyMoveBeforeStart(t *testing.T) {
	r := newTestRegistry()
	room := r.Create("alice", "Alice")
	require.True(t, r.Join(room.ID, "alice", "Alice"))
	_, err := r.ApplyMove(room.ID, "alice", sq(1, 2), sq(4, 2), RulesOracle{})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSeatConnectedAndDiscard(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)

	got, changed := r.SetSeatConnected(room.ID, "bob", false)
	assert.True(t, changed)
	assert.False(t, got.Black.Connected)
	_, changed = r.SetSeatConnected(room.ID, "bob", false)
	assert.False(t, changed)
	_, changed = r.SetSeatConnected(room.ID, "ghost", true)
	assert.False(t, changed)

	assert.False(t, r.Discard(room.ID), "occupied rooms are kept")
	empty := r.Create("x", "X")
	assert.True(t, r.Discard(empty.ID))
	_, ok := r.Get(empty.ID)
	assert.False(t, ok)
}

func TestGetReturnsCopies(t *testing.T) {
	r := newTestRegistry()
	room := startedRoom(t, r)
	room.Red.Connected = false
	room.Match.Turn = rules.Black

	got, _ := r.Get(room.ID)
	assert.True(t, got.Red.Connected)
	assert.Equal(t, rules.Red, got.Match.Turn)
}

func TestStats(t *testing.T) {
	r := newTestRegistry()
	startedRoom(t, r)
	w := r.Create("carol", "Carol")
	r.Join(w.ID, "carol", "Carol")
	assert.Equal(t, Stats{Rooms: 2, Waiting: 1, Playing: 1, Seated: 3}, r.Stats())
}
