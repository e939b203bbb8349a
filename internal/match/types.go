package match

import (
	"time"

	"github.com/park285/xiangqi-relay/internal/rules"
)

// RoomStatus represents the lifecycle of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

// Seat is one color slot.
type Seat struct {
	SessionID       string
	DisplayName     string
	Connected       bool
	LastHeartbeatAt time.Time
}

// Room is returned by value; its seats and match state are copies.
type Room struct {
	ID          string
	CreatorID   string
	CreatorName string
	Red         *Seat
	Black       *Seat
	Status      RoomStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Match       *State
}

func (r Room) PlayerCount() int {
	n := 0
	if r.Red != nil {
		n++
	}
	if r.Black != nil {
		n++
	}
	return n
}

// SeatOf returns the color and seat held by sessionID.
func (r Room) SeatOf(sessionID string) (rules.Color, *Seat) {
	switch {
	case r.Red != nil && r.Red.SessionID == sessionID:
		return rules.Red, r.Red
	case r.Black != nil && r.Black.SessionID == sessionID:
		return rules.Black, r.Black
	}
	return "", nil
}

// Members lists seated session ids, red first.
func (r Room) Members() []string {
	out := make([]string, 0, 2)
	if r.Red != nil {
		out = append(out, r.Red.SessionID)
	}
	if r.Black != nil {
		out = append(out, r.Black.SessionID)
	}
	return out
}

func (r Room) clone() Room {
	if r.Red != nil {
		s := *r.Red
		r.Red = &s
	}
	if r.Black != nil {
		s := *r.Black
		r.Black = &s
	}
	if r.Match != nil {
		m := *r.Match
		r.Match = &m
	}
	return r
}

// Move is one validated ply.
type Move struct {
	From     rules.Square
	To       rules.Square
	PlayerID string
	At       time.Time
}

// Verdict is the oracle's answer. Outcome is the game status after the move;
// empty means still playing.
type Verdict struct {
	Legal   bool
	Reason  string
	Outcome rules.Status
}

// Oracle decides move legality. It is the only authority for advancing a match.
type Oracle interface {
	Validate(state State, move Move, playerID string) Verdict
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(state State, move Move, playerID string) Verdict

func (f OracleFunc) Validate(state State, move Move, playerID string) Verdict {
	return f(state, move, playerID)
}

// Stats summarises the registry.
type Stats struct {
	Rooms    int `json:"rooms"`
	Waiting  int `json:"waiting"`
	Playing  int `json:"playing"`
	Finished int `json:"finished"`
	Seated   int `json:"seated"`
}

// Errors
var (
	ErrRoomNotFound  = errf("room not found")
	ErrRoomFull      = errf("room already has two players")
	ErrAlreadySeated = errf("session already seated in a room")
	ErrNotSeated     = errf("session is not seated in this room")
	ErrNotStarted    = errf("match has not started")
	ErrFinished      = errf("match already finished")
	ErrNotYourTurn   = errf("not your turn")
	ErrOutOfBounds   = errf("position out of bounds")
	ErrSameSquare    = errf("source and destination are the same")
)

// IllegalMoveError carries the oracle's reason.
type IllegalMoveError struct{ Reason string }

func (e *IllegalMoveError) Error() string { return "illegal move: " + e.Reason }

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
