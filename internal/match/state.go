package match

import (
	"time"

	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/rules"
)

// MaxPlies ends a match in a draw once that many moves have been played.
const MaxPlies = 300

// PlayerRef identifies who sits on a color when the match starts.
type PlayerRef struct {
	ID   string
	Name string
}

// State is the match state. It is a value: Apply returns a new State and
// never touches the receiver's history.
type State struct {
	Board      rules.Board
	Turn       rules.Color
	History    []Move
	Status     rules.Status
	Red        PlayerRef
	Black      PlayerRef
	Winner     rules.Color
	StartedAt  time.Time
	LastMoveAt time.Time
}

// NewState starts a match from the opening position with red to move.
func NewState(red, black PlayerRef, at time.Time) State {
	return State{
		Board:     rules.Initial(),
		Turn:      rules.Red,
		Status:    rules.Playing,
		Red:       red,
		Black:     black,
		StartedAt: at,
	}
}

// ColorOf returns the side played by playerID.
func (s State) ColorOf(playerID string) (rules.Color, bool) {
	switch playerID {
	case s.Red.ID:
		return rules.Red, playerID != ""
	case s.Black.ID:
		return rules.Black, playerID != ""
	}
	return "", false
}

// Apply plays an accepted move and records the oracle's outcome.
func (s State) Apply(mv Move, v Verdict) State {
	next := s
	next.Board = s.Board.With(mv.From, mv.To)
	next.History = make([]Move, len(s.History), len(s.History)+1)
	copy(next.History, s.History)
	next.History = append(next.History, mv)
	next.LastMoveAt = mv.At

	mover := s.Turn
	next.Turn = mover.Opponent()
	next.Status = v.Outcome
	if next.Status == "" {
		next.Status = rules.Playing
	}
	if next.Status == rules.Playing && len(next.History) >= MaxPlies {
		next.Status = rules.Draw
	}
	switch next.Status {
	case rules.Checkmate, rules.Stalemate:
		next.Winner = mover
	}
	return next
}

// Over reports whether the match has ended.
func (s State) Over() bool { return s.Status != "" && s.Status != rules.Playing }

// WinnerID returns the winning player's id, if any.
func (s State) WinnerID() string {
	switch s.Winner {
	case rules.Red:
		return s.Red.ID
	case rules.Black:
		return s.Black.ID
	}
	return ""
}

// Snapshot is the wire view of the state.
func (s State) Snapshot() protocol.GameSnapshot {
	return protocol.GameSnapshot{
		Board:         s.Board.FEN(),
		CurrentPlayer: string(s.Turn),
		MoveCount:     len(s.History),
		Status:        string(s.Status),
	}
}
