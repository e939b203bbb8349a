package client

import (
	"fmt"
	"sync"

	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/rules"
)

// Ledger holds the locally displayed game state. Each optimistic move keeps
// the snapshot taken before it so a rejection can roll back.
type Ledger struct {
	mu      sync.Mutex
	current protocol.GameSnapshot
	pending []protocol.GameSnapshot
}

func (l *Ledger) State() protocol.GameSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Pending is the number of unacknowledged optimistic moves.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Apply shows next and remembers what it replaced.
func (l *Ledger) Apply(next protocol.GameSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, l.current)
	l.current = next
}

// Ack settles the oldest optimistic move. A rejection restores the state
// before it and discards every later guess built on top of it.
func (l *Ledger) Ack(ack protocol.MoveAck) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		if ack.Success && ack.GameState != nil {
			l.current = *ack.GameState
		}
		return
	}
	if !ack.Success {
		l.current = l.pending[0]
		l.pending = nil
		return
	}
	l.pending = l.pending[1:]
	if len(l.pending) == 0 && ack.GameState != nil {
		l.current = *ack.GameState
	}
}

// Reject rolls back every outstanding guess, for refusals that arrive as an
// error frame instead of a move_ack. It reports whether anything was pending.
func (l *Ledger) Reject() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return false
	}
	l.current = l.pending[0]
	l.pending = nil
	return true
}

// Sync adopts an authoritative state and drops outstanding guesses. A state
// older than the position the guesses started from is stale and ignored.
func (l *Ledger) Sync(s protocol.GameSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 && s.MoveCount < l.pending[0].MoveCount {
		return
	}
	l.current = s
	l.pending = nil
}

// Reset drops all state, e.g. after leaving a room.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.current = protocol.GameSnapshot{}
	l.pending = nil
	l.mu.Unlock()
}

// Predict computes the snapshot after moving from -> to. It does not judge
// legality; the server does.
func Predict(s protocol.GameSnapshot, from, to protocol.Position) (protocol.GameSnapshot, error) {
	board, err := rules.ParseFEN(s.Board)
	if err != nil {
		return s, err
	}
	f, t := rules.Square{X: from.X, Y: from.Y}, rules.Square{X: to.X, Y: to.Y}
	if !f.Valid() || !t.Valid() {
		return s, fmt.Errorf("move %v -> %v out of bounds", f, t)
	}
	next := s
	next.Board = board.With(f, t).FEN()
	next.CurrentPlayer = string(rules.Color(s.CurrentPlayer).Opponent())
	next.MoveCount = s.MoveCount + 1
	return next, nil
}
