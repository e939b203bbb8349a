// Package archive keeps results of finished matches.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/xiangqi-relay/internal/config"
	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/rules"
)

// StatusAbandoned marks a match that ended because a player left.
const StatusAbandoned = "abandoned"

// Result is one finished match.
type Result struct {
	RoomID     string    `json:"roomId"`
	RedID      string    `json:"redId"`
	RedName    string    `json:"redName"`
	BlackID    string    `json:"blackId"`
	BlackName  string    `json:"blackName"`
	Status     string    `json:"status"`
	Winner     string    `json:"winner,omitempty"`
	WinnerID   string    `json:"winnerId,omitempty"`
	MoveCount  int       `json:"moveCount"`
	Moves      []string  `json:"moves"`
	FinalBoard string    `json:"finalBoard"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
}

// Duration is the wall time between start and end, never negative.
func (r Result) Duration() time.Duration {
	d := r.EndedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Recorder stores results. Implementations are safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, r Result) error
	Recent(ctx context.Context, limit int) ([]Result, error)
	Close() error
}

// FromState builds a result from a match state. An empty status takes the
// state's own status; callers pass StatusAbandoned when a player walked out.
func FromState(roomID string, st match.State, status string, endedAt time.Time) Result {
	if status == "" {
		status = string(st.Status)
	}
	moves := make([]string, 0, len(st.History))
	for _, mv := range st.History {
		moves = append(moves, Notation(mv.From, mv.To))
	}
	return Result{
		RoomID:     roomID,
		RedID:      st.Red.ID,
		RedName:    st.Red.Name,
		BlackID:    st.Black.ID,
		BlackName:  st.Black.Name,
		Status:     status,
		Winner:     string(st.Winner),
		WinnerID:   st.WinnerID(),
		MoveCount:  len(st.History),
		Moves:      moves,
		FinalBoard: st.Board.FEN(),
		StartedAt:  st.StartedAt,
		EndedAt:    endedAt,
	}
}

// Notation renders a move in ICCS coordinates, e.g. "b2-e2".
func Notation(from, to rules.Square) string {
	return square(from) + "-" + square(to)
}

func square(s rules.Square) string {
	if !s.Valid() {
		return "??"
	}
	return string(rune('a'+s.X)) + string(rune('0'+s.Y))
}

// Nop discards results.
type Nop struct{}

func (Nop) Record(context.Context, Result) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Result, error) { return nil, nil }
func (Nop) Close() error                                  { return nil }

// Open picks the recorder named by cfg.ArchiveBackend.
func Open(cfg *config.AppConfig) (Recorder, error) {
	switch cfg.ArchiveBackend {
	case config.ArchivePostgres:
		return OpenPostgres(cfg.DatabaseURL)
	case config.ArchiveRedis:
		return OpenRedis(cfg.RedisURL)
	case config.ArchiveNone, "":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

const (
	defaultLimit = 20
	maxLimit     = 200
)
