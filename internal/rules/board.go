package rules

import (
	"fmt"
	"strings"
)

// Color is a side. The zero value means no side.
type Color string

const (
	Red   Color = "red"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	switch c {
	case Red:
		return Black
	case Black:
		return Red
	}
	return ""
}

// Kind is a piece type, stored as its lowercase FEN letter.
type Kind byte

const (
	General  Kind = 'k'
	Advisor  Kind = 'a'
	Elephant Kind = 'b'
	Horse    Kind = 'n'
	Chariot  Kind = 'r'
	Cannon   Kind = 'c'
	Soldier  Kind = 'p'
)

// Piece is empty when Kind is zero.
type Piece struct {
	Kind  Kind
	Color Color
}

func (p Piece) Empty() bool { return p.Kind == 0 }

func (p Piece) letter() byte {
	if p.Color == Red {
		return byte(p.Kind) - 'a' + 'A'
	}
	return byte(p.Kind)
}

const (
	Files = 9
	Ranks = 10
)

// Square addresses the board by file X (0..8) and rank Y (0..9). Red's home rank is 0.
type Square struct{ X, Y int }

func (s Square) Valid() bool { return s.X >= 0 && s.X < Files && s.Y >= 0 && s.Y < Ranks }

func (s Square) String() string { return fmt.Sprintf("(%d,%d)", s.X, s.Y) }

// Board is a value; copying it copies the position.
type Board [Ranks][Files]Piece

// InitialFEN is the standard opening position, black's back rank first.
const InitialFEN = "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR"

// Initial returns the opening position.
func Initial() Board {
	b, err := ParseFEN(InitialFEN)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Board) At(s Square) Piece { return b[s.Y][s.X] }

func (b *Board) set(s Square, p Piece) { b[s.Y][s.X] = p }

// With returns a copy with the piece on from moved to to.
func (b Board) With(from, to Square) Board {
	p := b.At(from)
	b.set(from, Piece{})
	b.set(to, p)
	return b
}

// FEN serialises the placement field, rank 9 first.
func (b Board) FEN() string {
	var sb strings.Builder
	for y := Ranks - 1; y >= 0; y-- {
		empty := 0
		for x := 0; x < Files; x++ {
			p := b[y][x]
			if p.Empty() {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteByte(p.letter())
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if y > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// ParseFEN reads a placement field; anything after the first space is ignored.
func ParseFEN(s string) (Board, error) {
	var b Board
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	rows := strings.Split(s, "/")
	if len(rows) != Ranks {
		return b, fmt.Errorf("fen: want %d ranks, got %d", Ranks, len(rows))
	}
	for i, row := range rows {
		y := Ranks - 1 - i
		x := 0
		for j := 0; j < len(row); j++ {
			ch := row[j]
			switch {
			case ch >= '1' && ch <= '9':
				x += int(ch - '0')
			default:
				p, ok := pieceFromLetter(ch)
				if !ok {
					return b, fmt.Errorf("fen: bad piece %q", ch)
				}
				if x >= Files {
					return b, fmt.Errorf("fen: rank %d overflows", y)
				}
				b[y][x] = p
				x++
			}
		}
		if x != Files {
			return b, fmt.Errorf("fen: rank %d has %d files", y, x)
		}
	}
	return b, nil
}

func pieceFromLetter(ch byte) (Piece, bool) {
	c := Black
	if ch >= 'A' && ch <= 'Z' {
		c = Red
		ch = ch - 'A' + 'a'
	}
	switch Kind(ch) {
	case General, Advisor, Elephant, Horse, Chariot, Cannon, Soldier:
		return Piece{Kind: Kind(ch), Color: c}, true
	}
	return Piece{}, false
}

// findGeneral returns the square of c's general.
func (b *Board) findGeneral(c Color) (Square, bool) {
	for y := 0; y < Ranks; y++ {
		for x := 0; x < Files; x++ {
			if p := b[y][x]; p.Kind == General && p.Color == c {
				return Square{x, y}, true
			}
		}
	}
	return Square{}, false
}

// onlyGenerals reports whether no other piece is left.
func (b *Board) onlyGenerals() bool {
	for y := 0; y < Ranks; y++ {
		for x := 0; x < Files; x++ {
			if p := b[y][x]; !p.Empty() && p.Kind != General {
				return false
			}
		}
	}
	return true
}
