package rules

// Status after a move, from the point of view of the game.
type Status string

const (
	Playing   Status = "playing"
	Checkmate Status = "checkmate"
	Stalemate Status = "stalemate"
	Draw      Status = "draw"
)

// Rejection reasons.
const (
	ReasonOutOfBounds   = "position out of bounds"
	ReasonSameSquare    = "source and destination are the same"
	ReasonNoPiece       = "no piece at source"
	ReasonNotYourPiece  = "piece belongs to the opponent"
	ReasonOwnPiece      = "destination holds your own piece"
	ReasonGeometry      = "piece cannot move that way"
	ReasonFacingGeneral = "generals would face each other"
	ReasonSelfCheck     = "move leaves your general in check"
)

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func inPalace(s Square, c Color) bool {
	if s.X < 3 || s.X > 5 {
		return false
	}
	if c == Red {
		return s.Y <= 2
	}
	return s.Y >= 7
}

func ownSide(s Square, c Color) bool {
	if c == Red {
		return s.Y <= 4
	}
	return s.Y >= 5
}

// between counts pieces strictly between two squares on one line.
func (b *Board) between(from, to Square) int {
	dx, dy := sign(to.X-from.X), sign(to.Y-from.Y)
	n := 0
	for s := (Square{from.X + dx, from.Y + dy}); s != to; s = (Square{s.X + dx, s.Y + dy}) {
		if !b.At(s).Empty() {
			n++
		}
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// reaches reports whether p on from can move to to by its own geometry,
// ignoring what stands on to and whether the move exposes a general.
func (b *Board) reaches(p Piece, from, to Square) bool {
	dx, dy := to.X-from.X, to.Y-from.Y
	ax, ay := abs(dx), abs(dy)
	switch p.Kind {
	case General:
		return ax+ay == 1 && inPalace(to, p.Color)
	case Advisor:
		return ax == 1 && ay == 1 && inPalace(to, p.Color)
	case Elephant:
		if ax != 2 || ay != 2 || !ownSide(to, p.Color) {
			return false
		}
		return b.At(Square{from.X + dx/2, from.Y + dy/2}).Empty()
	case Horse:
		switch {
		case ax == 1 && ay == 2:
			return b.At(Square{from.X, from.Y + dy/2}).Empty()
		case ax == 2 && ay == 1:
			return b.At(Square{from.X + dx/2, from.Y}).Empty()
		}
		return false
	case Chariot:
		if dx != 0 && dy != 0 {
			return false
		}
		return b.between(from, to) == 0
	case Cannon:
		if dx != 0 && dy != 0 {
			return false
		}
		if b.At(to).Empty() {
			return b.between(from, to) == 0
		}
		return b.between(from, to) == 1
	case Soldier:
		forward := 1
		if p.Color == Black {
			forward = -1
		}
		if dx == 0 && dy == forward {
			return true
		}
		return ay == 0 && ax == 1 && !ownSide(from, p.Color)
	}
	return false
}

// generalsFacing reports the flying-general position.
func (b *Board) generalsFacing() bool {
	r, ok1 := b.findGeneral(Red)
	k, ok2 := b.findGeneral(Black)
	if !ok1 || !ok2 || r.X != k.X {
		return false
	}
	return b.between(r, k) == 0
}

// InCheck reports whether c's general is attacked.
func (b *Board) InCheck(c Color) bool {
	g, ok := b.findGeneral(c)
	if !ok {
		return false
	}
	opp := c.Opponent()
	for y := 0; y < Ranks; y++ {
		for x := 0; x < Files; x++ {
			p := b[y][x]
			if p.Empty() || p.Color != opp || p.Kind == General {
				continue
			}
			if b.reaches(p, Square{x, y}, g) {
				return true
			}
		}
	}
	return false
}

// Check validates a move for side. It returns "" when legal, else the reason.
func (b Board) Check(from, to Square, side Color) string {
	if !from.Valid() || !to.Valid() {
		return ReasonOutOfBounds
	}
	if from == to {
		return ReasonSameSquare
	}
	p := b.At(from)
	if p.Empty() {
		return ReasonNoPiece
	}
	if p.Color != side {
		return ReasonNotYourPiece
	}
	if t := b.At(to); !t.Empty() && t.Color == side {
		return ReasonOwnPiece
	}
	if !b.reaches(p, from, to) {
		return ReasonGeometry
	}
	next := b.With(from, to)
	if next.generalsFacing() {
		return ReasonFacingGeneral
	}
	if next.InCheck(side) {
		return ReasonSelfCheck
	}
	return ""
}

// HasLegalMove reports whether side can move at all.
func (b Board) HasLegalMove(side Color) bool {
	for y := 0; y < Ranks; y++ {
		for x := 0; x < Files; x++ {
			p := b[y][x]
			if p.Empty() || p.Color != side {
				continue
			}
			from := Square{x, y}
			for ty := 0; ty < Ranks; ty++ {
				for tx := 0; tx < Files; tx++ {
					if b.Check(from, Square{tx, ty}, side) == "" {
						return true
					}
				}
			}
		}
	}
	return false
}

// Outcome classifies the position after mover has moved.
func (b Board) Outcome(mover Color) Status {
	opp := mover.Opponent()
	if !b.HasLegalMove(opp) {
		if b.InCheck(opp) {
			return Checkmate
		}
		return Stalemate
	}
	if b.onlyGenerals() {
		return Draw
	}
	return Playing
}
