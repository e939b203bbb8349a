package main

import (
	"fmt"
	"strings"

	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/rules"
)

// renderGame draws the board as text, black at the top. Red pieces are
// upper case.
func renderGame(g protocol.GameSnapshot) string {
	b, err := rules.ParseFEN(g.Board)
	if err != nil {
		return fmt.Sprintf("(unreadable board: %v)\n", err)
	}
	var sb strings.Builder
	for y := rules.Ranks - 1; y >= 0; y-- {
		fmt.Fprintf(&sb, "%d ", y)
		for x := 0; x < rules.Files; x++ {
			p := b.At(rules.Square{X: x, Y: y})
			switch {
			case p.Empty():
				sb.WriteByte('.')
			case p.Color == rules.Red:
				sb.WriteByte(byte(p.Kind) - 'a' + 'A')
			default:
				sb.WriteByte(byte(p.Kind))
			}
			if x < rules.Files-1 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
		if y == 5 {
			sb.WriteString("  ~~~~~~~~~~~~~~~~~\n")
		}
	}
	sb.WriteString("  0 1 2 3 4 5 6 7 8\n")
	fmt.Fprintf(&sb, "move %d, %s to play (%s)\n", g.MoveCount, g.CurrentPlayer, g.Status)
	return sb.String()
}
