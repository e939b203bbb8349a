package match

// RulesOracle validates moves with the xiangqi rules in package rules.
type RulesOracle struct{}

func (RulesOracle) Validate(state State, mv Move, playerID string) Verdict {
	side, ok := state.ColorOf(playerID)
	if !ok {
		return Verdict{Reason: "player is not part of this match"}
	}
	if reason := state.Board.Check(mv.From, mv.To, side); reason != "" {
		return Verdict{Reason: reason}
	}
	next := state.Board.With(mv.From, mv.To)
	return Verdict{Legal: true, Outcome: next.Outcome(side)}
}
