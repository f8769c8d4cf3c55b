package trajectory

// ReplayState is a trajectory folded into the state a resumed or inspected
// run would see: the completed turns, the cumulative budget, and where the
// run ended up.
type ReplayState struct {
	Meta     Meta
	Turns    []TurnRecord
	Budget   BudgetSnapshot
	Outcome  string
	Complete bool
}

// Replay folds a parsed trajectory into a ReplayState. The budget comes from
// the last turn's snapshot (or the outcome line when present, which includes
// tokens spent after the final recorded turn).
func Replay(s *Summary) ReplayState {
	state := ReplayState{
		Meta:  s.Meta,
		Turns: s.Turns,
	}
	if len(s.Turns) > 0 {
		state.Budget = s.Turns[len(s.Turns)-1].Budget
	}
	if s.Outcome != nil {
		state.Budget = s.Outcome.Budget
		state.Outcome = s.Outcome.Outcome
		state.Complete = true
	}
	return state
}

// ReplayFile reads and folds a trajectory file in one step.
func ReplayFile(path string) (ReplayState, error) {
	summary, err := ReadFile(path)
	if err != nil {
		return ReplayState{}, err
	}
	return Replay(summary), nil
}
