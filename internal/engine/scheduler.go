package engine

// Turn scheduling: phase transitions, readiness gating and round-robin
// rotation. Rotation is deterministic by join order, never random; the
// round counter increments on every turn rotation.

// allReady reports whether every participant has signaled readiness.
func allReady(s *State) bool {
	for _, id := range s.Participants {
		if !s.Ready[id] {
			return false
		}
	}
	return true
}

// startIfReady moves AWAITING_START to AWAITING_PROPOSAL once the stage's
// start condition holds. Chip and bargain stages start when everyone has
// signaled ready; grid stages start when a controller claim succeeds and
// are not handled here.
func startIfReady(s *State) {
	if s.Phase != PhaseAwaitingStart || !allReady(s) {
		return
	}
	switch s.Kind {
	case KindChip:
		s.Phase = PhaseAwaitingProposal
		s.TurnHolder = s.Participants[0]
	case KindBargain:
		// First mover was fixed at initialization.
		s.Phase = PhaseAwaitingProposal
	}
}

// rotate completes the current round and hands the turn to the next
// holder, unless a termination condition ends the game first. nextHolder
// overrides round-robin order when non-empty (bargain hands the turn to
// the rejecter).
func rotate(s *State, nextHolder string) {
	s.Phase = PhaseRoundComplete
	previous := s.TurnHolder
	s.Round++
	if terminal(s) {
		finish(s)
		return
	}
	if nextHolder == "" {
		nextHolder = s.nextAfter(previous)
	}
	s.TurnHolder = nextHolder
	s.Phase = PhaseAwaitingProposal
}

// terminal reports whether the configured round/turn budget is exhausted.
// Win conditions (deal reached, exit reached) are checked at resolution
// time by the stage rules, not here.
func terminal(s *State) bool {
	switch s.Kind {
	case KindChip:
		return s.Round >= s.Chip.MaxRounds
	case KindBargain:
		return s.Round >= s.Bargain.MaxTurns
	case KindGrid:
		return s.Grid.MaxMoves > 0 && s.Round >= s.Grid.MaxMoves
	}
	return false
}

// finish marks the game over. Terminal states accept no further moves.
func finish(s *State) {
	s.GameOver = true
	s.Phase = PhaseGameOver
	s.TurnHolder = ""
}
