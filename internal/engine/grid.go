package engine

// Controller/responder grid navigation rules. The controller proposes a
// move to an orthogonally adjacent cell; the move executes only if every
// responder accepts. Accepted moves collect coins (once per cell) and the
// game is won by reaching the exit cell.

func resolveGrid(s *State, tx *Transaction) {
	allAccepted := true
	for _, accepted := range tx.Responses {
		if !accepted {
			allAccepted = false
			break
		}
	}
	if !allAccepted {
		tx.Status = StatusRejected
		gridAdvance(s)
		return
	}

	tx.Status = StatusAccepted
	target := *tx.Proposal.Target
	s.Grid.Pos = target
	if hasCoord(s.Grid.Coins, target) && !hasCoord(s.Grid.Collected, target) {
		s.Grid.Collected = append(s.Grid.Collected, target)
	}
	if target == s.Grid.End {
		s.Round++
		finish(s)
		return
	}
	gridAdvance(s)
}

// gridAdvance counts the resolved move and either ends the game on an
// exhausted move budget or returns the turn to the controller.
func gridAdvance(s *State) {
	s.Round++
	if terminal(s) {
		finish(s)
		return
	}
	s.Phase = PhaseAwaitingProposal
	s.TurnHolder = s.Grid.ControllerID
}

// CoinsCollected returns how many coins the group has picked up.
func CoinsCollected(s *State) int {
	if s.Kind != KindGrid {
		return 0
	}
	return len(s.Grid.Collected)
}

// ExitReached reports whether the group reached the exit cell.
func ExitReached(s *State) bool {
	return s.Kind == KindGrid && s.Grid.Pos == s.Grid.End
}

func hasCoord(list []Coord, c Coord) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
