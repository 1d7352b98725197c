package engine

// Validate decides whether a proposal is legal against the current state.
// Checks run in a fixed order and the first failure short-circuits:
// turn ownership, well-formedness, proposer resources, pending conflict.
// Validation is pure; the caller applies results.
func Validate(s *State, p Proposal) error {
	if s.GameOver {
		return ErrGameAlreadyOver
	}
	if !s.HasParticipant(p.Sender) {
		return ErrUnknownParticipant
	}
	if s.Phase == PhaseAwaitingStart {
		return ErrNotStarted
	}
	if err := checkTurn(s, p.Sender); err != nil {
		return err
	}
	if err := checkWellFormed(s, p); err != nil {
		return err
	}
	if err := checkResources(s, p); err != nil {
		return err
	}
	if s.Pending() != nil {
		return ErrProposalAlreadyPending
	}
	return nil
}

func checkTurn(s *State, sender string) error {
	switch s.Kind {
	case KindGrid:
		if s.Grid.ControllerID == "" || sender != s.Grid.ControllerID {
			return ErrNotYourTurn
		}
	default:
		if sender != s.TurnHolder {
			return ErrNotYourTurn
		}
	}
	return nil
}

func checkWellFormed(s *State, p Proposal) error {
	switch s.Kind {
	case KindChip:
		if !p.Give.Positive() || !p.Take.Positive() {
			return ErrMalformedProposal
		}
	case KindBargain:
		if p.Price <= 0 {
			return ErrMalformedProposal
		}
	case KindGrid:
		if p.Target == nil {
			return ErrMalformedProposal
		}
		if !inBounds(*p.Target, s.Grid.Rows, s.Grid.Cols) || !adjacent(*p.Target, s.Grid.Pos) {
			return ErrMalformedProposal
		}
	}
	return nil
}

func checkResources(s *State, p Proposal) error {
	if s.Kind != KindChip {
		return nil
	}
	if !s.Chip.Ledger.Covers(p.Sender, p.Give) {
		return ErrInsufficientResources
	}
	return nil
}

// validateResponse decides whether responderID may answer the pending
// transaction. For chip stages an acceptance additionally requires the
// responder to cover the sender's asking side of the trade.
func validateResponse(s *State, tx *Transaction, responderID string, accept bool) error {
	if !s.HasParticipant(responderID) {
		return ErrUnknownParticipant
	}
	if responderID == tx.Proposal.Sender {
		return ErrNotTheRespondent
	}
	if s.Kind == KindBargain && responderID != counterparty(s, tx.Proposal.Sender) {
		return ErrNotTheRespondent
	}
	if prev, ok := tx.Responses[responderID]; ok {
		if prev == accept {
			return nil // no-op resubmission, handled by the caller
		}
		return ErrAlreadyResponded
	}
	if s.Kind == KindChip && accept && !s.Chip.Ledger.Covers(responderID, tx.Proposal.Take) {
		return ErrInsufficientResources
	}
	return nil
}

// counterparty returns the other party of a two-participant negotiation.
func counterparty(s *State, id string) string {
	if s.Bargain.BuyerID == id {
		return s.Bargain.SellerID
	}
	return s.Bargain.BuyerID
}

// adjacent reports orthogonal adjacency, the grid game's movement rule.
func adjacent(a, b Coord) bool {
	dr, dc := a.Row-b.Row, a.Col-b.Col
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr+dc == 1
}
