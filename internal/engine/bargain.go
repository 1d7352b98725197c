package engine

// Two-party price bargaining rules. Offers alternate: an accepted price
// ends the game as a deal, a rejection hands the offerer role to the
// rejecter until the turn budget runs out.

func resolveBargain(s *State, tx *Transaction) {
	responder := counterparty(s, tx.Proposal.Sender)
	if tx.Responses[responder] {
		tx.Status = StatusAccepted
		price := tx.Proposal.Price
		s.Bargain.AgreedPrice = &price
		finish(s)
		return
	}
	tx.Status = StatusRejected
	rotate(s, responder)
}

// AgreedPrice returns the negotiated price, or ok=false when no deal was
// reached (or the stage is not a bargain).
func AgreedPrice(s *State) (price int, ok bool) {
	if s.Kind != KindBargain || s.Bargain.AgreedPrice == nil {
		return 0, false
	}
	return *s.Bargain.AgreedPrice, true
}
