package engine

import (
	"sort"
	"strconv"
)

// Chip bartering rules. Each turn the holder posts a give/take offer that
// every other participant accepts or rejects. When all have replied, one
// accepter (if any) is chosen deterministically as the recipient and the
// two-sided transfer executes; chips never move on a declined offer.

func resolveChip(s *State, tx *Transaction) {
	accepters := make([]string, 0, len(tx.Responses))
	for id, accepted := range tx.Responses {
		if accepted {
			accepters = append(accepters, id)
		}
	}
	sort.Strings(accepters)

	if len(accepters) == 0 {
		tx.Status = StatusRejected
		rotate(s, "")
		return
	}

	recipient := accepters[pickIndex(len(accepters),
		s.StageID, strconv.Itoa(tx.Round), tx.Proposal.Sender)]

	// Both sides were validated before this point; a failed transfer here
	// means the invariant broke and the offer is voided instead.
	ledger := s.Chip.Ledger
	if !ledger.Covers(tx.Proposal.Sender, tx.Proposal.Give) || !ledger.Covers(recipient, tx.Proposal.Take) {
		tx.Status = StatusRejected
		rotate(s, "")
		return
	}
	_ = ledger.Transfer(tx.Proposal.Sender, recipient, tx.Proposal.Give)
	_ = ledger.Transfer(recipient, tx.Proposal.Sender, tx.Proposal.Take)

	tx.Status = StatusAccepted
	tx.Recipient = recipient
	rotate(s, "")
}

// OfferPreview reports a participant's holdings value before and after a
// hypothetical offer resolution, without mutating state. add is what they
// would receive and remove what they would give away.
func OfferPreview(s *State, participantID string, add, remove Delta) (before, after int) {
	if s.Kind != KindChip {
		return 0, 0
	}
	values := s.Chip.Values[participantID]
	before = s.Chip.Ledger.ValueOf(participantID, values)
	after = before
	for chipID, n := range add {
		after += n * values[chipID]
	}
	for chipID, n := range remove {
		after -= n * values[chipID]
	}
	return before, after
}
