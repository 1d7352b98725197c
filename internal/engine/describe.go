package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DescribeTransaction renders a history entry as one human-readable log
// line for participant-facing views and audit output.
func DescribeTransaction(s *State, tx Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "round %d: ", tx.Round)

	switch s.Kind {
	case KindChip:
		fmt.Fprintf(&b, "%s offered %s for %s", tx.Proposal.Sender,
			formatDelta(tx.Proposal.Give), formatDelta(tx.Proposal.Take))
	case KindBargain:
		role := "buyer"
		if s.Bargain != nil && tx.Proposal.Sender == s.Bargain.SellerID {
			role = "seller"
		}
		fmt.Fprintf(&b, "%s (%s) offered price %d", tx.Proposal.Sender, role, tx.Proposal.Price)
	case KindGrid:
		if tx.Proposal.Target != nil {
			fmt.Fprintf(&b, "%s proposed moving to (%d,%d)", tx.Proposal.Sender,
				tx.Proposal.Target.Row, tx.Proposal.Target.Col)
		} else {
			fmt.Fprintf(&b, "%s proposed a move", tx.Proposal.Sender)
		}
	default:
		fmt.Fprintf(&b, "%s proposed", tx.Proposal.Sender)
	}

	switch tx.Status {
	case StatusPending:
		b.WriteString("; awaiting responses")
	case StatusAccepted:
		if tx.Recipient != "" && s.Kind == KindChip {
			fmt.Fprintf(&b, "; accepted by %s", tx.Recipient)
		} else {
			b.WriteString("; accepted")
		}
	case StatusRejected:
		switch tx.Cause {
		case CauseTimeout:
			b.WriteString("; voided by timeout")
		case CauseOverride:
			b.WriteString("; voided by operator override")
		default:
			b.WriteString("; declined")
		}
	}
	return b.String()
}

func formatDelta(d Delta) string {
	if len(d) == 0 {
		return "nothing"
	}
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d %s", d[id], id))
	}
	return strings.Join(parts, ", ")
}
