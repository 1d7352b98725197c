package engine

import "sort"

// Delta is a set of chip quantities keyed by chip ID. Deltas attached to
// proposals must be strictly positive; signedness comes from which side of
// the offer they sit on (give vs. take).
type Delta map[string]int

// Positive reports whether the delta is non-empty with every quantity > 0.
func (d Delta) Positive() bool {
	if len(d) == 0 {
		return false
	}
	for _, n := range d {
		if n <= 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the delta.
func (d Delta) Clone() Delta {
	if d == nil {
		return nil
	}
	out := make(Delta, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Ledger maps participant public IDs to their chip holdings. The sum of any
// one chip ID across all participants is constant for the lifetime of a
// stage: transfers move chips between exactly two participants and never
// create or destroy them after initialization.
type Ledger map[string]Delta

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for id, holdings := range l {
		out[id] = holdings.Clone()
	}
	return out
}

// Count returns how many chips of the given type a participant holds.
func (l Ledger) Count(participantID, chipID string) int {
	return l[participantID][chipID]
}

// Covers reports whether a participant holds at least the given delta.
func (l Ledger) Covers(participantID string, d Delta) bool {
	holdings := l[participantID]
	for chipID, n := range d {
		if holdings[chipID] < n {
			return false
		}
	}
	return true
}

// Transfer moves d from fromID to toID, mutating the ledger. It fails with
// ErrInsufficientResources before touching anything if any resulting count
// would go negative; callers must reject the move rather than clamp it.
func (l Ledger) Transfer(fromID, toID string, d Delta) error {
	if !l.Covers(fromID, d) {
		return ErrInsufficientResources
	}
	from := l[fromID]
	to := l[toID]
	if to == nil {
		to = Delta{}
		l[toID] = to
	}
	for chipID, n := range d {
		from[chipID] -= n
		to[chipID] += n
	}
	return nil
}

// ValueOf computes a participant's scalar holdings value as the sum over
// chip types of count * perUnitValue. Used for payout and for "if accepted
// your value becomes X" previews; never mutates.
func (l Ledger) ValueOf(participantID string, values Delta) int {
	total := 0
	for chipID, count := range l[participantID] {
		total += count * values[chipID]
	}
	return total
}

// Totals sums each chip type across all participants (conservation checks).
func (l Ledger) Totals() Delta {
	out := Delta{}
	for _, holdings := range l {
		for chipID, n := range holdings {
			out[chipID] += n
		}
	}
	return out
}

// ParticipantIDs returns ledger keys in sorted order for deterministic
// iteration.
func (l Ledger) ParticipantIDs() []string {
	ids := make([]string, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
