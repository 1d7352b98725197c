package engine

import (
	"fmt"
	"hash/fnv"
)

// Operations on negotiation state. Every operation takes the current
// authoritative state, validates, and returns a new state with Version
// bumped; the input is never mutated. Idempotent resubmissions return the
// input state unchanged with no error, so redelivered writes from the
// surrounding store cannot double-apply a transfer.

// Command is one mutating write against a stage instance. ExpectedVersion
// makes the write a compare-and-swap: if it does not match the current
// state version the write fails with ErrStaleState and the caller must
// re-read and retry.
type Command struct {
	Act             string
	ActID           string
	ExpectedVersion uint64
	Participant     string
	Proposal        Proposal
	Accept          bool
	Cause           string
}

// Command acts.
const (
	CmdReady    = "READY"
	CmdClaim    = "CLAIM"
	CmdPropose  = "PROPOSE"
	CmdRespond  = "RESPOND"
	CmdTimeout  = "TIMEOUT"
	CmdReassign = "REASSIGN"
)

// Apply runs one command against the state under optimistic concurrency.
// Duplicate deliveries of an already-applied command short-circuit to the
// current state before the version check, so retries after a redelivery
// are clean no-ops.
func Apply(s *State, cmd Command) (*State, error) {
	if isDuplicate(s, cmd) {
		return s, nil
	}
	if cmd.ExpectedVersion != s.Version {
		return nil, ErrStaleState
	}
	switch cmd.Act {
	case CmdReady:
		return SignalReady(s, cmd.Participant)
	case CmdClaim:
		return ClaimTurn(s, cmd.Participant)
	case CmdPropose:
		p := cmd.Proposal
		p.Sender = cmd.Participant
		p.ActID = cmd.ActID
		return ProposeMove(s, p)
	case CmdRespond:
		return RespondToMove(s, cmd.Participant, cmd.Accept)
	case CmdTimeout:
		return ForceTimeout(s, cmd.Cause)
	case CmdReassign:
		return ReassignTurn(s, cmd.Participant)
	default:
		return nil, fmt.Errorf("unknown command act %q", cmd.Act)
	}
}

func isDuplicate(s *State, cmd Command) bool {
	switch cmd.Act {
	case CmdReady:
		return s.Ready[cmd.Participant]
	case CmdClaim:
		if s.Kind == KindGrid {
			return s.Grid.ControllerID != "" && s.Grid.ControllerID == cmd.Participant
		}
		return s.TurnHolder == cmd.Participant && s.Phase == PhaseAwaitingProposal
	case CmdPropose:
		p := cmd.Proposal
		p.Sender = cmd.Participant
		p.ActID = cmd.ActID
		return resubmittedProposal(s, p)
	case CmdRespond:
		tx := s.Pending()
		if tx == nil {
			return false
		}
		prev, ok := tx.Responses[cmd.Participant]
		return ok && prev == cmd.Accept
	}
	return false
}

// SignalReady records a participant's readiness. The stage starts once its
// start condition holds (all participants ready for chip and bargain).
func SignalReady(s *State, participantID string) (*State, error) {
	if s.GameOver {
		return nil, ErrGameAlreadyOver
	}
	if !s.HasParticipant(participantID) {
		return nil, ErrUnknownParticipant
	}
	if s.Ready[participantID] {
		return s, nil
	}
	next := s.Clone()
	next.Ready[participantID] = true
	startIfReady(next)
	next.Version++
	return next, nil
}

// ClaimTurn claims an open turn-holder slot. The first validated claim
// wins; later claims for the same slot fail with ErrTurnAlreadyClaimed.
// For grid stages the claimed slot is the controller role, which also
// starts the game.
func ClaimTurn(s *State, participantID string) (*State, error) {
	if s.GameOver {
		return nil, ErrGameAlreadyOver
	}
	if !s.HasParticipant(participantID) {
		return nil, ErrUnknownParticipant
	}
	if s.Kind == KindGrid {
		if s.Grid.ControllerID == participantID {
			return s, nil
		}
		if s.Grid.ControllerID != "" {
			return nil, ErrTurnAlreadyClaimed
		}
		next := s.Clone()
		next.Grid.ControllerID = participantID
		next.TurnHolder = participantID
		next.Phase = PhaseAwaitingProposal
		next.Version++
		return next, nil
	}
	if s.Phase == PhaseAwaitingStart {
		return nil, ErrNotStarted
	}
	if s.TurnHolder == participantID {
		return s, nil
	}
	return nil, ErrTurnAlreadyClaimed
}

// ProposeMove validates and logs a proposal as a PENDING transaction.
// Resources do not move yet; they move only on acceptance.
func ProposeMove(s *State, p Proposal) (*State, error) {
	if dup := resubmittedProposal(s, p); dup {
		return s, nil
	}
	if err := Validate(s, p); err != nil {
		return nil, err
	}
	next := s.Clone()
	next.History = append(next.History, Transaction{
		Round:     next.Round,
		Proposal:  p,
		Responses: map[string]bool{},
		Status:    StatusPending,
	})
	next.Phase = PhaseAwaitingResponse
	next.Version++
	return next, nil
}

// resubmittedProposal reports whether p is a redelivery of an already
// logged proposal. Only an exact payload match dedupes: reusing an act ID
// for a different offer is not a retry and goes through normal processing,
// where the version check or pending-proposal rule rejects it.
func resubmittedProposal(s *State, p Proposal) bool {
	if p.ActID == "" {
		return false
	}
	for i := range s.History {
		tx := &s.History[i]
		if tx.Proposal.Sender == p.Sender && tx.Proposal.ActID == p.ActID && samePayload(tx.Proposal, p) {
			return true
		}
	}
	return false
}

// samePayload compares the offer body of two proposals.
func samePayload(a, b Proposal) bool {
	if a.Price != b.Price {
		return false
	}
	if (a.Target == nil) != (b.Target == nil) {
		return false
	}
	if a.Target != nil && *a.Target != *b.Target {
		return false
	}
	return equalDelta(a.Give, b.Give) && equalDelta(a.Take, b.Take)
}

func equalDelta(a, b Delta) bool {
	if len(a) != len(b) {
		return false
	}
	for chipID, n := range a {
		if b[chipID] != n {
			return false
		}
	}
	return true
}

// RespondToMove records an accept/reject answer to the pending proposal.
// When every required respondent has replied the transaction resolves:
// on acceptance resources move via Ledger.Transfer and the stage's win
// condition is evaluated; on rejection the ledger is untouched. Either
// way the turn advances unless the game ended.
func RespondToMove(s *State, responderID string, accept bool) (*State, error) {
	if s.GameOver {
		return nil, ErrGameAlreadyOver
	}
	tx := s.Pending()
	if tx == nil {
		return nil, ErrNotTheRespondent
	}
	if err := validateResponse(s, tx, responderID, accept); err != nil {
		return nil, err
	}
	if prev, ok := tx.Responses[responderID]; ok && prev == accept {
		return s, nil
	}
	next := s.Clone()
	pending := next.Pending()
	pending.Responses[responderID] = accept
	if respondentsRemaining(next, pending) == 0 {
		resolve(next, pending)
	}
	next.Version++
	return next, nil
}

// respondentsRemaining counts required respondents who have not replied.
func respondentsRemaining(s *State, tx *Transaction) int {
	remaining := 0
	for _, id := range requiredRespondents(s, tx) {
		if _, ok := tx.Responses[id]; !ok {
			remaining++
		}
	}
	return remaining
}

// requiredRespondents lists who must reply before the pending transaction
// resolves: the single counterparty for bargain, everyone but the sender
// for chip, everyone but the controller for grid.
func requiredRespondents(s *State, tx *Transaction) []string {
	if s.Kind == KindBargain {
		return []string{counterparty(s, tx.Proposal.Sender)}
	}
	out := make([]string, 0, len(s.Participants)-1)
	for _, id := range s.Participants {
		if id != tx.Proposal.Sender {
			out = append(out, id)
		}
	}
	return out
}

// resolve dispatches transaction resolution to the stage rules.
func resolve(s *State, tx *Transaction) {
	switch s.Kind {
	case KindChip:
		resolveChip(s, tx)
	case KindBargain:
		resolveBargain(s, tx)
	case KindGrid:
		resolveGrid(s, tx)
	}
}

// ForceTimeout is the administrative escape hatch for a disconnected
// turn-holder or respondent. It marks the stage over with a distinguished
// incomplete outcome; no agreement is fabricated and downstream payout
// projection yields only the base amount.
func ForceTimeout(s *State, cause string) (*State, error) {
	if s.GameOver {
		return nil, ErrGameAlreadyOver
	}
	if cause == "" {
		cause = CauseTimeout
	}
	next := s.Clone()
	if tx := next.Pending(); tx != nil {
		tx.Status = StatusRejected
		tx.Cause = cause
	}
	next.TimedOut = true
	finish(next)
	next.Version++
	return next, nil
}

// ReassignTurn is the administrative override that hands the open turn to
// another participant, discarding any pending proposal. Callers must log
// the override; normal turn validation does not apply.
func ReassignTurn(s *State, participantID string) (*State, error) {
	if s.GameOver {
		return nil, ErrGameAlreadyOver
	}
	if !s.HasParticipant(participantID) {
		return nil, ErrUnknownParticipant
	}
	next := s.Clone()
	if tx := next.Pending(); tx != nil {
		tx.Status = StatusRejected
		tx.Cause = CauseOverride
	}
	if next.Kind == KindGrid {
		next.Grid.ControllerID = participantID
	}
	next.TurnHolder = participantID
	next.Phase = PhaseAwaitingProposal
	next.Version++
	return next, nil
}

// pickIndex deterministically selects one of n candidates from stable
// string components, so independent observers agree on the choice.
func pickIndex(n int, parts ...string) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return int(h.Sum64() % uint64(n))
}
