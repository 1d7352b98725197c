package engine

import "errors"

// Validation errors: rejected synchronously before any state mutation and
// surfaced only to the submitting participant.
var (
	ErrNotYourTurn            = errors.New("not your turn")
	ErrMalformedProposal      = errors.New("malformed proposal")
	ErrInsufficientResources  = errors.New("insufficient resources")
	ErrProposalAlreadyPending = errors.New("a proposal is already pending")
	ErrNotTheRespondent       = errors.New("not an eligible respondent")
	ErrTurnAlreadyClaimed     = errors.New("turn already claimed")
	ErrAlreadyResponded       = errors.New("already responded to this proposal")
	ErrUnknownParticipant     = errors.New("unknown participant")
	ErrNotStarted             = errors.New("stage has not started")
)

// Concurrency errors: the caller should re-read current state and retry if
// still applicable.
var ErrStaleState = errors.New("stale state version")

// Terminal-state errors: recoverable only by moving to a stage-complete view.
var ErrGameAlreadyOver = errors.New("game is already over")
