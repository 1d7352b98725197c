package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Stage routing/state.
	ErrStageNotFound = "E_STAGE_NOT_FOUND"
	ErrStageDenied   = "E_STAGE_DENIED"

	// Negotiation rules.
	ErrNotYourTurn     = "E_NOT_YOUR_TURN"
	ErrMalformed       = "E_MALFORMED_PROPOSAL"
	ErrNoResource      = "E_INSUFFICIENT"
	ErrProposalPending = "E_PROPOSAL_PENDING"
	ErrNotRespondent   = "E_NOT_RESPONDENT"
	ErrTurnClaimed     = "E_TURN_CLAIMED"
	ErrAlreadyReplied  = "E_ALREADY_REPLIED"

	// Concurrency and terminal states.
	ErrStale    = "E_STALE"
	ErrGameOver = "E_GAME_OVER"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrStageNotFound:   {},
	ErrStageDenied:     {},
	ErrNotYourTurn:     {},
	ErrMalformed:       {},
	ErrNoResource:      {},
	ErrProposalPending: {},
	ErrNotRespondent:   {},
	ErrTurnClaimed:     {},
	ErrAlreadyReplied:  {},
	ErrStale:           {},
	ErrGameOver:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Retryable reports whether a client may resubmit after re-reading state.
// Only concurrency conflicts qualify; semantic rejections must surface to
// the participant instead.
func Retryable(code string) bool {
	return code == ErrStale
}
