package engine

// Kind tags the stage variant a negotiation state belongs to.
type Kind string

const (
	KindChip    Kind = "CHIP"
	KindBargain Kind = "BARGAIN"
	KindGrid    Kind = "GRID"
)

// Phase is the turn scheduler's position in the negotiation lifecycle.
type Phase string

const (
	PhaseAwaitingStart    Phase = "AWAITING_START"
	PhaseAwaitingProposal Phase = "AWAITING_PROPOSAL"
	PhaseAwaitingResponse Phase = "AWAITING_RESPONSE"
	PhaseRoundComplete    Phase = "ROUND_COMPLETE"
	PhaseGameOver         Phase = "GAME_OVER"
)

// Status of a logged transaction.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Causes recorded on administratively terminated transactions.
const (
	CauseTimeout  = "timeout"
	CauseOverride = "override"
)

// Coord is a cell on the grid game's board.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Proposal is an unconfirmed, sender-attributed move. Exactly one payload
// group is set depending on the stage kind: give/take for chip offers,
// price for bargain offers, target for grid moves.
type Proposal struct {
	ActID  string `json:"act_id,omitempty"`
	Sender string `json:"sender"`
	Give   Delta  `json:"give,omitempty"`
	Take   Delta  `json:"take,omitempty"`
	Price  int    `json:"price,omitempty"`
	Target *Coord `json:"target,omitempty"`
}

// Transaction is an immutable history entry: a resolved (or still pending)
// proposal plus its outcome. History is append-only and is the sole source
// of truth for replaying final ledger state.
type Transaction struct {
	Round     int             `json:"round"`
	Proposal  Proposal        `json:"proposal"`
	Responses map[string]bool `json:"responses,omitempty"`
	Status    Status          `json:"status"`
	Recipient string          `json:"recipient,omitempty"`
	Cause     string          `json:"cause,omitempty"`
}

// ChipData holds the chip bartering variant's state.
type ChipData struct {
	// Ledger holds every participant's current chip counts.
	Ledger Ledger `json:"ledger"`
	// Values maps each participant to their private per-chip valuations.
	Values map[string]Delta `json:"values"`
	// MaxRounds is the total number of turns before the game ends
	// (configured rotations times participant count).
	MaxRounds int `json:"max_rounds"`
}

// BargainData holds the two-party price bargaining variant's state.
type BargainData struct {
	BuyerID    string         `json:"buyer_id"`
	SellerID   string         `json:"seller_id"`
	Valuations map[string]int `json:"valuations"`
	MaxTurns   int            `json:"max_turns"`
	// AgreedPrice is nil until a deal is reached.
	AgreedPrice *int `json:"agreed_price"`
}

// GridData holds the controller/responder board navigation variant's state.
type GridData struct {
	ControllerID string  `json:"controller_id"`
	Rows         int     `json:"rows"`
	Cols         int     `json:"cols"`
	Start        Coord   `json:"start"`
	End          Coord   `json:"end"`
	Pos          Coord   `json:"pos"`
	Coins        []Coord `json:"coins"`
	Collected    []Coord `json:"collected"`
	MaxMoves     int     `json:"max_moves"`
}

// State is the authoritative shared record for one negotiation stage
// instance within one cohort. It is mutated exclusively by the operations
// in machine.go, each of which bumps Version; once GameOver is set the
// state is immutable.
type State struct {
	Kind    Kind   `json:"kind"`
	StageID string `json:"stage_id"`
	Version uint64 `json:"version"`
	Phase   Phase  `json:"phase"`

	// Round counts resolved turns; it increments on every turn rotation.
	Round      int    `json:"round"`
	TurnHolder string `json:"turn_holder,omitempty"`

	// Participants in join order; rotation is round-robin over this list.
	Participants []string        `json:"participants"`
	Ready        map[string]bool `json:"ready,omitempty"`

	History  []Transaction `json:"history"`
	GameOver bool          `json:"is_game_over"`
	TimedOut bool          `json:"timed_out,omitempty"`

	Chip    *ChipData    `json:"chip,omitempty"`
	Bargain *BargainData `json:"bargain,omitempty"`
	Grid    *GridData    `json:"grid,omitempty"`
}

// Clone returns a deep copy. Operations clone before mutating so callers
// always hold immutable snapshots.
func (s *State) Clone() *State {
	next := *s
	next.Participants = append([]string(nil), s.Participants...)
	// Always materialized: a state decoded from JSON omits an empty Ready
	// map, and operations write into the clone's map unconditionally.
	next.Ready = make(map[string]bool, len(s.Ready))
	for k, v := range s.Ready {
		next.Ready[k] = v
	}
	next.History = make([]Transaction, len(s.History))
	for i, tx := range s.History {
		next.History[i] = tx.clone()
	}
	if s.Chip != nil {
		chip := *s.Chip
		chip.Ledger = s.Chip.Ledger.Clone()
		chip.Values = make(map[string]Delta, len(s.Chip.Values))
		for id, v := range s.Chip.Values {
			chip.Values[id] = v.Clone()
		}
		next.Chip = &chip
	}
	if s.Bargain != nil {
		bargain := *s.Bargain
		bargain.Valuations = make(map[string]int, len(s.Bargain.Valuations))
		for id, v := range s.Bargain.Valuations {
			bargain.Valuations[id] = v
		}
		if s.Bargain.AgreedPrice != nil {
			price := *s.Bargain.AgreedPrice
			bargain.AgreedPrice = &price
		}
		next.Bargain = &bargain
	}
	if s.Grid != nil {
		grid := *s.Grid
		grid.Coins = append([]Coord(nil), s.Grid.Coins...)
		grid.Collected = append([]Coord(nil), s.Grid.Collected...)
		next.Grid = &grid
	}
	return &next
}

func (tx Transaction) clone() Transaction {
	out := tx
	out.Proposal.Give = tx.Proposal.Give.Clone()
	out.Proposal.Take = tx.Proposal.Take.Clone()
	if tx.Proposal.Target != nil {
		target := *tx.Proposal.Target
		out.Proposal.Target = &target
	}
	if tx.Responses != nil {
		out.Responses = make(map[string]bool, len(tx.Responses))
		for k, v := range tx.Responses {
			out.Responses[k] = v
		}
	}
	return out
}

// Pending returns the open transaction awaiting responses, or nil.
func (s *State) Pending() *Transaction {
	if len(s.History) == 0 {
		return nil
	}
	last := &s.History[len(s.History)-1]
	if last.Status == StatusPending {
		return last
	}
	return nil
}

// HasParticipant reports whether the public ID belongs to this stage.
func (s *State) HasParticipant(id string) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// nextAfter returns the participant following id in join order.
func (s *State) nextAfter(id string) string {
	for i, p := range s.Participants {
		if p == id {
			return s.Participants[(i+1)%len(s.Participants)]
		}
	}
	return s.Participants[0]
}
