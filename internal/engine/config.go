package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// ChipItem configures one chip type for a chip bartering stage.
type ChipItem struct {
	ID         string
	Quantity   int
	LowerValue int
	UpperValue int
}

// ChipConfig configures a chip bartering stage. NumRounds counts full
// rotations: every participant gets that many turns to make an offer.
type ChipConfig struct {
	Chips     []ChipItem
	NumRounds int
	Seed      int64
}

// BargainConfig configures a two-party price bargaining stage. Valuations
// are sampled per role from the configured ranges, constrained so the
// buyer's valuation is never below the seller's.
type BargainConfig struct {
	BuyerValuationMin  int
	BuyerValuationMax  int
	SellerValuationMin int
	SellerValuationMax int
	MaxTurns           int
	Seed               int64
}

// GridConfig configures a controller/responder board navigation stage.
type GridConfig struct {
	Rows     int
	Cols     int
	Start    Coord
	End      Coord
	Coins    []Coord
	MaxMoves int
}

// NewChip builds the initial state for a chip stage. Every participant
// starts with the configured quantity of each chip and a privately sampled
// per-chip valuation; sampling is seeded from the stage seed and the
// participant ID so reinitialization reproduces the same values.
func NewChip(stageID string, participants []string, cfg ChipConfig) (*State, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("chip stage %s: need at least 2 participants, got %d", stageID, len(participants))
	}
	if len(cfg.Chips) == 0 {
		return nil, fmt.Errorf("chip stage %s: no chips configured", stageID)
	}
	if cfg.NumRounds <= 0 {
		cfg.NumRounds = 3
	}
	ledger := Ledger{}
	values := map[string]Delta{}
	for _, id := range participants {
		holdings := Delta{}
		valuation := Delta{}
		rng := rand.New(rand.NewSource(mixSeed(cfg.Seed, stageID, id)))
		for _, chip := range cfg.Chips {
			if chip.Quantity < 0 || chip.UpperValue < chip.LowerValue {
				return nil, fmt.Errorf("chip stage %s: bad chip config %q", stageID, chip.ID)
			}
			holdings[chip.ID] = chip.Quantity
			valuation[chip.ID] = chip.LowerValue + rng.Intn(chip.UpperValue-chip.LowerValue+1)
		}
		ledger[id] = holdings
		values[id] = valuation
	}
	return &State{
		Kind:         KindChip,
		StageID:      stageID,
		Phase:        PhaseAwaitingStart,
		Participants: append([]string(nil), participants...),
		Ready:        map[string]bool{},
		Chip: &ChipData{
			Ledger:    ledger,
			Values:    values,
			MaxRounds: cfg.NumRounds * len(participants),
		},
	}, nil
}

// NewBargain builds the initial state for a bargain stage. Roles, private
// valuations and the first mover are all drawn from a deterministic stream
// seeded by the stage seed, so concurrent initialization attempts converge
// on the same assignment.
func NewBargain(stageID string, participants []string, cfg BargainConfig) (*State, error) {
	if len(participants) != 2 {
		return nil, fmt.Errorf("bargain stage %s: need exactly 2 participants, got %d", stageID, len(participants))
	}
	if cfg.BuyerValuationMax < cfg.BuyerValuationMin || cfg.SellerValuationMax < cfg.SellerValuationMin {
		return nil, fmt.Errorf("bargain stage %s: invalid valuation ranges", stageID)
	}
	if cfg.BuyerValuationMax < cfg.SellerValuationMin {
		return nil, fmt.Errorf("bargain stage %s: buyer range ends below seller range", stageID)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 6
	}
	rng := rand.New(rand.NewSource(mixSeed(cfg.Seed, stageID)))
	buyer, seller := participants[0], participants[1]
	if rng.Intn(2) == 1 {
		buyer, seller = seller, buyer
	}
	var buyerValue, sellerValue int
	for {
		sellerValue = cfg.SellerValuationMin + rng.Intn(cfg.SellerValuationMax-cfg.SellerValuationMin+1)
		buyerValue = cfg.BuyerValuationMin + rng.Intn(cfg.BuyerValuationMax-cfg.BuyerValuationMin+1)
		if buyerValue >= sellerValue {
			break
		}
	}
	first := buyer
	if rng.Intn(2) == 1 {
		first = seller
	}
	return &State{
		Kind:         KindBargain,
		StageID:      stageID,
		Phase:        PhaseAwaitingStart,
		Participants: append([]string(nil), participants...),
		Ready:        map[string]bool{},
		TurnHolder:   first,
		Bargain: &BargainData{
			BuyerID:  buyer,
			SellerID: seller,
			Valuations: map[string]int{
				buyer:  buyerValue,
				seller: sellerValue,
			},
			MaxTurns: cfg.MaxTurns,
		},
	}, nil
}

// NewGrid builds the initial state for a grid stage. The controller role is
// unassigned until the first validated claim.
func NewGrid(stageID string, participants []string, cfg GridConfig) (*State, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("grid stage %s: need at least 2 participants, got %d", stageID, len(participants))
	}
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("grid stage %s: board must have positive dimensions", stageID)
	}
	if !inBounds(cfg.Start, cfg.Rows, cfg.Cols) || !inBounds(cfg.End, cfg.Rows, cfg.Cols) {
		return nil, fmt.Errorf("grid stage %s: start or end outside board", stageID)
	}
	return &State{
		Kind:         KindGrid,
		StageID:      stageID,
		Phase:        PhaseAwaitingStart,
		Participants: append([]string(nil), participants...),
		Ready:        map[string]bool{},
		Grid: &GridData{
			Rows:     cfg.Rows,
			Cols:     cfg.Cols,
			Start:    cfg.Start,
			End:      cfg.End,
			Pos:      cfg.Start,
			Coins:    append([]Coord(nil), cfg.Coins...),
			MaxMoves: cfg.MaxMoves,
		},
	}, nil
}

func inBounds(c Coord, rows, cols int) bool {
	return c.Row >= 0 && c.Row < rows && c.Col >= 0 && c.Col < cols
}

// mixSeed folds string components into a base seed with FNV-1a so the
// derived random streams are stable across processes.
func mixSeed(seed int64, parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return seed ^ int64(h.Sum64())
}
