// Package stage loads negotiation stage definitions from YAML. A stage
// file declares the game variant, its tuning knobs and the payout items
// projected when the stage ends.
package stage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"parleylab/internal/engine"
	"parleylab/internal/payout"
)

// Stage kinds accepted in config files.
const (
	KindChip    = "CHIP"
	KindBargain = "BARGAIN"
	KindGrid    = "GRID"
)

type Config struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// TurnSeconds bounds how long a turn-holder may sit on an open turn
	// before an operator forces a timeout. Zero disables the bound.
	TurnSeconds int `yaml:"turn_seconds"`

	Chip    *ChipSection    `yaml:"chip,omitempty"`
	Bargain *BargainSection `yaml:"bargain,omitempty"`
	Grid    *GridSection    `yaml:"grid,omitempty"`

	Payout payout.Config `yaml:"payout"`
}

type ChipSection struct {
	Chips []ChipItem `yaml:"chips"`
	// NumRounds counts full rotations over the cohort.
	NumRounds int   `yaml:"num_rounds"`
	Seed      int64 `yaml:"seed"`
}

type ChipItem struct {
	ID         string `yaml:"id"`
	Quantity   int    `yaml:"quantity"`
	LowerValue int    `yaml:"lower_value"`
	UpperValue int    `yaml:"upper_value"`
}

type BargainSection struct {
	BuyerValuationMin  int   `yaml:"buyer_valuation_min"`
	BuyerValuationMax  int   `yaml:"buyer_valuation_max"`
	SellerValuationMin int   `yaml:"seller_valuation_min"`
	SellerValuationMax int   `yaml:"seller_valuation_max"`
	MaxTurns           int   `yaml:"max_turns"`
	Seed               int64 `yaml:"seed"`
}

type GridSection struct {
	Rows     int     `yaml:"rows"`
	Cols     int     `yaml:"cols"`
	Start    []int   `yaml:"start"`
	End      []int   `yaml:"end"`
	Coins    [][]int `yaml:"coins"`
	MaxMoves int     `yaml:"max_moves"`
}

func Load(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("stage config %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return c, fmt.Errorf("stage config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("missing stage id")
	}
	switch c.Kind {
	case KindChip:
		if c.Chip == nil || len(c.Chip.Chips) == 0 {
			return fmt.Errorf("chip stage %s: no chips configured", c.ID)
		}
	case KindBargain:
		if c.Bargain == nil {
			return fmt.Errorf("bargain stage %s: missing bargain section", c.ID)
		}
	case KindGrid:
		if c.Grid == nil {
			return fmt.Errorf("grid stage %s: missing grid section", c.ID)
		}
		if len(c.Grid.Start) != 2 || len(c.Grid.End) != 2 {
			return fmt.Errorf("grid stage %s: start and end must be [row, col] pairs", c.ID)
		}
	default:
		return fmt.Errorf("stage %s: unknown kind %q", c.ID, c.Kind)
	}
	switch c.Payout.Currency {
	case "", payout.CurrencyUSD, payout.CurrencyEUR, payout.CurrencyGBP:
	default:
		return fmt.Errorf("stage %s: unknown currency %q", c.ID, c.Payout.Currency)
	}
	return nil
}

// NewState builds the initial engine state for this stage and cohort.
func (c Config) NewState(participants []string) (*engine.State, error) {
	switch c.Kind {
	case KindChip:
		cfg := engine.ChipConfig{NumRounds: c.Chip.NumRounds, Seed: c.Chip.Seed}
		for _, chip := range c.Chip.Chips {
			cfg.Chips = append(cfg.Chips, engine.ChipItem{
				ID:         chip.ID,
				Quantity:   chip.Quantity,
				LowerValue: chip.LowerValue,
				UpperValue: chip.UpperValue,
			})
		}
		return engine.NewChip(c.ID, participants, cfg)
	case KindBargain:
		return engine.NewBargain(c.ID, participants, engine.BargainConfig{
			BuyerValuationMin:  c.Bargain.BuyerValuationMin,
			BuyerValuationMax:  c.Bargain.BuyerValuationMax,
			SellerValuationMin: c.Bargain.SellerValuationMin,
			SellerValuationMax: c.Bargain.SellerValuationMax,
			MaxTurns:           c.Bargain.MaxTurns,
			Seed:               c.Bargain.Seed,
		})
	case KindGrid:
		cfg := engine.GridConfig{
			Rows:     c.Grid.Rows,
			Cols:     c.Grid.Cols,
			Start:    engine.Coord{Row: c.Grid.Start[0], Col: c.Grid.Start[1]},
			End:      engine.Coord{Row: c.Grid.End[0], Col: c.Grid.End[1]},
			MaxMoves: c.Grid.MaxMoves,
		}
		for _, coin := range c.Grid.Coins {
			if len(coin) != 2 {
				return nil, fmt.Errorf("grid stage %s: coin must be a [row, col] pair", c.ID)
			}
			cfg.Coins = append(cfg.Coins, engine.Coord{Row: coin[0], Col: coin[1]})
		}
		return engine.NewGrid(c.ID, participants, cfg)
	}
	return nil, fmt.Errorf("stage %s: unknown kind %q", c.ID, c.Kind)
}

// EngineKind maps the config kind to the engine's state tag.
func (c Config) EngineKind() engine.Kind {
	switch c.Kind {
	case KindChip:
		return engine.KindChip
	case KindBargain:
		return engine.KindBargain
	case KindGrid:
		return engine.KindGrid
	}
	return ""
}
