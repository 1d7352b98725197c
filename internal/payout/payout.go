// Package payout derives per-participant monetary results from terminal
// stage states. Projection is a pure function of its inputs: the same
// terminal state and config always produce identical results, so any
// observer (participant view, admin dashboard) can recompute them
// independently. Results are never the source of truth.
package payout

import (
	"fmt"
	"hash/fnv"

	"parleylab/internal/engine"
)

// Currency codes accepted in payout configs.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
)

// ItemKind selects how a payout item computes its bonus.
type ItemKind string

const (
	// KindCompletion pays only the base amount for finishing the stage.
	KindCompletion ItemKind = "COMPLETION"
	// KindQuestion pays a bonus when the participant's recorded answer
	// matches the configured correct answer.
	KindQuestion ItemKind = "QUESTION"
	// KindThreshold pays a bonus when the negotiated value crosses the
	// configured threshold.
	KindThreshold ItemKind = "THRESHOLD"
	// KindLeader pays every group member the bonus outcome of the
	// designated leader's answer, not their own.
	KindLeader ItemKind = "LEADER"
)

// Item is one payout component. Amounts are in currency cents. Items that
// share a non-empty RandomSelectionID form a pool from which exactly one
// item is selected per participant, deterministically.
type Item struct {
	ID                string   `yaml:"id" json:"id"`
	Kind              ItemKind `yaml:"kind" json:"kind"`
	RandomSelectionID string   `yaml:"random_selection_id,omitempty" json:"random_selection_id,omitempty"`
	BaseAmount        int      `yaml:"base_amount" json:"base_amount"`
	BonusAmount       int      `yaml:"bonus_amount,omitempty" json:"bonus_amount,omitempty"`
	QuestionID        string   `yaml:"question_id,omitempty" json:"question_id,omitempty"`
	CorrectAnswer     string   `yaml:"correct_answer,omitempty" json:"correct_answer,omitempty"`
	Threshold         int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Config is the payout stage configuration consumed by Project.
type Config struct {
	Currency string `yaml:"currency" json:"currency"`
	Items    []Item `yaml:"items" json:"items"`
}

// Inputs bundles everything projection reads. Answers maps participant
// public IDs to recorded question answers; LeaderID names the designated
// leader/winner for KindLeader items. Completed defaults to true for all
// participants when nil.
type Inputs struct {
	State     *engine.State
	Answers   map[string]map[string]string
	LeaderID  string
	Completed map[string]bool
}

// Bonus is one itemized contribution to a participant's total.
type Bonus struct {
	ItemID string `json:"item_id"`
	Amount int    `json:"amount"`
	Earned bool   `json:"earned"`
	Detail string `json:"detail,omitempty"`
}

// Result is a participant's derived payout: a base completion amount plus
// itemized bonuses. Selected records which pool member was chosen for each
// random selection ID so the draw is auditable.
type Result struct {
	ParticipantID string            `json:"participant_id"`
	Currency      string            `json:"currency"`
	Base          int               `json:"base"`
	Bonuses       []Bonus           `json:"bonuses"`
	Total         int               `json:"total"`
	Selected      map[string]string `json:"selected,omitempty"`
}

// Project computes every participant's payout from a terminal state.
// Timed-out stages yield only the base completion amounts: an incomplete
// negotiation never projects an inferred deal.
func Project(in Inputs, cfg Config) []Result {
	results := make([]Result, 0, len(in.State.Participants))
	for _, id := range in.State.Participants {
		results = append(results, projectOne(in, cfg, id))
	}
	return results
}

func projectOne(in Inputs, cfg Config, participantID string) Result {
	res := Result{
		ParticipantID: participantID,
		Currency:      cfg.Currency,
		Bonuses:       []Bonus{},
	}
	completed := in.Completed == nil || in.Completed[participantID]
	for _, item := range cfg.Items {
		chosen, selectedID := selectFromPool(cfg, item, participantID)
		if !chosen {
			continue
		}
		if item.RandomSelectionID != "" {
			if res.Selected == nil {
				res.Selected = map[string]string{}
			}
			res.Selected[item.RandomSelectionID] = selectedID
		}
		if completed {
			res.Base += item.BaseAmount
		}
		if item.Kind == KindCompletion {
			continue
		}
		if in.State.TimedOut || !completed {
			res.Bonuses = append(res.Bonuses, Bonus{ItemID: item.ID, Earned: false, Detail: "stage incomplete"})
			continue
		}
		res.Bonuses = append(res.Bonuses, bonusFor(in, item, participantID))
	}
	res.Total = res.Base
	for _, b := range res.Bonuses {
		res.Total += b.Amount
	}
	return res
}

// selectFromPool reports whether the item applies to the participant. For
// pooled items exactly one member of the pool is chosen by a draw seeded
// from the participant's public ID, so re-running projection reproduces
// the same selection.
func selectFromPool(cfg Config, item Item, participantID string) (bool, string) {
	if item.RandomSelectionID == "" {
		return true, item.ID
	}
	pool := make([]string, 0, 2)
	for _, other := range cfg.Items {
		if other.RandomSelectionID == item.RandomSelectionID {
			pool = append(pool, other.ID)
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(participantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(item.RandomSelectionID))
	selected := pool[int(h.Sum64()%uint64(len(pool)))]
	return selected == item.ID, selected
}

func bonusFor(in Inputs, item Item, participantID string) Bonus {
	switch item.Kind {
	case KindQuestion:
		return answerBonus(in, item, participantID)
	case KindLeader:
		b := answerBonus(in, item, in.LeaderID)
		b.Detail = fmt.Sprintf("leader %s: %s", in.LeaderID, b.Detail)
		return b
	case KindThreshold:
		value, ok := negotiatedValue(in.State, participantID)
		if ok && value >= item.Threshold {
			return Bonus{ItemID: item.ID, Amount: item.BonusAmount, Earned: true,
				Detail: fmt.Sprintf("value %d met threshold %d", value, item.Threshold)}
		}
		return Bonus{ItemID: item.ID, Earned: false,
			Detail: fmt.Sprintf("value %d below threshold %d", value, item.Threshold)}
	}
	return Bonus{ItemID: item.ID, Earned: false, Detail: "unknown item kind"}
}

func answerBonus(in Inputs, item Item, answeredBy string) Bonus {
	answer := in.Answers[answeredBy][item.QuestionID]
	if answer != "" && answer == item.CorrectAnswer {
		return Bonus{ItemID: item.ID, Amount: item.BonusAmount, Earned: true, Detail: "correct answer"}
	}
	return Bonus{ItemID: item.ID, Earned: false, Detail: "incorrect answer"}
}

// negotiatedValue is the stage-specific scalar a threshold item measures:
// the agreed price for bargains, the participant's final holdings value
// for chip stages, coins collected for grid stages.
func negotiatedValue(s *engine.State, participantID string) (int, bool) {
	switch s.Kind {
	case engine.KindBargain:
		return engine.AgreedPrice(s)
	case engine.KindChip:
		values := s.Chip.Values[participantID]
		return s.Chip.Ledger.ValueOf(participantID, values), true
	case engine.KindGrid:
		return engine.CoinsCollected(s), true
	}
	return 0, false
}
