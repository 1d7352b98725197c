package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"parleylab/internal/engine"
	"parleylab/internal/persistence/snapshot"
)

// replay audits a terminal stage archive: it re-derives the starting
// ledger from the transaction history, replays every accepted transfer
// forward and checks the result against the archived final state.
func main() {
	var (
		archPath   = flag.String("archive", "", "path to .arch.zst (overrides -data + key flags)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		experiment = flag.String("experiment", "", "experiment id")
		cohortID   = flag.String("cohort", "", "cohort id")
		stageID    = flag.String("stage", "", "stage id")
		payouts    = flag.Bool("payouts", true, "print archived payout projections")
		showLog    = flag.Bool("log", false, "print the human-readable transaction log")
	)
	flag.Parse()

	path := *archPath
	if path == "" {
		if *experiment == "" || *cohortID == "" || *stageID == "" {
			fmt.Fprintln(os.Stderr, "missing -archive (or -experiment/-cohort/-stage)")
			os.Exit(2)
		}
		path = snapshot.Path(*dataDir, *experiment, *cohortID, *stageID)
	}

	arch, err := snapshot.ReadArchive(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}
	state := arch.State
	if state == nil {
		fmt.Fprintln(os.Stderr, "archive has no state body")
		os.Exit(1)
	}

	fmt.Printf("archive v%d stage=%s/%s/%s kind=%s version=%d rounds=%d transactions=%d\n",
		arch.Header.Version, arch.Header.ExperimentID, arch.Header.CohortID, arch.Header.StageID,
		state.Kind, state.Version, state.Round, len(state.History))

	if arch.Header.StateVersion != state.Version {
		fatalf("header/state version mismatch: header=%d state=%d", arch.Header.StateVersion, state.Version)
	}
	if !state.GameOver {
		fatalf("archived state is not terminal")
	}
	if pending := state.Pending(); pending != nil {
		fatalf("archived state still has a pending proposal from %s", pending.Proposal.Sender)
	}

	switch state.Kind {
	case engine.KindChip:
		verifyChip(state)
	case engine.KindBargain:
		verifyBargain(state)
	case engine.KindGrid:
		verifyGrid(state)
	default:
		fatalf("unknown stage kind %q", state.Kind)
	}

	if *showLog {
		for _, tx := range state.History {
			fmt.Println(engine.DescribeTransaction(state, tx))
		}
	}

	if *payouts {
		for _, r := range arch.Payouts {
			fmt.Printf("payout %s: base=%d total=%d %s bonuses=%d selected=%v\n",
				r.ParticipantID, r.Base, r.Total, r.Currency, len(r.Bonuses), r.Selected)
		}
	}
	fmt.Printf("replay ok: %s\n", filepath.Base(path))
}

// verifyChip unwinds accepted transfers from the final ledger to recover
// the starting ledger, then replays them forward. Any negative count on
// the way back means history and ledger disagree.
func verifyChip(state *engine.State) {
	initial := state.Chip.Ledger.Clone()
	accepted := 0
	for i := len(state.History) - 1; i >= 0; i-- {
		tx := state.History[i]
		if tx.Status != engine.StatusAccepted {
			continue
		}
		accepted++
		// Undo: recipient gave Take and received Give.
		if err := initial.Transfer(tx.Recipient, tx.Proposal.Sender, tx.Proposal.Give); err != nil {
			fatalf("unwind round %d: give leg: %v", tx.Round, err)
		}
		if err := initial.Transfer(tx.Proposal.Sender, tx.Recipient, tx.Proposal.Take); err != nil {
			fatalf("unwind round %d: take leg: %v", tx.Round, err)
		}
	}

	replayed := initial.Clone()
	for _, tx := range state.History {
		if tx.Status != engine.StatusAccepted {
			continue
		}
		if err := replayed.Transfer(tx.Proposal.Sender, tx.Recipient, tx.Proposal.Give); err != nil {
			fatalf("replay round %d: give leg: %v", tx.Round, err)
		}
		if err := replayed.Transfer(tx.Recipient, tx.Proposal.Sender, tx.Proposal.Take); err != nil {
			fatalf("replay round %d: take leg: %v", tx.Round, err)
		}
	}
	for _, id := range state.Chip.Ledger.ParticipantIDs() {
		for chipID, n := range state.Chip.Ledger[id] {
			if replayed.Count(id, chipID) != n {
				fatalf("ledger mismatch for %s/%s: replayed=%d archived=%d", id, chipID, replayed.Count(id, chipID), n)
			}
		}
	}

	wantTotals := initial.Totals()
	gotTotals := state.Chip.Ledger.Totals()
	for chipID, n := range wantTotals {
		if gotTotals[chipID] != n {
			fatalf("chip %s not conserved: start=%d end=%d", chipID, n, gotTotals[chipID])
		}
	}
	fmt.Printf("chip ledger verified: accepted=%d transfers, totals conserved\n", accepted)
}

func verifyBargain(state *engine.State) {
	var lastAccepted *engine.Transaction
	for i := range state.History {
		if state.History[i].Status == engine.StatusAccepted {
			lastAccepted = &state.History[i]
		}
	}
	switch {
	case state.Bargain.AgreedPrice == nil:
		if lastAccepted != nil {
			fatalf("no agreed price but history has an accepted offer at round %d", lastAccepted.Round)
		}
		fmt.Println("bargain verified: no deal")
	case lastAccepted == nil:
		fatalf("agreed price %d with no accepted offer in history", *state.Bargain.AgreedPrice)
	case lastAccepted.Proposal.Price != *state.Bargain.AgreedPrice:
		fatalf("agreed price mismatch: state=%d history=%d", *state.Bargain.AgreedPrice, lastAccepted.Proposal.Price)
	default:
		fmt.Printf("bargain verified: deal at %d\n", *state.Bargain.AgreedPrice)
	}
}

func verifyGrid(state *engine.State) {
	accepted := 0
	pos := state.Grid.Start
	for _, tx := range state.History {
		if tx.Status != engine.StatusAccepted || tx.Proposal.Target == nil {
			continue
		}
		accepted++
		target := *tx.Proposal.Target
		dr, dc := target.Row-pos.Row, target.Col-pos.Col
		if dr < 0 {
			dr = -dr
		}
		if dc < 0 {
			dc = -dc
		}
		if dr+dc != 1 {
			fatalf("non-adjacent accepted move at round %d: %v -> %v", tx.Round, pos, target)
		}
		pos = target
	}
	if accepted > state.Grid.MaxMoves {
		fatalf("accepted moves %d exceed budget %d", accepted, state.Grid.MaxMoves)
	}
	if pos != state.Grid.Pos {
		fatalf("position mismatch: replayed=%v archived=%v", pos, state.Grid.Pos)
	}
	if len(state.Grid.Collected) > len(state.Grid.Coins) {
		fatalf("collected %d coins but board only has %d", len(state.Grid.Collected), len(state.Grid.Coins))
	}
	fmt.Printf("grid verified: moves=%d coins=%d exit=%v\n",
		accepted, len(state.Grid.Collected), pos == state.Grid.End)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
