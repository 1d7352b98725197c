package engine

import (
	"encoding/json"
	"testing"
)

func gridState(maxMoves int) *State {
	s, err := NewGrid("stage-grid", []string{"alice", "bob", "carol"}, GridConfig{
		Rows: 3, Cols: 3,
		Start:    Coord{Row: 0, Col: 0},
		End:      Coord{Row: 2, Col: 2},
		Coins:    []Coord{{Row: 0, Col: 1}, {Row: 1, Col: 1}},
		MaxMoves: maxMoves,
	})
	if err != nil {
		panic(err)
	}
	return s
}

func claimController(t *testing.T, s *State, id string) *State {
	t.Helper()
	return mustApply(t, s, Command{Act: CmdClaim, Participant: id, ExpectedVersion: s.Version})
}

func proposeMove(t *testing.T, s *State, target Coord) *State {
	t.Helper()
	return mustApply(t, s, Command{
		Act: CmdPropose, ActID: "move-" + s.StageID + string(rune('a'+len(s.History))),
		Participant: s.Grid.ControllerID, ExpectedVersion: s.Version,
		Proposal: Proposal{Target: &target},
	})
}

func TestGridFirstClaimWinsController(t *testing.T) {
	s := gridState(0)
	s = claimController(t, s, "alice")
	if s.Grid.ControllerID != "alice" || s.TurnHolder != "alice" {
		t.Fatalf("controller=%s holder=%s", s.Grid.ControllerID, s.TurnHolder)
	}
	if s.Phase != PhaseAwaitingProposal {
		t.Fatalf("claim must start the game, phase=%s", s.Phase)
	}
	_, err := Apply(s, Command{Act: CmdClaim, Participant: "bob", ExpectedVersion: s.Version})
	if err != ErrTurnAlreadyClaimed {
		t.Fatalf("err = %v, want ErrTurnAlreadyClaimed", err)
	}
	// A redelivered winning claim is a no-op, not an error.
	again := mustApply(t, s, Command{Act: CmdClaim, Participant: "alice", ExpectedVersion: s.Version})
	if again.Version != s.Version {
		t.Fatalf("repeat claim bumped version: %d -> %d", s.Version, again.Version)
	}
}

func TestGridMoveRequiresUnanimousAccept(t *testing.T) {
	s := gridState(0)
	s = claimController(t, s, "alice")
	s = proposeMove(t, s, Coord{Row: 0, Col: 1})
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
	if s.Pending() == nil {
		t.Fatalf("move resolved before every responder replied")
	}
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "carol", Accept: false, ExpectedVersion: s.Version})

	if s.Grid.Pos != (Coord{Row: 0, Col: 0}) {
		t.Fatalf("rejected move changed position: %+v", s.Grid.Pos)
	}
	if s.History[0].Status != StatusRejected {
		t.Fatalf("status = %s", s.History[0].Status)
	}
	if s.TurnHolder != "alice" || s.Phase != PhaseAwaitingProposal {
		t.Fatalf("turn must return to the controller: holder=%s phase=%s", s.TurnHolder, s.Phase)
	}
}

func TestGridAcceptedMoveCollectsCoinOnce(t *testing.T) {
	s := gridState(0)
	s = claimController(t, s, "alice")

	acceptAll := func(s *State) *State {
		s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
		return mustApply(t, s, Command{Act: CmdRespond, Participant: "carol", Accept: true, ExpectedVersion: s.Version})
	}
	s = proposeMove(t, s, Coord{Row: 0, Col: 1})
	s = acceptAll(s)
	if got := CoinsCollected(s); got != 1 {
		t.Fatalf("coins = %d, want 1", got)
	}
	// Leave the coin cell and come back; it must not pay twice.
	s = proposeMove(t, s, Coord{Row: 0, Col: 0})
	s = acceptAll(s)
	s = proposeMove(t, s, Coord{Row: 0, Col: 1})
	s = acceptAll(s)
	if got := CoinsCollected(s); got != 1 {
		t.Fatalf("coins = %d after revisiting, want 1", got)
	}
	if s.Grid.Pos != (Coord{Row: 0, Col: 1}) {
		t.Fatalf("pos = %+v", s.Grid.Pos)
	}
}

func TestGridInvalidTargetMalformed(t *testing.T) {
	s := gridState(0)
	s = claimController(t, s, "alice")
	before := s.Version
	for _, target := range []Coord{
		{Row: 2, Col: 2},  // not adjacent
		{Row: 1, Col: 1},  // diagonal
		{Row: -1, Col: 0}, // off the board
		{Row: 0, Col: 0},  // staying put
	} {
		tgt := target
		_, err := Apply(s, Command{
			Act: CmdPropose, ActID: "move-bad", Participant: "alice", ExpectedVersion: s.Version,
			Proposal: Proposal{Target: &tgt},
		})
		if err != ErrMalformedProposal {
			t.Fatalf("target %+v: err = %v, want ErrMalformedProposal", target, err)
		}
	}
	if s.Version != before || len(s.History) != 0 {
		t.Fatalf("rejected proposals must not change state")
	}
}

func TestGridExitEndsGame(t *testing.T) {
	s, err := NewGrid("stage-grid", []string{"alice", "bob"}, GridConfig{
		Rows: 1, Cols: 2,
		Start: Coord{Row: 0, Col: 0},
		End:   Coord{Row: 0, Col: 1},
	})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	s = claimController(t, s, "alice")
	s = proposeMove(t, s, Coord{Row: 0, Col: 1})
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
	if !s.GameOver || !ExitReached(s) {
		t.Fatalf("over=%v exit=%v", s.GameOver, ExitReached(s))
	}
}

func TestGridMoveBudgetEndsGame(t *testing.T) {
	s := gridState(2)
	s = claimController(t, s, "alice")
	acceptAll := func(s *State) *State {
		s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
		return mustApply(t, s, Command{Act: CmdRespond, Participant: "carol", Accept: true, ExpectedVersion: s.Version})
	}
	s = proposeMove(t, s, Coord{Row: 0, Col: 1})
	s = acceptAll(s)
	s = proposeMove(t, s, Coord{Row: 0, Col: 0})
	s = acceptAll(s)
	if !s.GameOver {
		t.Fatalf("game should end after exhausting the move budget")
	}
	if ExitReached(s) {
		t.Fatalf("exit was never reached")
	}
}

func TestGridResponderCannotPropose(t *testing.T) {
	s := gridState(0)
	s = claimController(t, s, "alice")
	target := Coord{Row: 0, Col: 1}
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "move-1", Participant: "bob", ExpectedVersion: s.Version,
		Proposal: Proposal{Target: &target},
	})
	if err != ErrNotYourTurn {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
}

func TestGridStateJSONRoundTripAcceptsReady(t *testing.T) {
	s := gridState(5)
	s = claimController(t, s, "alice")

	// A claimed grid state has an empty Ready map, which JSON omits; a
	// resumed copy must still accept readiness signals.
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var resumed State
	if err := json.Unmarshal(raw, &resumed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resumed.Ready != nil {
		t.Fatalf("expected Ready to be dropped by omitempty, got %v", resumed.Ready)
	}

	next := mustApply(t, &resumed, Command{Act: CmdReady, Participant: "bob", ExpectedVersion: resumed.Version})
	if !next.Ready["bob"] {
		t.Fatalf("readiness lost after resume: %v", next.Ready)
	}
}
