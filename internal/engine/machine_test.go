package engine

import "testing"

func chipState(participants []string, maxRounds int) *State {
	ledger := Ledger{
		"alice": {"gold": 10},
		"bob":   {"silver": 8},
		"carol": {"gold": 2, "silver": 2},
	}
	values := map[string]Delta{
		"alice": {"gold": 2, "silver": 4},
		"bob":   {"gold": 3, "silver": 1},
		"carol": {"gold": 1, "silver": 1},
	}
	keep := func(m Ledger) Ledger {
		out := Ledger{}
		for _, id := range participants {
			out[id] = m[id].Clone()
		}
		return out
	}
	vals := map[string]Delta{}
	for _, id := range participants {
		vals[id] = values[id].Clone()
	}
	return &State{
		Kind:         KindChip,
		StageID:      "stage-chip",
		Phase:        PhaseAwaitingStart,
		Participants: append([]string(nil), participants...),
		Ready:        map[string]bool{},
		Chip: &ChipData{
			Ledger:    keep(ledger),
			Values:    vals,
			MaxRounds: maxRounds,
		},
	}
}

func mustApply(t *testing.T, s *State, cmd Command) *State {
	t.Helper()
	next, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("apply %s by %s: %v", cmd.Act, cmd.Participant, err)
	}
	return next
}

func allReadyState(t *testing.T, s *State) *State {
	t.Helper()
	for _, id := range s.Participants {
		s = mustApply(t, s, Command{Act: CmdReady, Participant: id, ExpectedVersion: s.Version})
	}
	return s
}

func TestChipOfferAcceptedTransfersAndRotates(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	if s.Phase != PhaseAwaitingProposal || s.TurnHolder != "alice" {
		t.Fatalf("after ready: phase=%s holder=%s", s.Phase, s.TurnHolder)
	}

	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
	})
	if s.Phase != PhaseAwaitingResponse {
		t.Fatalf("phase = %s, want %s", s.Phase, PhaseAwaitingResponse)
	}
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})

	ledger := s.Chip.Ledger
	if ledger.Count("alice", "gold") != 7 || ledger.Count("alice", "silver") != 2 {
		t.Fatalf("alice holdings = %v", ledger["alice"])
	}
	if ledger.Count("bob", "gold") != 3 || ledger.Count("bob", "silver") != 6 {
		t.Fatalf("bob holdings = %v", ledger["bob"])
	}
	if s.Round != 1 {
		t.Fatalf("round = %d, want 1", s.Round)
	}
	if s.TurnHolder != "bob" || s.Phase != PhaseAwaitingProposal {
		t.Fatalf("turn did not pass: holder=%s phase=%s", s.TurnHolder, s.Phase)
	}
	tx := s.History[0]
	if tx.Status != StatusAccepted || tx.Recipient != "bob" {
		t.Fatalf("transaction = %+v", tx)
	}
}

func TestChipOfferRejectedLeavesLedgerUntouched(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
	})
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: false, ExpectedVersion: s.Version})

	if s.Chip.Ledger.Count("alice", "gold") != 10 || s.Chip.Ledger.Count("bob", "silver") != 8 {
		t.Fatalf("ledger moved on rejection: %v", s.Chip.Ledger)
	}
	if s.History[0].Status != StatusRejected {
		t.Fatalf("status = %s, want %s", s.History[0].Status, StatusRejected)
	}
	if s.Round != 1 || s.TurnHolder != "bob" {
		t.Fatalf("rejection must still advance the turn: round=%d holder=%s", s.Round, s.TurnHolder)
	}
}

func TestChipThreePartyRecipientAmongAccepters(t *testing.T) {
	s := chipState([]string{"alice", "bob", "carol"}, 9)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
	if s.Pending() == nil {
		t.Fatalf("resolved before all respondents replied")
	}
	s = mustApply(t, s, Command{Act: CmdRespond, Participant: "carol", Accept: true, ExpectedVersion: s.Version})

	tx := s.History[0]
	if tx.Status != StatusAccepted {
		t.Fatalf("status = %s", tx.Status)
	}
	if tx.Recipient != "bob" && tx.Recipient != "carol" {
		t.Fatalf("recipient = %q, want one of the accepters", tx.Recipient)
	}
	if got := s.Chip.Ledger.Count(tx.Recipient, "gold"); got == 0 {
		t.Fatalf("recipient %s received no gold", tx.Recipient)
	}
	if got := s.Chip.Ledger.Count("alice", "silver"); got != 1 {
		t.Fatalf("alice silver = %d, want 1", got)
	}
}

func TestChipRecipientChoiceIsDeterministic(t *testing.T) {
	run := func() string {
		s := chipState([]string{"alice", "bob", "carol"}, 9)
		s = allReadyState(t, s)
		s = mustApply(t, s, Command{
			Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
			Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
		})
		s = mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
		s = mustApply(t, s, Command{Act: CmdRespond, Participant: "carol", Accept: true, ExpectedVersion: s.Version})
		return s.History[0].Recipient
	}
	first := run()
	for i := 0; i < 5; i++ {
		if got := run(); got != first {
			t.Fatalf("recipient differs across identical runs: %q vs %q", got, first)
		}
	}
}

func TestStaleVersionRejected(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version - 1,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	if err != ErrStaleState {
		t.Fatalf("err = %v, want ErrStaleState", err)
	}
}

func TestDuplicateProposeIsNoop(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	cmd := Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
	}
	s = mustApply(t, s, cmd)
	// Redelivery carries the original expected version; the stale check must
	// not fire for an already-applied act.
	again, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("resubmission errored: %v", err)
	}
	if again.Version != s.Version || len(again.History) != 1 {
		t.Fatalf("resubmission changed state: version=%d history=%d", again.Version, len(again.History))
	}
}

func TestProposeActIDReuseWithDifferentPayloadFails(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	first := Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
	}
	s = mustApply(t, s, first)

	// Same act ID, different offer: not a retry, so the dedupe must not
	// swallow it. With the original expected version the stale check fires.
	conflict := first
	conflict.Proposal = Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 5}}
	if _, err := Apply(s, conflict); err != ErrStaleState {
		t.Fatalf("err = %v, want ErrStaleState", err)
	}

	// With the current version it collides with the pending proposal.
	conflict.ExpectedVersion = s.Version
	if _, err := Apply(s, conflict); err != ErrProposalAlreadyPending {
		t.Fatalf("err = %v, want ErrProposalAlreadyPending", err)
	}
}

func TestDuplicateRespondIsNoopConflictFails(t *testing.T) {
	s := chipState([]string{"alice", "bob", "carol"}, 9)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	accept := Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version}
	s = mustApply(t, s, accept)

	again, err := Apply(s, accept)
	if err != nil || again.Version != s.Version {
		t.Fatalf("same-value resubmission: err=%v version=%d want %d", err, again.Version, s.Version)
	}
	_, err = Apply(s, Command{Act: CmdRespond, Participant: "bob", Accept: false, ExpectedVersion: s.Version})
	if err != ErrAlreadyResponded {
		t.Fatalf("conflicting response err = %v, want ErrAlreadyResponded", err)
	}
}

func TestProposeOutOfTurn(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "bob", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"silver": 1}, Take: Delta{"gold": 1}},
	})
	if err != ErrNotYourTurn {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
}

func TestProposeBeforeStart(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = mustApply(t, s, Command{Act: CmdReady, Participant: "alice", ExpectedVersion: s.Version})
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	if err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestProposeInsufficientResources(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 11}, Take: Delta{"silver": 1}},
	})
	if err != ErrInsufficientResources {
		t.Fatalf("err = %v, want ErrInsufficientResources", err)
	}
}

func TestSecondProposalWhilePending(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-2", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 2}, Take: Delta{"silver": 1}},
	})
	if err != ErrProposalAlreadyPending {
		t.Fatalf("err = %v, want ErrProposalAlreadyPending", err)
	}
}

func TestAcceptWithoutCoverageFails(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 9}},
	})
	_, err := Apply(s, Command{Act: CmdRespond, Participant: "bob", Accept: true, ExpectedVersion: s.Version})
	if err != ErrInsufficientResources {
		t.Fatalf("err = %v, want ErrInsufficientResources", err)
	}
	next := mustApply(t, s, Command{Act: CmdRespond, Participant: "bob", Accept: false, ExpectedVersion: s.Version})
	if next.History[0].Status != StatusRejected {
		t.Fatalf("reject should still be allowed, got %s", next.History[0].Status)
	}
}

func TestChipRoundBudgetEndsGame(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 2)
	s = allReadyState(t, s)
	senders := []string{"alice", "bob"}
	for i, sender := range senders {
		give := Delta{"gold": 1}
		if sender == "bob" {
			give = Delta{"silver": 1}
		}
		s = mustApply(t, s, Command{
			Act: CmdPropose, ActID: "act-" + sender, Participant: sender, ExpectedVersion: s.Version,
			Proposal: Proposal{Give: give, Take: Delta{"gold": 1}},
		})
		responder := senders[(i+1)%2]
		s = mustApply(t, s, Command{Act: CmdRespond, Participant: responder, Accept: false, ExpectedVersion: s.Version})
	}
	if !s.GameOver || s.Phase != PhaseGameOver || s.TurnHolder != "" {
		t.Fatalf("game should be over: over=%v phase=%s holder=%q", s.GameOver, s.Phase, s.TurnHolder)
	}
	_, err := Apply(s, Command{
		Act: CmdPropose, ActID: "act-late", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	if err != ErrGameAlreadyOver {
		t.Fatalf("err = %v, want ErrGameAlreadyOver", err)
	}
}

func TestForceTimeout(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	s = mustApply(t, s, Command{Act: CmdTimeout, ExpectedVersion: s.Version})
	if !s.GameOver || !s.TimedOut {
		t.Fatalf("over=%v timedOut=%v", s.GameOver, s.TimedOut)
	}
	tx := s.History[0]
	if tx.Status != StatusRejected || tx.Cause != CauseTimeout {
		t.Fatalf("pending transaction not voided: %+v", tx)
	}
	if s.Chip.Ledger.Count("alice", "gold") != 10 {
		t.Fatalf("timeout moved chips: %v", s.Chip.Ledger)
	}
}

func TestReassignTurnDiscardsPending(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	s = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
	})
	s = mustApply(t, s, Command{Act: CmdReassign, Participant: "bob", ExpectedVersion: s.Version})
	if s.TurnHolder != "bob" || s.Phase != PhaseAwaitingProposal {
		t.Fatalf("holder=%s phase=%s", s.TurnHolder, s.Phase)
	}
	if s.History[0].Status != StatusRejected || s.History[0].Cause != CauseOverride {
		t.Fatalf("pending transaction not voided: %+v", s.History[0])
	}
}

func TestApplyNeverMutatesInput(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	s = allReadyState(t, s)
	before := s.Clone()
	_ = mustApply(t, s, Command{
		Act: CmdPropose, ActID: "act-1", Participant: "alice", ExpectedVersion: s.Version,
		Proposal: Proposal{Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
	})
	if s.Version != before.Version || len(s.History) != len(before.History) {
		t.Fatalf("input state mutated: version=%d history=%d", s.Version, len(s.History))
	}
	if s.Chip.Ledger.Count("alice", "gold") != before.Chip.Ledger.Count("alice", "gold") {
		t.Fatalf("input ledger mutated")
	}
}

func TestOfferPreview(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 4)
	// alice: gold=10 valued at 2 each, silver valued at 4.
	before, after := OfferPreview(s, "alice", Delta{"silver": 2}, Delta{"gold": 3})
	if before != 20 {
		t.Fatalf("before = %d, want 20", before)
	}
	if after != 22 {
		t.Fatalf("after = %d, want 22", after)
	}
}
