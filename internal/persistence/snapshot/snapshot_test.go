package snapshot

import (
	"testing"

	"parleylab/internal/engine"
	"parleylab/internal/payout"
)

func TestArchiveRoundtrip(t *testing.T) {
	price := 40
	state := &engine.State{
		Kind:         engine.KindBargain,
		StageID:      "bargain-1",
		Version:      9,
		Phase:        engine.PhaseGameOver,
		Round:        2,
		Participants: []string{"alice", "bob"},
		GameOver:     true,
		History: []engine.Transaction{
			{Round: 0, Proposal: engine.Proposal{Sender: "alice", Price: 55}, Status: engine.StatusRejected},
			{Round: 1, Proposal: engine.Proposal{Sender: "bob", Price: 40}, Status: engine.StatusAccepted},
		},
		Bargain: &engine.BargainData{
			BuyerID:     "alice",
			SellerID:    "bob",
			Valuations:  map[string]int{"alice": 60, "bob": 30},
			MaxTurns:    6,
			AgreedPrice: &price,
		},
	}
	arch := ArchiveV1{
		Header: Header{
			Version:      1,
			ExperimentID: "exp1",
			CohortID:     "c1",
			StageID:      "bargain-1",
			StateVersion: 9,
		},
		State: state,
		Payouts: []payout.Result{
			{ParticipantID: "alice", Currency: payout.CurrencyUSD, Base: 300, Bonuses: []payout.Bonus{}, Total: 300},
			{ParticipantID: "bob", Currency: payout.CurrencyUSD, Base: 300, Bonuses: []payout.Bonus{}, Total: 300},
		},
	}

	path := Path(t.TempDir(), "exp1", "c1", "bargain-1")
	if err := WriteArchive(path, arch); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != arch.Header {
		t.Fatalf("header = %+v", got.Header)
	}
	if got.State == nil || got.State.Version != 9 || !got.State.GameOver {
		t.Fatalf("state = %+v", got.State)
	}
	gotPrice, ok := engine.AgreedPrice(got.State)
	if !ok || gotPrice != 40 {
		t.Fatalf("agreed price = %d ok=%v", gotPrice, ok)
	}
	if len(got.State.History) != 2 || got.State.History[1].Status != engine.StatusAccepted {
		t.Fatalf("history = %+v", got.State.History)
	}
	if len(got.Payouts) != 2 || got.Payouts[0].Total != 300 {
		t.Fatalf("payouts = %+v", got.Payouts)
	}
}
