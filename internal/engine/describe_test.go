package engine

import (
	"strings"
	"testing"
)

func TestDescribeTransactionChip(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 6)
	tx := Transaction{
		Round:     2,
		Proposal:  Proposal{Sender: "alice", Give: Delta{"gold": 3}, Take: Delta{"silver": 2}},
		Status:    StatusAccepted,
		Recipient: "bob",
	}
	got := DescribeTransaction(s, tx)
	want := "round 2: alice offered 3 gold for 2 silver; accepted by bob"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDescribeTransactionBargainDeclined(t *testing.T) {
	s := bargainState(6)
	tx := Transaction{
		Round:    0,
		Proposal: Proposal{Sender: s.Bargain.SellerID, Price: 55},
		Status:   StatusRejected,
	}
	got := DescribeTransaction(s, tx)
	if !strings.Contains(got, "(seller) offered price 55") || !strings.HasSuffix(got, "declined") {
		t.Fatalf("got %q", got)
	}
}

func TestDescribeTransactionTimeout(t *testing.T) {
	s := chipState([]string{"alice", "bob"}, 6)
	tx := Transaction{
		Round:    1,
		Proposal: Proposal{Sender: "alice", Give: Delta{"gold": 1}, Take: Delta{"silver": 1}},
		Status:   StatusRejected,
		Cause:    CauseTimeout,
	}
	if got := DescribeTransaction(s, tx); !strings.HasSuffix(got, "voided by timeout") {
		t.Fatalf("got %q", got)
	}
}
