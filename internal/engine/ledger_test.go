package engine

import "testing"

func TestTransferMovesChips(t *testing.T) {
	l := Ledger{
		"alice": {"gold": 10},
		"bob":   {"silver": 8},
	}
	if err := l.Transfer("alice", "bob", Delta{"gold": 3}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Count("alice", "gold"); got != 7 {
		t.Fatalf("alice gold = %d, want 7", got)
	}
	if got := l.Count("bob", "gold"); got != 3 {
		t.Fatalf("bob gold = %d, want 3", got)
	}
}

func TestTransferInsufficientLeavesLedgerUntouched(t *testing.T) {
	l := Ledger{
		"alice": {"gold": 2, "silver": 1},
		"bob":   {},
	}
	err := l.Transfer("alice", "bob", Delta{"gold": 1, "silver": 5})
	if err != ErrInsufficientResources {
		t.Fatalf("err = %v, want ErrInsufficientResources", err)
	}
	if l.Count("alice", "gold") != 2 || l.Count("alice", "silver") != 1 {
		t.Fatalf("alice holdings mutated: %v", l["alice"])
	}
	if l.Count("bob", "gold") != 0 {
		t.Fatalf("bob received chips from a failed transfer: %v", l["bob"])
	}
}

func TestTotalsConservedAcrossTransfers(t *testing.T) {
	l := Ledger{
		"alice": {"gold": 10, "silver": 2},
		"bob":   {"gold": 1, "silver": 8},
		"carol": {"gold": 4},
	}
	want := l.Totals()
	if err := l.Transfer("alice", "bob", Delta{"gold": 3}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := l.Transfer("bob", "carol", Delta{"silver": 5}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got := l.Totals()
	for chipID, n := range want {
		if got[chipID] != n {
			t.Fatalf("total %s = %d after transfers, want %d", chipID, got[chipID], n)
		}
	}
}

func TestValueOf(t *testing.T) {
	l := Ledger{"alice": {"gold": 3, "silver": 2}}
	values := Delta{"gold": 5, "silver": 1}
	if got := l.ValueOf("alice", values); got != 17 {
		t.Fatalf("ValueOf = %d, want 17", got)
	}
}

func TestDeltaPositive(t *testing.T) {
	cases := []struct {
		d    Delta
		want bool
	}{
		{Delta{"gold": 1}, true},
		{Delta{"gold": 2, "silver": 3}, true},
		{Delta{}, false},
		{nil, false},
		{Delta{"gold": 0}, false},
		{Delta{"gold": 1, "silver": -2}, false},
	}
	for _, c := range cases {
		if got := c.d.Positive(); got != c.want {
			t.Fatalf("Positive(%v) = %v, want %v", c.d, got, c.want)
		}
	}
}
