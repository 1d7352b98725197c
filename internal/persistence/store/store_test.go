package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DialectSQLite, filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ExperimentID: "exp1", CohortID: "c1", StageID: "chip-1"}

	rec := StateRecord{Key: key, Version: 1, Payload: []byte(`{"version":1}`)}
	if err := s.SaveState(ctx, rec, 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	got, err := s.LoadState(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 || string(got.Payload) != `{"version":1}` {
		t.Fatalf("got %+v", got)
	}

	rec.Version = 2
	rec.GameOver = true
	rec.Payload = []byte(`{"version":2}`)
	if err := s.SaveState(ctx, rec, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.LoadState(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 2 || !got.GameOver {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveStateVersionConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ExperimentID: "exp1", CohortID: "c1", StageID: "chip-1"}

	if err := s.SaveState(ctx, StateRecord{Key: key, Version: 1, Payload: []byte(`{}`)}, 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	// A writer that read version 0 must lose to the one that wrote version 1.
	err := s.SaveState(ctx, StateRecord{Key: key, Version: 1, Payload: []byte(`{"late":true}`)}, 0)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	got, err := s.LoadState(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got.Payload) != `{}` {
		t.Fatalf("conflicting write landed: %s", got.Payload)
	}
}

func TestLoadStateNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadState(context.Background(), Key{ExperimentID: "x", CohortID: "y", StageID: "z"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendTransactionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ExperimentID: "exp1", CohortID: "c1", StageID: "chip-1"}

	rec := TransactionRecord{
		Key: key, Seq: 0, Round: 0, Sender: "alice", Status: "ACCEPTED",
		Payload: []byte(`{"round":0}`),
	}
	if err := s.AppendTransaction(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Redelivery of the same seq must not duplicate the row.
	if err := s.AppendTransaction(ctx, rec); err != nil {
		t.Fatalf("re-append: %v", err)
	}
	rec.Seq = 1
	rec.Status = "REJECTED"
	if err := s.AppendTransaction(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	txs, err := s.ListTransactions(ctx, key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("rows = %d, want 2", len(txs))
	}
	if txs[0].Status != "ACCEPTED" || txs[1].Status != "REJECTED" {
		t.Fatalf("rows = %+v", txs)
	}
}

func TestOverrideLogSequenced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ExperimentID: "exp1", CohortID: "c1", StageID: "grid-1"}

	for _, action := range []string{"FORCE_TIMEOUT", "REASSIGN_TURN"} {
		err := s.AppendOverride(ctx, OverrideRecord{
			Key: key, Operator: "op1", Action: action, Detail: "turn stuck",
		})
		if err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}
	ovs, err := s.ListOverrides(ctx, key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ovs) != 2 || ovs[0].Action != "FORCE_TIMEOUT" || ovs[1].Action != "REASSIGN_TURN" {
		t.Fatalf("overrides = %+v", ovs)
	}
}
