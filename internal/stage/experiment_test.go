package stage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExperiment(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		t.Fatal(err)
	}
	stageYAML := `
id: bargain-1
kind: BARGAIN
bargain:
  buyer_valuation_min: 40
  buyer_valuation_max: 80
  seller_valuation_min: 10
  seller_valuation_max: 50
  max_turns: 6
  seed: 7
`
	if err := os.WriteFile(filepath.Join(dir, "stages", "bargain.yaml"), []byte(stageYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	expYAML := `
id: exp1
cohorts:
  - id: c1
    participants:
      - public_id: alice
      - public_id: bob
stages:
  - stages/bargain.yaml
`
	path := filepath.Join(dir, "experiment.yaml")
	if err := os.WriteFile(path, []byte(expYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	exp, stages, err := LoadExperiment(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exp.ID != "exp1" || len(exp.Cohorts) != 1 {
		t.Fatalf("experiment = %+v", exp)
	}
	if got := exp.Cohorts[0].ParticipantIDs(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("participant ids = %v", got)
	}
	if len(stages) != 1 || stages[0].ID != "bargain-1" {
		t.Fatalf("stages = %+v", stages)
	}
}

func TestLoadExperimentRejectsEmptyCohort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiment.yaml")
	bad := `
id: exp1
cohorts:
  - id: c1
    participants: []
stages:
  - stages/none.yaml
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadExperiment(path); err == nil {
		t.Fatal("expected error for cohort without participants")
	}
}
