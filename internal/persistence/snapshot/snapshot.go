// Package snapshot archives terminal stage states to compressed files so
// completed negotiations can be audited and payouts recomputed long after
// the database rows are gone.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"parleylab/internal/engine"
	"parleylab/internal/payout"
)

type Header struct {
	Version      int    `json:"version"`
	ExperimentID string `json:"experiment_id"`
	CohortID     string `json:"cohort_id"`
	StageID      string `json:"stage_id"`
	StateVersion uint64 `json:"state_version"`
}

// ArchiveV1 captures everything needed to re-audit one finished stage:
// the full terminal state (history included) and the payouts projected
// from it at archive time.
type ArchiveV1 struct {
	Header Header `json:"header"`

	State   *engine.State   `json:"state"`
	Payouts []payout.Result `json:"payouts,omitempty"`
}

// Path returns the canonical archive location for a stage instance.
func Path(baseDir, experimentID, cohortID, stageID string) string {
	return filepath.Join(baseDir, "archive", experimentID, cohortID, stageID+".arch.zst")
}

func WriteArchive(path string, arch ArchiveV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	// Header line first so tools can identify an archive without decoding
	// the body.
	hb, _ := json.Marshal(arch.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&arch); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadArchive(path string) (ArchiveV1, error) {
	var arch ArchiveV1
	f, err := os.Open(path)
	if err != nil {
		return arch, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return arch, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Skip the header line; the gob body carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&arch); err != nil {
		return arch, fmt.Errorf("gob decode: %w", err)
	}
	return arch, nil
}
