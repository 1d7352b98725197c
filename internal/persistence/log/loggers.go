package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"parleylab/internal/engine"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TransactionEntry is one resolved proposal as written to the audit trail.
type TransactionEntry struct {
	ExperimentID string             `json:"experiment_id"`
	CohortID     string             `json:"cohort_id"`
	StageID      string             `json:"stage_id"`
	Version      uint64             `json:"version"`
	Seq          int                `json:"seq"`
	Transaction  engine.Transaction `json:"transaction"`
	At           string             `json:"at"`
}

// OverrideEntry is one administrative intervention as written to the
// override trail.
type OverrideEntry struct {
	ExperimentID string `json:"experiment_id"`
	CohortID     string `json:"cohort_id"`
	StageID      string `json:"stage_id"`
	Operator     string `json:"operator"`
	Action       string `json:"action"`
	Detail       string `json:"detail,omitempty"`
	At           string `json:"at"`
}

// TransactionLogger writes resolved transactions as compressed JSONL.
type TransactionLogger struct{ w *JSONLZstdWriter }

func NewTransactionLogger(dataDir string) *TransactionLogger {
	return &TransactionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "transactions"), "transactions")}
}

func (l *TransactionLogger) WriteTransaction(v TransactionEntry) error {
	v.At = time.Now().UTC().Format(time.RFC3339Nano)
	return l.w.Write(v)
}
func (l *TransactionLogger) Close() error { return l.w.Close() }

// OverrideLogger writes administrative overrides as compressed JSONL.
type OverrideLogger struct{ w *JSONLZstdWriter }

func NewOverrideLogger(dataDir string) *OverrideLogger {
	return &OverrideLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "overrides"), "overrides")}
}

func (l *OverrideLogger) WriteOverride(v OverrideEntry) error {
	v.At = time.Now().UTC().Format(time.RFC3339Nano)
	return l.w.Write(v)
}
func (l *OverrideLogger) Close() error { return l.w.Close() }
