// Package store persists stage states and their append-only history in a
// relational database. It speaks both sqlite (single-node default) and
// postgres (shared deployments) through database/sql; the dialect only
// changes the driver, the DSN and the placeholder syntax.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var (
	// ErrNotFound is returned when no state row exists for a key.
	ErrNotFound = errors.New("store: state not found")
	// ErrVersionConflict is returned when a compare-and-swap save loses the
	// race: the stored version no longer matches the caller's expectation.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Key identifies one stage instance: a stage within a cohort within an
// experiment.
type Key struct {
	ExperimentID string
	CohortID     string
	StageID      string
}

func (k Key) String() string {
	return k.ExperimentID + "/" + k.CohortID + "/" + k.StageID
}

// StateRecord is one versioned snapshot of a stage instance. Payload is
// the JSON-encoded engine state.
type StateRecord struct {
	Key       Key
	Version   uint64
	GameOver  bool
	Payload   []byte
	UpdatedAt time.Time
}

// TransactionRecord is one append-only history row.
type TransactionRecord struct {
	Key     Key
	Seq     int
	Round   int
	Sender  string
	Status  string
	Payload []byte
}

// OverrideRecord logs one administrative intervention.
type OverrideRecord struct {
	Key       Key
	Operator  string
	Action    string
	Detail    string
	CreatedAt time.Time
}

type Store struct {
	dialect Dialect
	db      *sql.DB
}

// OpenFromEnv opens a store from DB_DIALECT, DB_SQLITE_PATH and
// DB_POSTGRES_DSN (or DATABASE_URL). An unset dialect defaults to sqlite.
func OpenFromEnv() (*Store, error) {
	dialectRaw := strings.TrimSpace(strings.ToLower(os.Getenv("DB_DIALECT")))
	if dialectRaw == "" {
		dialectRaw = string(DialectSQLite)
	}
	dialect := Dialect(dialectRaw)

	var dsn string
	switch dialect {
	case DialectSQLite:
		dsn = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))
		if dsn == "" {
			dsn = filepath.Join("data", "parleylab.sqlite")
		}
	case DialectPostgres:
		dsn = strings.TrimSpace(os.Getenv("DB_POSTGRES_DSN"))
		if dsn == "" {
			dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		}
		if dsn == "" {
			return nil, errors.New("DB_DIALECT=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", dialectRaw)
	}
	return Open(dialect, dsn)
}

func Open(dialect Dialect, dsn string) (*Store, error) {
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	case DialectPostgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	s := &Store{dialect: dialect, db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dialect == DialectSQLite {
		if err := s.initPragmas(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) initPragmas(ctx context.Context) error {
	// WAL suits the append-heavy history tables.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stage_states (
			experiment_id TEXT NOT NULL,
			cohort_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			game_over INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (experiment_id, cohort_id, stage_id)
		);`,
		`CREATE TABLE IF NOT EXISTS stage_transactions (
			experiment_id TEXT NOT NULL,
			cohort_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			round INTEGER NOT NULL,
			sender TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (experiment_id, cohort_id, stage_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sender
			ON stage_transactions(experiment_id, cohort_id, stage_id, sender);`,
		`CREATE TABLE IF NOT EXISTS stage_overrides (
			experiment_id TEXT NOT NULL,
			cohort_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			operator TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (experiment_id, cohort_id, stage_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) bind(pos int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

// SaveState writes a state snapshot under optimistic concurrency. expect
// is the version the caller read before producing rec; a mismatch with the
// stored row fails with ErrVersionConflict and writes nothing. The first
// save of a key must pass expect 0.
func (s *Store) SaveState(ctx context.Context, rec StateRecord, expect uint64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	update := fmt.Sprintf(
		`UPDATE stage_states SET version = %s, game_over = %s, payload = %s, updated_at = %s
		 WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s AND version = %s`,
		s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7), s.bind(8))
	res, err := s.db.ExecContext(ctx, update,
		int64(rec.Version), boolInt(rec.GameOver), string(rec.Payload), now,
		rec.Key.ExperimentID, rec.Key.CohortID, rec.Key.StageID, int64(expect))
	if err != nil {
		return fmt.Errorf("save state %s: %w", rec.Key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	exists, _, err := s.currentVersion(ctx, rec.Key)
	if err != nil {
		return err
	}
	if exists {
		return ErrVersionConflict
	}
	if expect != 0 {
		return ErrVersionConflict
	}

	insert := fmt.Sprintf(
		`INSERT INTO stage_states (experiment_id, cohort_id, stage_id, version, game_over, payload, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7))
	if _, err := s.db.ExecContext(ctx, insert,
		rec.Key.ExperimentID, rec.Key.CohortID, rec.Key.StageID,
		int64(rec.Version), boolInt(rec.GameOver), string(rec.Payload), now); err != nil {
		// A concurrent insert of the same key surfaces as a primary key
		// violation; report it as the conflict it is.
		return ErrVersionConflict
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context, key Key) (bool, uint64, error) {
	q := fmt.Sprintf(
		`SELECT version FROM stage_states WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s`,
		s.bind(1), s.bind(2), s.bind(3))
	var v int64
	err := s.db.QueryRowContext(ctx, q, key.ExperimentID, key.CohortID, key.StageID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("read version %s: %w", key, err)
	}
	return true, uint64(v), nil
}

// LoadState reads the current snapshot for a key.
func (s *Store) LoadState(ctx context.Context, key Key) (StateRecord, error) {
	q := fmt.Sprintf(
		`SELECT version, game_over, payload, updated_at FROM stage_states
		 WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s`,
		s.bind(1), s.bind(2), s.bind(3))
	var (
		version   int64
		gameOver  int
		payload   string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, q, key.ExperimentID, key.CohortID, key.StageID).
		Scan(&version, &gameOver, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, ErrNotFound
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("load state %s: %w", key, err)
	}
	rec := StateRecord{
		Key:      key,
		Version:  uint64(version),
		GameOver: gameOver != 0,
		Payload:  []byte(payload),
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

// AppendTransaction records one resolved history entry. Seq is the entry's
// position in the stage history; re-appending an existing seq is a no-op so
// redelivered writes stay idempotent.
func (s *Store) AppendTransaction(ctx context.Context, rec TransactionRecord) error {
	insert := fmt.Sprintf(
		`INSERT INTO stage_transactions (experiment_id, cohort_id, stage_id, seq, round, sender, status, payload, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7), s.bind(8), s.bind(9))
	if s.dialect == DialectPostgres {
		insert += " ON CONFLICT DO NOTHING"
	} else {
		insert = strings.Replace(insert, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, insert,
		rec.Key.ExperimentID, rec.Key.CohortID, rec.Key.StageID,
		rec.Seq, rec.Round, rec.Sender, rec.Status, string(rec.Payload), now)
	if err != nil {
		return fmt.Errorf("append transaction %s seq=%d: %w", rec.Key, rec.Seq, err)
	}
	return nil
}

// ListTransactions returns a stage's history rows in sequence order.
func (s *Store) ListTransactions(ctx context.Context, key Key) ([]TransactionRecord, error) {
	q := fmt.Sprintf(
		`SELECT seq, round, sender, status, payload FROM stage_transactions
		 WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s ORDER BY seq`,
		s.bind(1), s.bind(2), s.bind(3))
	rows, err := s.db.QueryContext(ctx, q, key.ExperimentID, key.CohortID, key.StageID)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", key, err)
	}
	defer rows.Close()
	var out []TransactionRecord
	for rows.Next() {
		rec := TransactionRecord{Key: key}
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.Round, &rec.Sender, &rec.Status, &payload); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendOverride logs an administrative intervention. Overrides are
// sequenced after the existing rows for the key.
func (s *Store) AppendOverride(ctx context.Context, rec OverrideRecord) error {
	count := fmt.Sprintf(
		`SELECT COUNT(1) FROM stage_overrides WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s`,
		s.bind(1), s.bind(2), s.bind(3))
	var seq int
	if err := s.db.QueryRowContext(ctx, count,
		rec.Key.ExperimentID, rec.Key.CohortID, rec.Key.StageID).Scan(&seq); err != nil {
		return fmt.Errorf("sequence override %s: %w", rec.Key, err)
	}
	insert := fmt.Sprintf(
		`INSERT INTO stage_overrides (experiment_id, cohort_id, stage_id, seq, operator, action, detail, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7), s.bind(8))
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, insert,
		rec.Key.ExperimentID, rec.Key.CohortID, rec.Key.StageID,
		seq, rec.Operator, rec.Action, rec.Detail, now); err != nil {
		return fmt.Errorf("append override %s: %w", rec.Key, err)
	}
	return nil
}

// ListOverrides returns a stage's override log in sequence order.
func (s *Store) ListOverrides(ctx context.Context, key Key) ([]OverrideRecord, error) {
	q := fmt.Sprintf(
		`SELECT operator, action, detail, created_at FROM stage_overrides
		 WHERE experiment_id = %s AND cohort_id = %s AND stage_id = %s ORDER BY seq`,
		s.bind(1), s.bind(2), s.bind(3))
	rows, err := s.db.QueryContext(ctx, q, key.ExperimentID, key.CohortID, key.StageID)
	if err != nil {
		return nil, fmt.Errorf("list overrides %s: %w", key, err)
	}
	defer rows.Close()
	var out []OverrideRecord
	for rows.Next() {
		rec := OverrideRecord{Key: key}
		var detail sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.Operator, &rec.Action, &detail, &createdAt); err != nil {
			return nil, err
		}
		rec.Detail = detail.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
