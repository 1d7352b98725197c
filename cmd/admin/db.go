package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"parleylab/internal/persistence/store"
)

// dbCmd queries the state store directly, for offline inspection when no
// server is running. Dialect and DSN come from the DB_* environment, same
// as the server.
func dbCmd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin db <state|transactions|overrides> [flags]")
		os.Exit(2)
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("db "+sub, flag.ExitOnError)
	experiment := fs.String("experiment", "", "experiment id")
	cohort := fs.String("cohort", "", "cohort id")
	stage := fs.String("stage", "", "stage id")
	sqlitePath := fs.String("sqlite", "", "sqlite path override (default: DB_SQLITE_PATH)")
	_ = fs.Parse(rest)

	if *experiment == "" || *cohort == "" || *stage == "" {
		fmt.Fprintln(os.Stderr, "missing -experiment, -cohort or -stage")
		os.Exit(2)
	}
	if *sqlitePath != "" {
		_ = os.Setenv("DB_DIALECT", string(store.DialectSQLite))
		_ = os.Setenv("DB_SQLITE_PATH", *sqlitePath)
	}

	db, err := store.OpenFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := store.Key{ExperimentID: *experiment, CohortID: *cohort, StageID: *stage}

	switch sub {
	case "state":
		rec, err := db.LoadState(ctx, key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load state:", err)
			os.Exit(1)
		}
		printJSON(map[string]any{
			"version":    rec.Version,
			"game_over":  rec.GameOver,
			"updated_at": rec.UpdatedAt,
			"state":      json.RawMessage(rec.Payload),
		})

	case "transactions":
		recs, err := db.ListTransactions(ctx, key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list transactions:", err)
			os.Exit(1)
		}
		for _, r := range recs {
			printJSON(map[string]any{
				"seq":         r.Seq,
				"round":       r.Round,
				"sender":      r.Sender,
				"status":      r.Status,
				"transaction": json.RawMessage(r.Payload),
			})
		}

	case "overrides":
		recs, err := db.ListOverrides(ctx, key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list overrides:", err)
			os.Exit(1)
		}
		for _, r := range recs {
			printJSON(map[string]any{
				"operator":   r.Operator,
				"action":     r.Action,
				"detail":     r.Detail,
				"created_at": r.CreatedAt,
			})
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown db subcommand:", sub)
		os.Exit(2)
	}
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
