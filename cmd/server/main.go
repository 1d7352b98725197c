package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"parleylab/internal/cohort"
	persistlog "parleylab/internal/persistence/log"
	"parleylab/internal/persistence/store"
	"parleylab/internal/stage"
	"parleylab/internal/transport/admin"
	"parleylab/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		expPath    = flag.String("experiment", "./configs/experiment.yaml", "experiment config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the state store (stages run in memory only)")
		enablePprf = flag.Bool("pprof", false, "expose pprof endpoints")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	exp, stages, err := stage.LoadExperiment(*expPath)
	if err != nil {
		logger.Fatalf("load experiment: %v", err)
	}

	var db *store.Store
	if !*disableDB {
		if strings.TrimSpace(os.Getenv("DB_SQLITE_PATH")) == "" {
			_ = os.Setenv("DB_SQLITE_PATH", filepath.Join(*dataDir, "parleylab.sqlite"))
		}
		db, err = store.OpenFromEnv()
		if err != nil {
			logger.Fatalf("open store: %v", err)
		}
		defer db.Close()
	} else {
		logger.Printf("state store disabled (-disable_db); stages will not survive restarts")
	}

	txnLog := persistlog.NewTransactionLogger(*dataDir)
	ovrLog := persistlog.NewOverrideLogger(*dataDir)
	defer txnLog.Close()
	defer ovrLog.Close()

	sinks := cohort.Sinks{
		Store:      db,
		TxnLog:     txnLog,
		OvrLog:     ovrLog,
		ArchiveDir: *dataDir,
	}

	ctx, cancel := signalContext()
	defer cancel()

	registry := cohort.NewRegistry(sinks, logger)
	defer registry.StopAll()
	for _, c := range exp.Cohorts {
		for _, cfg := range stages {
			key := store.Key{ExperimentID: exp.ID, CohortID: c.ID, StageID: cfg.ID}
			if _, err := registry.Provision(ctx, key, cfg, c.ParticipantIDs()); err != nil {
				logger.Fatalf("provision %s: %v", key, err)
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(registry, logger).Handler())
	admin.NewServer(registry, db, logger).Register(mux)
	if *enablePprf {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("experiment=%s cohorts=%d stages=%d listening on %s",
		exp.ID, len(exp.Cohorts), len(stages), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
