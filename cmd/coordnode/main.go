// Package main implements coordnode, the coordination-kernel server: it
// hosts one coordination-manager session (C10) over the §6.1 external
// operation set, serving create/get_or_create/get/set_value/delete/
// get_session requests for every other process sharing its backing
// store.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               coordnode                  │
//	├─────────────────────────────────────────┤
//	│  HTTP API (coordhttp.Server):           │
//	│    /v1/entries/*  - entry operations    │
//	│    /v1/session    - this node's session │
//	│    /health        - liveness probe      │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    coord.Manager   - C10 orchestration  │
//	│    lockmgr.Manager - C7 lock state      │
//	│    sessionmgr.Manager - C6 lease/cascade│
//	│    cache.Cache      - C9 client cache   │
//	│    store.{Entry,Session}Store - C5      │
//	└─────────────────────────────────────────┘
//
// Configuration is environment-variable driven (see config.go), matching
// the teacher's COORDINATOR_ADDR convention rather than a config file;
// stdlib flag options override every setting except the node ID.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/coordkernel/internal/cache"
	"github.com/dreamware/coordkernel/internal/coord"
	"github.com/dreamware/coordkernel/internal/coordhttp"
	"github.com/dreamware/coordkernel/internal/lockmgr"
	"github.com/dreamware/coordkernel/internal/sessionmgr"
	"github.com/dreamware/coordkernel/internal/store"
	"github.com/dreamware/coordkernel/internal/waitmgr"
)

func main() {
	cfg := defaultConfig()
	flag.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "entry API listen address")
	flag.StringVar(&cfg.metricsAddr, "metrics-listen", cfg.metricsAddr, "metrics listen address, empty to disable")
	flag.StringVar(&cfg.dataDir, "data-dir", cfg.dataDir, "badger data directory (ignored with -in-memory)")
	flag.BoolVar(&cfg.inMemory, "in-memory", cfg.inMemory, "use the in-memory reference store instead of badger")
	flag.DurationVar(&cfg.leaseLength, "lease-length", cfg.leaseLength, "session lease length")
	flag.IntVar(&cfg.cacheCapacity, "cache-capacity", cfg.cacheCapacity, "client cache LRU capacity")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordnode: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("coordnode exited with error", zap.Error(err))
	}
}

func run(cfg config, log *zap.Logger) error {
	entries, sessions, closeStores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStores()

	registry := prometheus.NewRegistry()
	waiters := waitmgr.NewManager(waitmgr.WithLogger(log))

	sm := sessionmgr.NewManager(entries, sessions, waiters, sessionmgr.Config{LeaseLength: cfg.leaseLength},
		sessionmgr.WithLogger(log), sessionmgr.WithMetrics(registry))

	physicalAddr, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("generate session physical address: %w", err)
	}
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	sid, err := sm.Start(startCtx, []byte(cfg.nodeID), physicalAddr[:])
	cancelStart()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sm.Stop()
	log.Info("session started", zap.String("session", sid.Compact()))

	locks := lockmgr.NewManager(entries, waiters, sm, lockmgr.WithLogger(log))
	cch, err := cache.New(cfg.cacheCapacity)
	if err != nil {
		return fmt.Errorf("build client cache: %w", err)
	}

	mgr := coord.NewManager(entries, locks, waiters, sm, cch, cfg.leaseLength, coord.WithLogger(log))
	apiSrv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           coordhttp.NewServer(mgr, coordhttp.WithLogger(log)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("entry API listening", zap.String("addr", cfg.listenAddr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("entry API: %w", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutdown signal received")
	case err := <-errs:
		log.Error("server failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("entry API shutdown error", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown error", zap.Error(err))
		}
	}
	log.Info("coordnode stopped")
	return nil
}

// openStores builds the entry and session stores per cfg, returning a
// close function that releases any underlying badger handles (a no-op
// for the in-memory store).
func openStores(cfg config) (store.EntryStore, store.SessionStore, func(), error) {
	if cfg.inMemory {
		return store.NewMemoryEntryStore(), store.NewMemorySessionStore(), func() {}, nil
	}

	entries, err := store.NewBadgerEntryStore(store.BadgerOptions{Dir: cfg.dataDir + "/entries"})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open entry store: %w", err)
	}
	sessions, err := store.NewBadgerSessionStore(store.BadgerOptions{Dir: cfg.dataDir + "/sessions"})
	if err != nil {
		entries.Close() //nolint:errcheck
		return nil, nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return entries, sessions, func() {
		entries.Close()  //nolint:errcheck
		sessions.Close() //nolint:errcheck
	}, nil
}
