// Command kanon-worker runs k-anonymity comparison workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/gpu"
	"github.com/luxfi/kanon/internal/pipeline"
	"github.com/luxfi/kanon/internal/queue"
	"github.com/luxfi/kanon/internal/storage"
	"github.com/luxfi/kanon/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run() error {
	var (
		numWorkers  = flag.Int("workers", 4, "number of concurrent jobs")
		redisAddr   = flag.String("redis", envOr("KANON_REDIS", "localhost:6379"), "Redis address")
		redisDB     = flag.Int("redis-db", 0, "Redis database number")
		queueName   = flag.String("queue", "default", "queue name")
		memory      = flag.Bool("memory", false, "use an in-memory queue and table store instead of Redis")
		preset      = flag.String("preset", envOr("KANON_PRESET", "PN13QP218T65537"), "parameter preset")
		backend     = flag.String("backend", pipeline.BackendHost, "backend for jobs that do not name one")
		hostWorkers = flag.Int("host-workers", 0, "host backend workers (default: NumCPU)")
		streams     = flag.Int("streams", 0, "device backend streams (default: NumCPU)")
		arenaMB     = flag.Int64("arena", 0, "device arena size in MB (default: 4096)")
		maxRows     = flag.Int("max-rows", 4096, "largest accepted dataset")
		tablePath   = flag.String("tables", "", "coefficient table and key directory (default: Redis, or memory with -memory)")
		keyName     = flag.String("keys", "", "persist the key set under this name in the table store")
		metricsAddr = flag.String("metrics", ":9090", "metrics server address")
	)
	flag.Parse()

	logger := log.Root()

	lit, ok := kanon.Presets[*preset]
	if !ok {
		return fmt.Errorf("unknown preset %q", *preset)
	}
	params, err := kanon.NewParametersFromLiteral(lit)
	if err != nil {
		return fmt.Errorf("create parameters: %w", err)
	}
	if !params.Secure128() {
		logger.Warn("preset is below 128-bit security", "preset", *preset, "logQP", params.LogQP())
	}

	logger.Info("kanon worker starting",
		"workers", *numWorkers,
		"preset", *preset,
		"modulus", params.Modulus(),
		"slots", params.Slots(),
		"backend", *backend,
		"memory", *memory,
		"metrics", *metricsAddr,
	)

	// Queue.
	var q queue.Queue
	if *memory {
		q = queue.NewMemoryQueue(1024)
	} else {
		rq, err := queue.NewRedisQueue(queue.RedisConfig{Addr: *redisAddr, DB: *redisDB}, *queueName)
		if err != nil {
			return fmt.Errorf("create queue: %w", err)
		}
		q = rq
	}
	defer q.Close()

	// Coefficient tables.
	var store storage.Storage
	switch {
	case *tablePath != "":
		store, err = storage.NewFileStorage(*tablePath)
	case *memory:
		store = storage.NewMemoryStorage(1024)
	default:
		store, err = storage.NewRedisStorage(storage.RedisConfig{Addr: *redisAddr, DB: *redisDB}, "tables", 0)
	}
	if err != nil {
		return fmt.Errorf("create table store: %w", err)
	}
	tables := pipeline.NewTableStore(store)
	defer tables.Close()

	// Keys and backends.
	start := time.Now()
	var keys *kanon.KeySet
	if *keyName != "" {
		var created bool
		keys, created, err = pipeline.LoadOrCreateKeys(context.Background(), store, *keyName, params)
		if err != nil {
			return err
		}
		logger.Info("keys ready", "name", *keyName, "created", created, "elapsed", time.Since(start))
	} else {
		keys = kanon.NewKeyGenerator(params).GenKeySet()
		logger.Info("keys generated", "elapsed", time.Since(start))
	}
	kc, err := kanon.NewContext(params, keys)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}

	cfg := pipeline.BackendConfig{
		Host:   kanon.HostConfig{Workers: *hostWorkers},
		Device: gpu.Config{Streams: *streams, MemoryMB: *arenaMB, Logger: logger},
	}
	if cfg.Host.Workers <= 0 {
		cfg.Host = kanon.DefaultHostConfig()
	}
	backends := pipeline.NewBackends(kc, cfg, *backend)
	defer backends.Close()
	if _, err := backends.Get(""); err != nil {
		return fmt.Errorf("create backend: %w", err)
	}

	// Worker pool.
	pool := pipeline.NewWorkerPool(pipeline.WorkerConfig{
		Workers:      *numWorkers,
		MaxRows:      *maxRows,
		Logger:       logger,
		DefaultTable: params.Modulus(),
	}, q, kc, backends, tables)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	// Metrics server.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !pool.Running() {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		st := kc.Stats()
		fmt.Fprintf(w, "# HELP kanon_jobs_total Total comparison jobs\n")
		fmt.Fprintf(w, "# TYPE kanon_jobs_total counter\n")
		fmt.Fprintf(w, "kanon_jobs_total{status=\"success\"} %d\n", pool.Succeeded())
		fmt.Fprintf(w, "kanon_jobs_total{status=\"failure\"} %d\n", pool.Failed())
		fmt.Fprintf(w, "# HELP kanon_he_operations_total Homomorphic operations on the request context\n")
		fmt.Fprintf(w, "# TYPE kanon_he_operations_total counter\n")
		fmt.Fprintf(w, "kanon_he_operations_total{op=\"encrypt\"} %d\n", st.Encryptions)
		fmt.Fprintf(w, "kanon_he_operations_total{op=\"multiply\"} %d\n", st.Multiplications)
		fmt.Fprintf(w, "kanon_he_operations_total{op=\"relinearize\"} %d\n", st.Relinearizations)
		if mq, ok := q.(*queue.MemoryQueue); ok {
			fmt.Fprintf(w, "# TYPE kanon_queue_pending gauge\n")
			fmt.Fprintf(w, "kanon_queue_pending %d\n", mq.Pending())
		}
	})

	// Without a shared queue the worker serves the gateway API itself.
	if *memory {
		gw := server.New(server.Config{
			Modulus: params.Modulus(),
			Slots:   params.Slots(),
			MaxRows: *maxRows,
			Logger:  logger,
		}, q).Handler()
		mux.Handle("/jobs", gw)
		mux.Handle("/jobs/", gw)
	}

	srv := &http.Server{
		Addr:    *metricsAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("metrics server starting", "addr", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal", "signal", sig.String())

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", "err", err)
	}
	if err := pool.Stop(); err != nil {
		logger.Warn("worker pool shutdown error", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}
