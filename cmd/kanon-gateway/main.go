// Command kanon-gateway runs the job gateway in front of the worker queue.
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
	"github.com/luxfi/kanon/internal/queue"
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
		redisAddr = flag.String("redis", envOr("KANON_REDIS", "localhost:6379"), "Redis address")
		redisDB   = flag.Int("redis-db", 0, "Redis database number")
		queueName = flag.String("queue", "default", "queue name")
		preset    = flag.String("preset", envOr("KANON_PRESET", "PN13QP218T65537"), "parameter preset of the workers")
		maxRows   = flag.Int("max-rows", 4096, "largest accepted dataset")
		httpAddr  = flag.String("http", ":8080", "HTTP API address")
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

	logger.Info("kanon gateway starting",
		"redis", *redisAddr,
		"queue", *queueName,
		"preset", *preset,
		"http", *httpAddr,
	)

	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr: *redisAddr,
		DB:   *redisDB,
	}, *queueName)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	gw := server.New(server.Config{
		Modulus: params.Modulus(),
		Slots:   params.Slots(),
		MaxRows: *maxRows,
		Logger:  logger,
	}, q)

	srv := &http.Server{
		Addr:         *httpAddr,
		Handler:      gw.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", *httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}
