// Package main provides the trade relay service:
// - Webhook ingestion: parse swap notification batches into trade events
// - Workers: apply trades to storage (trades, candles, holders) via the job queue
// - WebSocket fan-out: stream confirmed trades to subscribers per mint
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-trade-relay/internal/broker"
	"solana-trade-relay/internal/ingest"
	"solana-trade-relay/internal/observability"
	"solana-trade-relay/internal/parser"
	"solana-trade-relay/internal/queue"
	"solana-trade-relay/internal/storage"
	chstore "solana-trade-relay/internal/storage/clickhouse"
	"solana-trade-relay/internal/storage/memory"
	"solana-trade-relay/internal/storage/migrations"
	pgstore "solana-trade-relay/internal/storage/postgres"
	"solana-trade-relay/internal/worker"
	"solana-trade-relay/internal/ws"
)

const jobStream = "trades:jobs"

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address for webhook and WebSocket endpoints")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address (queue, dedup, pub/sub)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the tick archive (optional)")
	workers := flag.Int("workers", 5, "Number of trade workers")
	maxAttempts := flag.Int("max-attempts", 3, "Attempts per job before parking")
	backoff := flag.Duration("backoff", time.Second, "Base retry backoff")
	dedupTTL := flag.Duration("dedup-ttl", ingest.DefaultDedupTTL, "Ingest-side signature dedup window")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage, queue and broker instead of Postgres/Redis")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *redisAddr == "") {
		logger.Fatal("--postgres-dsn and --redis-addr are required (use --use-memory for in-process backends)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	deps, cleanup, err := createDeps(ctx, depsConfig{
		postgresDSN:   *postgresDSN,
		redisAddr:     *redisAddr,
		clickhouseDSN: *clickhouseDSN,
		dedupTTL:      *dedupTTL,
		useMemory:     *useMemory,
		logger:        logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create dependencies: %v", err)
	}
	defer cleanup()

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, deps, runConfig{
		listenAddr:  *listenAddr,
		metricsAddr: *metricsAddr,
		workers:     *workers,
		maxAttempts: *maxAttempts,
		backoff:     *backoff,
	}, logger)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Relay error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type depsConfig struct {
	postgresDSN   string
	redisAddr     string
	clickhouseDSN string
	dedupTTL      time.Duration
	useMemory     bool
	logger        *log.Logger
}

type runConfig struct {
	listenAddr  string
	metricsAddr string
	workers     int
	maxAttempts int
	backoff     time.Duration
}

// deps holds the wired pipeline components.
type deps struct {
	store   storage.TradeStore
	archive storage.TickArchive
	queue   queue.Queue
	dedup   ingest.Deduper
	broker  broker.Broker

	chArchive *chstore.TickArchive
}

// createDeps wires storage, queue, dedup and broker for the selected mode.
func createDeps(ctx context.Context, cfg depsConfig) (*deps, func(), error) {
	if cfg.useMemory {
		b := broker.NewMemoryBroker()
		d := &deps{
			store:   memory.NewTradeStore(),
			archive: memory.NewTickArchive(),
			queue:   queue.NewMemoryQueue(0),
			dedup:   ingest.NewMemoryDeduper(cfg.dedupTTL),
			broker:  b,
		}
		return d, func() { b.Close() }, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	// Redis
	client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	b := broker.NewRedisBroker(client, cfg.logger)

	d := &deps{
		store: pgstore.NewTradeStore(pool),
		queue: queue.NewRedisQueue(client, queue.RedisQueueOptions{
			Stream: jobStream,
			Logger: cfg.logger,
		}),
		dedup:  ingest.NewRedisDeduper(client, cfg.dedupTTL),
		broker: b,
	}

	cleanups := []func(){
		func() { pool.Close() },
		func() { client.Close() },
		func() { b.Close() },
	}

	// ClickHouse tick archive is optional
	if cfg.clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			for _, fn := range cleanups {
				fn()
			}
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		archive := chstore.NewTickArchive(chConn, 0)
		d.archive = archive
		d.chArchive = archive
		cleanups = append(cleanups, func() { chConn.Close() })
	}

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return d, cleanup, nil
}

// run starts the workers, the fan-out loop and the HTTP servers, and
// blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, d *deps, cfg runConfig, logger *log.Logger) error {
	hub := ws.NewHub(d.broker, log.New(os.Stdout, "[ws] ", log.LstdFlags))
	go hub.Run(ctx, d.broker.Messages())

	pool := worker.NewPool(d.queue, d.store, d.broker, d.archive, worker.Options{
		Concurrency: cfg.workers,
		MaxAttempts: cfg.maxAttempts,
		Backoff:     cfg.backoff,
	}, log.New(os.Stdout, "[worker] ", log.LstdFlags))

	handler := ingest.NewHandler(
		parser.New(log.New(os.Stdout, "[parser] ", log.LstdFlags)),
		d.dedup,
		d.queue,
		log.New(os.Stdout, "[ingest] ", log.LstdFlags),
	)

	errCh := make(chan error, 3)

	go func() {
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("worker pool: %w", err)
		}
	}()

	if d.chArchive != nil {
		go d.chArchive.RunFlusher(ctx, 5*time.Second)
	}

	// Main HTTP server: webhook + WebSocket
	mux := http.NewServeMux()
	mux.Handle("/webhook", handler)
	mux.Handle("/ws", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.listenAddr, Handler: mux}
	go func() {
		logger.Printf("Listening on %s", cfg.listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsSrv := &http.Server{Addr: cfg.metricsAddr, Handler: metricsMux}
	go func() {
		logger.Printf("Metrics on %s", cfg.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("Metrics server error: %v", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	return err
}

// envOr returns the environment variable value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
