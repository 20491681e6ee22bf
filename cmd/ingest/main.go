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

	"github.com/joho/godotenv"
	"gopkg.in/tomb.v2"

	"dexfeed/internal/aggregate"
	"dexfeed/internal/backfill"
	"dexfeed/internal/chain"
	"dexfeed/internal/chain/evm"
	"dexfeed/internal/connection"
	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
	"dexfeed/internal/pipeline"
	"dexfeed/internal/storage"
	chstore "dexfeed/internal/storage/clickhouse"
	"dexfeed/internal/storage/memory"
	"dexfeed/internal/storage/migrations"
	pgstore "dexfeed/internal/storage/postgres"
)

func main() {
	// Load .env if present; flags fall back to the resulting env vars.
	_ = godotenv.Load()

	mode := flag.String("mode", "live", "Ingestion mode: live or backfill")
	chains := flag.String("chains", "ethereum", "Comma-separated chains to ingest")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the candle mirror (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	pairsFlag := flag.String("pairs", "", "Comma-separated chain:pairAddress entries to track at startup")
	lookback := flag.Duration("lookback", backfill.DefaultLookback, "Backfill lookback window")
	flushInterval := flag.Duration("flush-interval", pipeline.DefaultFlushInterval, "Storage flush interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	chainList, err := parseChains(*chains)
	if err != nil {
		logger.Fatalf("Invalid --chains: %v", err)
	}

	seeds, err := parseSeedPairs(*pairsFlag)
	if err != nil {
		logger.Fatalf("Invalid --pairs: %v", err)
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

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

	store, cleanup, err := openStore(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer cleanup()

	writer := storage.NewBatchWriter(store, logger)
	recorder := aggregate.NewTxRecorder(store.Transactions)
	processor := aggregate.NewProcessor(recorder, writer, logger)
	ledger := aggregate.NewLedger(store.MarketMakers, writer)
	backfiller := backfill.NewRunner(backfill.RunnerOptions{
		Processor: processor,
		Ledger:    ledger,
		Writer:    writer,
		Logger:    logger,
		Lookback:  *lookback,
	})

	switch *mode {
	case "live":
		err = runLive(ctx, logger, chainList, seeds, liveOptions{
			processor:     processor,
			ledger:        ledger,
			writer:        writer,
			backfiller:    backfiller,
			flushInterval: *flushInterval,
		})
	case "backfill":
		err = runBackfill(ctx, logger, chainList, seeds, backfiller)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// parseChains parses the --chains flag into validated chain IDs.
func parseChains(s string) ([]domain.Chain, error) {
	var out []domain.Chain
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		c := domain.Chain(part)
		if !c.Valid() {
			return nil, fmt.Errorf("unsupported chain %q", part)
		}
		if c.Family() != domain.FamilyEVM {
			return nil, fmt.Errorf("chain %q has no live feed", part)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no chains specified")
	}
	return out, nil
}

// parseSeedPairs parses --pairs entries of the form chain:pairAddress.
func parseSeedPairs(s string) (map[domain.Chain][]string, error) {
	seeds := make(map[domain.Chain][]string)
	if s == "" {
		return seeds, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chainID, pair, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed pair entry %q, want chain:pairAddress", part)
		}
		c := domain.Chain(strings.ToLower(strings.TrimSpace(chainID)))
		if !c.Valid() {
			return nil, fmt.Errorf("unsupported chain in pair entry %q", part)
		}
		seeds[c] = append(seeds[c], strings.TrimSpace(pair))
	}
	return seeds, nil
}

// chainEndpoints reads the WS and RPC endpoints for a chain from env vars,
// e.g. ETHEREUM_WS_ENDPOINT and ETHEREUM_RPC_ENDPOINT.
func chainEndpoints(chainID domain.Chain) (ws, rpc string, err error) {
	prefix := strings.ToUpper(chainID.String())
	ws = os.Getenv(prefix + "_WS_ENDPOINT")
	rpc = os.Getenv(prefix + "_RPC_ENDPOINT")
	if ws == "" || rpc == "" {
		return "", "", fmt.Errorf("missing %s_WS_ENDPOINT or %s_RPC_ENDPOINT", prefix, prefix)
	}
	return ws, rpc, nil
}

// evmDialer builds a connection.Dialer for one EVM chain.
func evmDialer(chainID domain.Chain, ws, rpc string, logger *log.Logger) connection.Dialer {
	return func(ctx context.Context) (chain.Source, error) {
		return evm.DialSource(ctx, evm.SourceOptions{
			Chain:       chainID,
			WSEndpoint:  ws,
			RPCEndpoint: rpc,
			Logger:      logger,
		})
	}
}

// openStore builds the store bundle, running migrations for the backends in
// use. The cleanup func closes whatever connections were opened.
func openStore(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*storage.Store, func(), error) {
	if useMemory {
		return memory.NewStore(), func() {}, nil
	}
	if postgresDSN == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	store := pgstore.NewStore(pool)
	cleanup := func() { pool.Close() }

	// Optional ClickHouse mirror for candle analytics.
	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		store.Candles = storage.NewFanoutCandleStore(store.Candles, chstore.NewCandleStore(conn))
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return store, cleanup, nil
}

// liveOptions carries the shared aggregation components into runLive.
type liveOptions struct {
	processor     *aggregate.Processor
	ledger        *aggregate.Ledger
	writer        *storage.BatchWriter
	backfiller    *backfill.Runner
	flushInterval time.Duration
}

// runLive supervises one connection manager and one pipeline runner per
// chain under a shared tomb: the first fatal error tears everything down.
func runLive(ctx context.Context, logger *log.Logger, chainList []domain.Chain, seeds map[domain.Chain][]string, opts liveOptions) error {
	endpoints := make(map[domain.Chain][2]string, len(chainList))
	for _, chainID := range chainList {
		ws, rpc, err := chainEndpoints(chainID)
		if err != nil {
			return err
		}
		endpoints[chainID] = [2]string{ws, rpc}
	}

	tb, ctx := tomb.WithContext(ctx)

	for _, chainID := range chainList {
		ws, rpc := endpoints[chainID][0], endpoints[chainID][1]
		chainLogger := log.New(os.Stdout, fmt.Sprintf("[%s] ", chainID), log.LstdFlags|log.Lshortfile)
		manager := connection.NewManager(connection.ManagerOptions{
			Chain:  chainID,
			Dial:   evmDialer(chainID, ws, rpc, chainLogger),
			Logger: chainLogger,
		})
		runner := pipeline.NewRunner(pipeline.RunnerOptions{
			Manager:       manager,
			Processor:     opts.processor,
			Ledger:        opts.ledger,
			Writer:        opts.writer,
			FlushInterval: opts.flushInterval,
			Logger:        chainLogger,
		})

		for _, pair := range seeds[chainID] {
			runner.Track(pair)
		}

		tb.Go(func() error { return manager.Run(ctx) })
		tb.Go(func() error { return runner.Run(ctx) })

		// Backfill the seeded pairs once a handle is ready.
		if pairs := seeds[chainID]; len(pairs) > 0 {
			tb.Go(func() error {
				src, _, err := manager.WaitReady(ctx)
				if err != nil {
					return err
				}
				opts.backfiller.BackfillAll(ctx, src, pairs)
				return nil
			})
		}
	}

	logger.Printf("Live ingestion started for %d chain(s)", len(chainList))
	return tb.Wait()
}

// runBackfill dials each chain directly, replays the lookback window for
// its seeded pairs, and exits.
func runBackfill(ctx context.Context, logger *log.Logger, chainList []domain.Chain, seeds map[domain.Chain][]string, backfiller *backfill.Runner) error {
	for _, chainID := range chainList {
		pairs := seeds[chainID]
		if len(pairs) == 0 {
			logger.Printf("[%s] no pairs to backfill, skipping", chainID)
			continue
		}

		ws, rpc, err := chainEndpoints(chainID)
		if err != nil {
			return err
		}

		src, err := evm.DialSource(ctx, evm.SourceOptions{
			Chain:       chainID,
			WSEndpoint:  ws,
			RPCEndpoint: rpc,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("dial %s: %w", chainID, err)
		}

		logger.Printf("[%s] backfilling %d pair(s)", chainID, len(pairs))
		backfiller.BackfillAll(ctx, src, pairs)
		src.Close()
	}
	return nil
}
