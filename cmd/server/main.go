// Package main provides the unified service: live ingestion for every
// configured chain, on-demand pair resolution with automatic backfill,
// and the HTTP query API, all in one process.
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
	"dexfeed/internal/api"
	"dexfeed/internal/backfill"
	"dexfeed/internal/chain"
	"dexfeed/internal/chain/evm"
	"dexfeed/internal/connection"
	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
	"dexfeed/internal/pairs"
	"dexfeed/internal/pipeline"
	"dexfeed/internal/storage"
	chstore "dexfeed/internal/storage/clickhouse"
	"dexfeed/internal/storage/memory"
	"dexfeed/internal/storage/migrations"
	pgstore "dexfeed/internal/storage/postgres"
)

// Server wires the per-chain ingestion stacks to the shared aggregation
// components and the query API.
type Server struct {
	chains        []domain.Chain
	endpoints     map[domain.Chain][2]string
	flushInterval time.Duration
	lookback      time.Duration

	store      *storage.Store
	writer     *storage.BatchWriter
	processor  *aggregate.Processor
	ledger     *aggregate.Ledger
	backfiller *backfill.Runner
	resolver   *pairs.Resolver

	managers map[domain.Chain]*connection.Manager
	runners  map[domain.Chain]*pipeline.Runner

	logger *log.Logger
}

func main() {
	// Load .env if present; flags fall back to the resulting env vars.
	_ = godotenv.Load()

	chains := flag.String("chains", "ethereum", "Comma-separated chains to serve")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the candle mirror (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	listenAddr := flag.String("listen-addr", ":8080", "Query API listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	lookback := flag.Duration("lookback", backfill.DefaultLookback, "Backfill lookback window for newly tracked pairs")
	flushInterval := flag.Duration("flush-interval", pipeline.DefaultFlushInterval, "Storage flush interval")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	chainList, err := parseChains(*chains)
	if err != nil {
		logger.Fatalf("Invalid --chains: %v", err)
	}

	endpoints := make(map[domain.Chain][2]string, len(chainList))
	for _, chainID := range chainList {
		ws, rpc, err := chainEndpoints(chainID)
		if err != nil {
			logger.Fatalf("Chain %s: %v", chainID, err)
		}
		endpoints[chainID] = [2]string{ws, rpc}
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

	server := newServer(serverConfig{
		chains:        chainList,
		endpoints:     endpoints,
		store:         store,
		flushInterval: *flushInterval,
		lookback:      *lookback,
		logger:        logger,
	})

	err = server.Run(ctx, *listenAddr)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// serverConfig carries everything newServer needs to assemble the stacks.
type serverConfig struct {
	chains        []domain.Chain
	endpoints     map[domain.Chain][2]string
	store         *storage.Store
	flushInterval time.Duration
	lookback      time.Duration
	logger        *log.Logger
}

// newServer builds the shared aggregation components and one connection
// manager plus pipeline runner per chain.
func newServer(cfg serverConfig) *Server {
	writer := storage.NewBatchWriter(cfg.store, cfg.logger)
	recorder := aggregate.NewTxRecorder(cfg.store.Transactions)
	processor := aggregate.NewProcessor(recorder, writer, cfg.logger)
	ledger := aggregate.NewLedger(cfg.store.MarketMakers, writer)
	backfiller := backfill.NewRunner(backfill.RunnerOptions{
		Processor: processor,
		Ledger:    ledger,
		Writer:    writer,
		Logger:    cfg.logger,
		Lookback:  cfg.lookback,
	})

	s := &Server{
		chains:        cfg.chains,
		endpoints:     cfg.endpoints,
		flushInterval: cfg.flushInterval,
		lookback:      cfg.lookback,
		store:         cfg.store,
		writer:        writer,
		processor:     processor,
		ledger:        ledger,
		backfiller:    backfiller,
		managers:      make(map[domain.Chain]*connection.Manager, len(cfg.chains)),
		runners:       make(map[domain.Chain]*pipeline.Runner, len(cfg.chains)),
		logger:        cfg.logger,
	}

	for _, chainID := range cfg.chains {
		ws, rpc := cfg.endpoints[chainID][0], cfg.endpoints[chainID][1]
		chainLogger := log.New(os.Stdout, fmt.Sprintf("[%s] ", chainID), log.LstdFlags|log.Lshortfile)

		manager := connection.NewManager(connection.ManagerOptions{
			Chain:  chainID,
			Dial:   evmDialer(chainID, ws, rpc, chainLogger),
			Logger: chainLogger,
		})
		s.managers[chainID] = manager
		s.runners[chainID] = pipeline.NewRunner(pipeline.RunnerOptions{
			Manager:       manager,
			Processor:     processor,
			Ledger:        ledger,
			Writer:        writer,
			FlushInterval: cfg.flushInterval,
			Logger:        chainLogger,
		})
	}

	// First resolution of a pair subscribes the chain's runner and kicks a
	// backfill of the lookback window in the background.
	s.resolver = pairs.NewResolver(s.trackPair, cfg.logger)
	return s
}

// trackPair is the resolver hook: subscribe the live runner and backfill.
func (s *Server) trackPair(ctx context.Context, src chain.Source, pairAddress string) {
	runner, ok := s.runners[src.Chain()]
	if !ok {
		return
	}
	runner.Track(pairAddress)

	// Outlive the originating request: the backfill runs in the background.
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.backfiller.Backfill(bg, src, pairAddress); err != nil {
			s.logger.Printf("[%s] backfill %s failed: %v", src.Chain(), pairAddress, err)
		}
	}()
}

// Run supervises managers, runners, and the query API under one tomb.
// The first fatal error, or ctx cancellation, tears everything down.
func (s *Server) Run(ctx context.Context, listenAddr string) error {
	tb, ctx := tomb.WithContext(ctx)

	for _, chainID := range s.chains {
		manager := s.managers[chainID]
		runner := s.runners[chainID]
		tb.Go(func() error { return manager.Run(ctx) })
		tb.Go(func() error { return runner.Run(ctx) })
	}

	apiServer := api.NewServer(api.ServerOptions{
		Store:    s.store,
		Resolver: s.resolver,
		Managers: s.managers,
		Logger:   s.logger,
	})
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: apiServer.Handler(),
	}

	tb.Go(func() error {
		s.logger.Printf("Query API listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("query api: %w", err)
		}
		return nil
	})
	tb.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("Query API shutdown: %v", err)
		}
		return ctx.Err()
	})

	s.logger.Printf("Serving %d chain(s)", len(s.chains))
	return tb.Wait()
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
