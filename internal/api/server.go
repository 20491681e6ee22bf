// Package api exposes the query surface: per-token candles, recent
// transactions, and market-maker standings over plain HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/chain/evm"
	"dexfeed/internal/chain/solanaledger"
	"dexfeed/internal/connection"
	"dexfeed/internal/domain"
	"dexfeed/internal/pairs"
	"dexfeed/internal/storage"
)

// transactionLimit caps the transaction list in token responses.
const transactionLimit = 50

// Server answers token queries. Resolution of unknown tokens goes through
// the pair resolver, which marks the pair tracked as a side effect.
type Server struct {
	store    *storage.Store
	resolver *pairs.Resolver
	managers map[domain.Chain]*connection.Manager
	logger   *log.Logger
}

// ServerOptions contains configuration for creating a Server.
type ServerOptions struct {
	Store    *storage.Store
	Resolver *pairs.Resolver
	Managers map[domain.Chain]*connection.Manager
	Logger   *log.Logger
}

// NewServer creates the query server.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:    opts.Store,
		resolver: opts.Resolver,
		managers: opts.Managers,
		logger:   logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /token/{chain}/{address}", s.handleToken)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type candleJSON struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type transactionJSON struct {
	TxHash    string          `json:"txHash"`
	Sender    string          `json:"sender"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

type marketMakerJSON struct {
	Address    string          `json:"address"`
	ProfitLoss decimal.Decimal `json:"profitLoss"`
}

type tokenResponse struct {
	Chain        domain.Chain      `json:"chain"`
	Token        string            `json:"token"`
	PairAddress  string            `json:"pairAddress"`
	Ohlcv        []candleJSON      `json:"ohlcv"`
	Transactions []transactionJSON `json:"transactions"`
	MarketMakers []marketMakerJSON `json:"marketMakers"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	chainID := domain.Chain(r.PathValue("chain"))
	address := r.PathValue("address")

	if !chainID.Valid() {
		writeError(w, http.StatusBadRequest, "unknown chain")
		return
	}
	if !validAddress(chainID, address) {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}

	manager, ok := s.managers[chainID]
	if !ok {
		writeError(w, http.StatusBadRequest, "chain not served")
		return
	}
	src, _, ready := manager.Source()
	if !ready {
		writeError(w, http.StatusServiceUnavailable, "chain connection not ready")
		return
	}

	ctx := r.Context()
	pair, err := s.resolver.Resolve(ctx, src, address)
	if err != nil {
		if errors.Is(err, chain.ErrNoPair) {
			writeError(w, http.StatusNotFound, "no pair for token")
			return
		}
		s.logger.Printf("[%s] resolve %s failed: %v", chainID, address, err)
		writeError(w, http.StatusServiceUnavailable, "pair resolution failed")
		return
	}

	resp, err := s.buildResponse(ctx, chainID, address, pair)
	if err != nil {
		s.logger.Printf("[%s] token query %s failed: %v", chainID, address, err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildResponse(ctx context.Context, chainID domain.Chain, token, pair string) (*tokenResponse, error) {
	candles, err := s.store.Candles.GetByPair(ctx, chainID, pair)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.Transactions.GetLatestByPair(ctx, chainID, pair, transactionLimit)
	if err != nil {
		return nil, err
	}
	makers, err := s.store.MarketMakers.GetByPair(ctx, chainID, pair)
	if err != nil {
		return nil, err
	}

	resp := &tokenResponse{
		Chain:        chainID,
		Token:        token,
		PairAddress:  pair,
		Ohlcv:        make([]candleJSON, 0, len(candles)),
		Transactions: make([]transactionJSON, 0, len(txs)),
		MarketMakers: make([]marketMakerJSON, 0, len(makers)),
	}
	for _, c := range candles {
		resp.Ohlcv = append(resp.Ohlcv, candleJSON{
			Time:   c.BucketStart,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, transactionJSON{
			TxHash:    t.TxHash,
			Sender:    t.Sender,
			To:        t.To,
			Amount:    t.Amount,
			Timestamp: t.Timestamp,
		})
	}
	for _, m := range makers {
		resp.MarketMakers = append(resp.MarketMakers, marketMakerJSON{
			Address:    m.Address,
			ProfitLoss: m.ProfitLoss,
		})
	}
	return resp, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string, len(s.managers))
	for chainID, m := range s.managers {
		states[string(chainID)] = m.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": states})
}

func validAddress(chainID domain.Chain, address string) bool {
	switch chainID.Family() {
	case domain.FamilyEVM:
		return evm.IsAddress(address)
	case domain.FamilyLedger:
		return solanaledger.IsAddress(address)
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
