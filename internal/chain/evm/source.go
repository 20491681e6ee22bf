package evm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// Source implements chain.Source for EVM chains: live log subscriptions over
// WebSocket, historical queries and contract reads over HTTP JSON-RPC.
type Source struct {
	chainID domain.Chain
	ws      *WSClient
	rpc     *HTTPClient
	logger  *log.Logger
}

// SourceOptions contains configuration for creating an EVM Source.
type SourceOptions struct {
	Chain       domain.Chain
	WSEndpoint  string
	RPCEndpoint string
	WSConfig    *WSClientConfig
	Logger      *log.Logger
}

// Compile-time interface check.
var _ chain.Source = (*Source)(nil)

// DialSource dials the WebSocket endpoint and builds a Source. The returned
// source is a single live handle; after its transport fails it must be closed
// and replaced, never redialed in place.
func DialSource(ctx context.Context, opts SourceOptions) (*Source, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ws, err := DialWS(ctx, opts.WSEndpoint, opts.WSConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Chain, err)
	}

	return &Source{
		chainID: opts.Chain,
		ws:      ws,
		rpc:     NewHTTPClient(opts.RPCEndpoint, WithChain(opts.Chain.String())),
		logger:  logger,
	}, nil
}

// Chain returns the chain this source serves.
func (s *Source) Chain() domain.Chain { return s.chainID }

// BlockTime returns the chain's approximate seconds per block.
func (s *Source) BlockTime() int64 {
	if bt, ok := BlockTimes[s.chainID]; ok {
		return bt
	}
	return 13
}

// Done is closed when the WebSocket transport has failed.
func (s *Source) Done() <-chan struct{} { return s.ws.Done() }

// Close releases the WebSocket connection.
func (s *Source) Close() error { return s.ws.Close() }

// Subscribe delivers live pair events until the transport fails.
func (s *Source) Subscribe(ctx context.Context, pairAddress string) (<-chan chain.RawEvent, error) {
	logs, err := s.ws.SubscribeLogs(ctx, pairAddress)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs %s/%s: %w", s.chainID, pairAddress, err)
	}

	events := make(chan chain.RawEvent, 100)
	go func() {
		defer close(events)
		for lg := range logs {
			ev, ok := s.toRawEvent(lg, pairAddress)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// QueryRange returns historical pair events within [fromBlock, toBlock].
func (s *Source) QueryRange(ctx context.Context, pairAddress string, fromBlock, toBlock int64) ([]chain.RawEvent, error) {
	logs, err := s.rpc.GetLogs(ctx, pairAddress, fromBlock, toBlock, nil)
	if err != nil {
		return nil, fmt.Errorf("get logs %s/%s: %w", s.chainID, pairAddress, err)
	}

	events := make([]chain.RawEvent, 0, len(logs))
	for _, lg := range logs {
		if ev, ok := s.toRawEvent(lg, pairAddress); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// toRawEvent classifies and converts one log. Unknown topics are dropped.
func (s *Source) toRawEvent(lg rpcLog, pairAddress string) (chain.RawEvent, bool) {
	if lg.Removed || len(lg.Topics) == 0 {
		return chain.RawEvent{}, false
	}

	kind := classifyTopic(lg.Topics[0])
	if kind == chain.KindUnknown {
		return chain.RawEvent{}, false
	}

	data, err := hexutil.Decode(lg.Data)
	if err != nil {
		s.logger.Printf("[%s] undecodable log data for tx %s: %v", s.chainID, lg.TransactionHash, err)
		return chain.RawEvent{}, false
	}

	var blockNumber int64
	if n, err := hexutil.DecodeUint64(lg.BlockNumber); err == nil {
		blockNumber = int64(n)
	}

	return chain.RawEvent{
		Chain:       s.chainID,
		PairAddress: pairAddress,
		Kind:        kind,
		Topics:      lg.Topics,
		Data:        data,
		TxHash:      lg.TransactionHash,
		BlockNumber: blockNumber,
	}, true
}

// BlockNumber returns the current head block number.
func (s *Source) BlockNumber(ctx context.Context) (int64, error) {
	return s.rpc.BlockNumber(ctx)
}

// BlockTimestamp returns the unix timestamp of a block.
func (s *Source) BlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	return s.rpc.BlockTimestamp(ctx, blockNumber)
}

// TotalSupply reads the pair's LP-token total supply.
func (s *Source) TotalSupply(ctx context.Context, pairAddress string) (decimal.Decimal, error) {
	out, err := s.rpc.Call(ctx, pairAddress, selectorTotalSupply)
	if err != nil {
		return decimal.Zero, fmt.Errorf("totalSupply %s/%s: %w", s.chainID, pairAddress, err)
	}
	return decodeUintReturn(out)
}

// PairAddress resolves a token to its pair against the chain's quote asset
// via the factory contract.
func (s *Source) PairAddress(ctx context.Context, tokenAddress string) (string, error) {
	factory, ok := FactoryAddresses[s.chainID]
	if !ok {
		return "", fmt.Errorf("no factory for chain %s", s.chainID)
	}
	quote := QuoteAssets[s.chainID]

	out, err := s.rpc.Call(ctx, factory, encodeGetPair(tokenAddress, quote))
	if err != nil {
		return "", fmt.Errorf("getPair %s/%s: %w", s.chainID, tokenAddress, err)
	}

	pair, err := decodeAddressReturn(out)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(pair, domain.ZeroAddress) {
		return "", chain.ErrNoPair
	}
	return pair, nil
}
