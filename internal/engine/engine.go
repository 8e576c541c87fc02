// Package engine wires the per-network scanner, resolver and synthesizer
// together and is the single entry point used by the HTTP server and the CLI.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/cache"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
	"github.com/deltaDAO/mvg-portal-sub004/internal/fees"
	"github.com/deltaDAO/mvg-portal-sub004/internal/invoice"
	"github.com/deltaDAO/mvg-portal-sub004/internal/resolver"
	"github.com/deltaDAO/mvg-portal-sub004/internal/scanner"
)

// Order identifies one consumed asset and its sale terms.
type Order struct {
	TxHash common.Hash
	// Datatoken defaults to the settlement transaction's destination.
	Datatoken common.Address
	BaseToken common.Address
	Sale      invoice.Sale
}

type service struct {
	network  *chain.Network
	resolver *resolver.Resolver
	synth    invoice.Synthesizer
}

type Engine struct {
	services map[int64]*service
	log      *zap.Logger
}

// New builds one service per registered network. rdb may be nil, in which
// case creation blocks are scanned every time.
func New(reg *chain.Registry, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*Engine, error) {
	schedule, err := fees.ScheduleFromConfig(cfg.Fees)
	if err != nil {
		return nil, err
	}
	tokens := knownTokens(cfg.Networks)
	e := &Engine{services: make(map[int64]*service), log: log}
	for _, id := range reg.ChainIDs() {
		net, err := reg.Network(id)
		if err != nil {
			return nil, err
		}
		scanOpts := []scanner.Option{scanner.WithChunkSize(cfg.Scan.ChunkSize)}
		if rdb != nil {
			scanOpts = append(scanOpts, scanner.WithCreationStore(cache.NewCreationCache(rdb, id)))
		}
		chainLog := log.With(zap.Int64("chain_id", id))
		scan := scanner.New(net.Reader, chainLog, scanOpts...)

		resOpts := []resolver.Option{resolver.WithMaxReuseDepth(cfg.Scan.MaxReuseDepth)}
		if net.FixedRateExchange != (common.Address{}) {
			resOpts = append(resOpts, resolver.WithExchange(net.FixedRateExchange, cfg.Scan.ExchangeWindow))
		}
		e.services[id] = &service{
			network:  net,
			resolver: resolver.New(net.Reader, scan, chainLog, resOpts...),
			synth: invoice.Synthesizer{
				Schedule:     schedule,
				NativeSymbol: net.NativeSymbol,
				Platform:     net.Platform,
				Tokens:       tokens[id],
			},
		}
	}
	return e, nil
}

// knownTokens indexes the configured fee tokens by chain id and address.
func knownTokens(networks []config.NetworkConfig) map[int64]map[common.Address]invoice.Token {
	out := make(map[int64]map[common.Address]invoice.Token, len(networks))
	for _, n := range networks {
		if len(n.Tokens) == 0 {
			continue
		}
		m := make(map[common.Address]invoice.Token, len(n.Tokens))
		for _, t := range n.Tokens {
			addr := common.HexToAddress(t.Address)
			m[addr] = invoice.Token{Address: addr, Symbol: t.Symbol, Decimals: t.Decimals}
		}
		out[n.ChainID] = m
	}
	return out
}

func (e *Engine) service(chainID int64) (*service, error) {
	s, ok := e.services[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", chain.ErrUnknownChain, chainID)
	}
	return s, nil
}

// AssetInvoices reconstructs the four invoices of a single-asset purchase.
func (e *Engine) AssetInvoices(ctx context.Context, chainID int64, o Order) ([]invoice.Record, error) {
	s, err := e.service(chainID)
	if err != nil {
		return nil, err
	}
	sc, err := s.saleContext(ctx, o)
	if err != nil {
		return nil, err
	}
	rc, err := s.resolver.ResolvePurchase(ctx, o.TxHash, sc)
	if err != nil {
		return nil, err
	}
	e.log.Info("purchase resolved",
		zap.Int64("chain_id", chainID),
		zap.String("tx", o.TxHash.Hex()),
		zap.String("order", rc.Settlement.Hash.Hex()),
		zap.Int("hops", len(rc.Chain)-1),
		zap.Float64("transaction_fee", rc.TransactionFee),
	)
	return s.synth.Asset(invoice.Purchase{Context: rc, Sale: o.Sale})
}

// ComputeInvoices reconstructs the six invoices of a compute job.
func (e *Engine) ComputeInvoices(ctx context.Context, chainID int64, asset, algorithm Order) ([]invoice.Record, error) {
	s, err := e.service(chainID)
	if err != nil {
		return nil, err
	}
	assetSC, err := s.saleContext(ctx, asset)
	if err != nil {
		return nil, err
	}
	algoSC, err := s.saleContext(ctx, algorithm)
	if err != nil {
		return nil, err
	}
	assetCtx, algoCtx, err := s.resolver.ResolveCompute(ctx,
		resolver.Order{TxHash: asset.TxHash, Sale: assetSC},
		resolver.Order{TxHash: algorithm.TxHash, Sale: algoSC},
	)
	if err != nil {
		return nil, err
	}
	e.log.Info("compute job resolved",
		zap.Int64("chain_id", chainID),
		zap.String("asset_tx", asset.TxHash.Hex()),
		zap.String("algorithm_tx", algorithm.TxHash.Hex()),
	)
	return s.synth.Compute(
		invoice.Purchase{Context: assetCtx, Sale: asset.Sale},
		invoice.Purchase{Context: algoCtx, Sale: algorithm.Sale},
	)
}

// FirstOrder returns the earliest order ever placed on datatoken.
func (e *Engine) FirstOrder(ctx context.Context, chainID int64, datatoken common.Address) (chain.OrderStarted, error) {
	s, err := e.service(chainID)
	if err != nil {
		return chain.OrderStarted{}, err
	}
	return s.resolver.FirstOrder(ctx, datatoken)
}

// ChainIDs returns the served chain ids in ascending order.
func (e *Engine) ChainIDs() []int64 {
	ids := make([]int64, 0, len(e.services))
	for id := range e.services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *service) saleContext(ctx context.Context, o Order) (resolver.SaleContext, error) {
	sc := resolver.SaleContext{Datatoken: o.Datatoken, BaseToken: o.BaseToken}
	if sc.Datatoken != (common.Address{}) {
		return sc, nil
	}
	tx, err := s.network.Reader.Transaction(ctx, o.TxHash)
	if err != nil {
		return resolver.SaleContext{}, fmt.Errorf("datatoken of %s: %w", o.TxHash.Hex(), err)
	}
	sc.Datatoken = tx.To
	return sc, nil
}
