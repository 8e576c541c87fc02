// Package resolver walks from a settlement transaction to the order that
// actually paid for an asset, following OrderReused pointers and summing the
// gas paid along the way.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/fees"
	"github.com/deltaDAO/mvg-portal-sub004/internal/scanner"
)

const (
	DefaultExchangeWindow uint64 = 10
	DefaultMaxReuseDepth         = 64
)

var (
	ErrOrderStartedNotFound = errors.New("order started event not found")
	ErrReuseDepthExceeded   = errors.New("order reuse chain too deep")
	ErrReuseCycle           = errors.New("order reuse chain revisits a transaction")
	ErrSettlementReverted   = errors.New("settlement transaction reverted")
)

// SaleContext names the contracts a purchase went through.
type SaleContext struct {
	Datatoken common.Address
	// BaseToken, when set, restricts the exchange lookup to TokenCollected
	// events paying out this token.
	BaseToken common.Address
}

// Settlement is one mined transaction of a reuse chain.
type Settlement struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	GasPrice    *big.Int
	GasUsed     uint64
	BlockNumber uint64
	Time        time.Time
}

// ResolvedFeeContext is what invoicing needs from the ledger. Events and
// Settlement belong to the originating order; TransactionFee covers every
// transaction in Chain.
type ResolvedFeeContext struct {
	TransactionFee float64
	InvoiceDate    time.Time
	Settlement     Settlement
	Events         []chain.Event
	// Chain lists the hashes walked, requested transaction first.
	Chain []common.Hash
}

func (c *ResolvedFeeContext) OrderStarted() (chain.OrderStarted, bool) {
	for _, ev := range c.Events {
		if os, ok := ev.(chain.OrderStarted); ok {
			return os, true
		}
	}
	return chain.OrderStarted{}, false
}

func (c *ResolvedFeeContext) ProviderFees() []chain.ProviderFee {
	var out []chain.ProviderFee
	for _, ev := range c.Events {
		if pf, ok := ev.(chain.ProviderFee); ok {
			out = append(out, pf)
		}
	}
	return out
}

func (c *ResolvedFeeContext) TokenCollected() (chain.TokenCollected, bool) {
	for _, ev := range c.Events {
		if tc, ok := ev.(chain.TokenCollected); ok {
			return tc, true
		}
	}
	return chain.TokenCollected{}, false
}

// PublishMarketFee returns the latest fee change visible in the order block.
func (c *ResolvedFeeContext) PublishMarketFee() (chain.PublishMarketFeeChanged, bool) {
	var (
		out   chain.PublishMarketFeeChanged
		found bool
	)
	for _, ev := range c.Events {
		if pm, ok := ev.(chain.PublishMarketFeeChanged); ok {
			out, found = pm, true
		}
	}
	return out, found
}

type Resolver struct {
	rd       chain.Reader
	scan     *scanner.Scanner
	exchange common.Address
	window   uint64
	maxDepth int
	log      *zap.Logger
}

type Option func(*Resolver)

// WithExchange enables the TokenCollected lookup on a fixed-rate exchange,
// searching window blocks either side of the order block.
func WithExchange(addr common.Address, window uint64) Option {
	return func(r *Resolver) {
		r.exchange = addr
		r.window = window
	}
}

// WithMaxReuseDepth bounds the number of OrderReused hops followed from the
// settlement, so at most n+1 transactions are fetched.
func WithMaxReuseDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

func New(rd chain.Reader, scan *scanner.Scanner, log *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		rd:       rd,
		scan:     scan,
		window:   DefaultExchangeWindow,
		maxDepth: DefaultMaxReuseDepth,
		log:      log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolvePurchase follows txHash through any OrderReused pointers to the
// originating order. The result is all or nothing.
func (r *Resolver) ResolvePurchase(ctx context.Context, txHash common.Hash, sale SaleContext) (*ResolvedFeeContext, error) {
	out, err := r.resolve(ctx, txHash, sale)
	if err != nil {
		r.log.Warn("resolve purchase failed",
			zap.String("tx", txHash.Hex()),
			zap.String("datatoken", sale.Datatoken.Hex()),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, txHash common.Hash, sale SaleContext) (*ResolvedFeeContext, error) {
	var (
		carried float64
		hash    = txHash
		walked  []common.Hash
		seen    = make(map[common.Hash]bool)
	)
	for hops := 0; ; hops++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hops > r.maxDepth {
			return nil, fmt.Errorf("%w: more than %d reuse hops from %s", ErrReuseDepthExceeded, r.maxDepth, txHash.Hex())
		}
		if seen[hash] {
			return nil, fmt.Errorf("%w: %s", ErrReuseCycle, hash.Hex())
		}
		seen[hash] = true
		walked = append(walked, hash)

		leg, err := r.fetchLeg(ctx, hash)
		if err != nil {
			return nil, err
		}
		fee := fees.GasFee(leg.GasPrice, leg.GasUsed) + carried

		events, err := r.scan.QueryEventsInBlock(ctx, sale.Datatoken, chain.AnyEvent, leg.BlockNumber, 0, 0)
		if err != nil {
			return nil, err
		}
		events = eventsOf(events, hash)

		if reuse, ok := reusedOrder(events); ok {
			r.log.Debug("order reused",
				zap.String("tx", hash.Hex()),
				zap.String("original", reuse.OrderTxID.Hex()),
				zap.Float64("carried_fee", fee),
			)
			carried = fee
			hash = reuse.OrderTxID
			continue
		}

		if _, ok := findOrderStarted(events); !ok {
			return nil, fmt.Errorf("%w: tx %s on %s", ErrOrderStartedNotFound, hash.Hex(), sale.Datatoken.Hex())
		}
		if tc, ok, err := r.collected(ctx, leg.BlockNumber, sale.BaseToken); err != nil {
			return nil, err
		} else if ok {
			events = append(events, tc)
		}

		return &ResolvedFeeContext{
			TransactionFee: fee,
			InvoiceDate:    leg.Time,
			Settlement:     leg,
			Events:         events,
			Chain:          walked,
		}, nil
	}
}

// fetchLeg reads transaction and receipt concurrently, then the block time.
func (r *Resolver) fetchLeg(ctx context.Context, hash common.Hash) (Settlement, error) {
	var (
		tx *chain.Transaction
		rc *chain.Receipt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tx, err = r.rd.Transaction(gctx, hash)
		return err
	})
	g.Go(func() error {
		var err error
		rc, err = r.rd.Receipt(gctx, hash)
		return err
	})
	if err := g.Wait(); err != nil {
		return Settlement{}, fmt.Errorf("settlement %s: %w", hash.Hex(), err)
	}
	if rc.Status == 0 {
		return Settlement{}, fmt.Errorf("%w: %s", ErrSettlementReverted, hash.Hex())
	}

	at, err := r.rd.BlockTime(ctx, rc.BlockNumber)
	if err != nil {
		return Settlement{}, fmt.Errorf("settlement %s: %w", hash.Hex(), err)
	}

	gasPrice := rc.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice
	}
	return Settlement{
		Hash:        hash,
		From:        tx.From,
		To:          tx.To,
		GasPrice:    gasPrice,
		GasUsed:     rc.GasUsed,
		BlockNumber: rc.BlockNumber,
		Time:        at,
	}, nil
}

// collected finds the exchange payout closest to block. The window is a
// heuristic; no match is not an error.
func (r *Resolver) collected(ctx context.Context, block uint64, baseToken common.Address) (chain.TokenCollected, bool, error) {
	if r.exchange == (common.Address{}) {
		return chain.TokenCollected{}, false, nil
	}
	events, err := r.scan.QueryEventsInBlock(ctx, r.exchange, chain.KindTokenCollected, block, r.window, r.window)
	if err != nil {
		return chain.TokenCollected{}, false, err
	}
	var (
		best  chain.TokenCollected
		found bool
	)
	for _, ev := range events {
		tc, ok := ev.(chain.TokenCollected)
		if !ok {
			continue
		}
		if baseToken != (common.Address{}) && tc.Token != baseToken {
			continue
		}
		if !found || distance(tc.BlockNumber, block) < distance(best.BlockNumber, block) {
			best, found = tc, true
		}
	}
	return best, found, nil
}

// FirstOrder returns the earliest OrderStarted ever emitted by datatoken.
func (r *Resolver) FirstOrder(ctx context.Context, datatoken common.Address) (chain.OrderStarted, error) {
	created, err := r.scan.FindCreationBlock(ctx, datatoken)
	if err != nil {
		return chain.OrderStarted{}, err
	}
	head, err := r.rd.BlockNumber(ctx)
	if err != nil {
		return chain.OrderStarted{}, fmt.Errorf("first order: %w", err)
	}
	ev, err := r.scan.FindFirstEvent(ctx, datatoken, chain.KindOrderStarted, created, head, 0)
	if err != nil {
		return chain.OrderStarted{}, err
	}
	return ev.(chain.OrderStarted), nil
}

// eventsOf keeps the order events emitted by tx. Fee changes are block
// state and are kept whichever transaction emitted them.
func eventsOf(events []chain.Event, tx common.Hash) []chain.Event {
	out := events[:0]
	for _, ev := range events {
		if ev.Kind() == chain.KindPublishMarketFeeChanged || ev.Meta().TxHash == tx {
			out = append(out, ev)
		}
	}
	return out
}

func reusedOrder(events []chain.Event) (chain.OrderReused, bool) {
	for _, ev := range events {
		if r, ok := ev.(chain.OrderReused); ok {
			return r, true
		}
	}
	return chain.OrderReused{}, false
}

func findOrderStarted(events []chain.Event) (chain.OrderStarted, bool) {
	c := ResolvedFeeContext{Events: events}
	return c.OrderStarted()
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
