package resolver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Order is one consumed asset of a purchase: the order transaction and the
// contracts it went through.
type Order struct {
	TxHash common.Hash
	Sale   SaleContext
}

// ResolveCompute resolves the dataset and algorithm orders of a compute job
// concurrently. Either failing fails both.
func (r *Resolver) ResolveCompute(ctx context.Context, asset, algorithm Order) (*ResolvedFeeContext, *ResolvedFeeContext, error) {
	var assetCtx, algoCtx *ResolvedFeeContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assetCtx, err = r.ResolvePurchase(gctx, asset.TxHash, asset.Sale)
		if err != nil {
			return fmt.Errorf("asset order: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		algoCtx, err = r.ResolvePurchase(gctx, algorithm.TxHash, algorithm.Sale)
		if err != nil {
			return fmt.Errorf("algorithm order: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return assetCtx, algoCtx, nil
}
