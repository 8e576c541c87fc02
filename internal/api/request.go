package api

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/deltaDAO/mvg-portal-sub004/internal/engine"
	"github.com/deltaDAO/mvg-portal-sub004/internal/invoice"
)

var ErrNotBuyer = errors.New("wallet is not the buyer of this purchase")

// saleQuery carries the sale terms the ledger does not record. Used as query
// parameters on the asset route and as JSON in compute bodies.
type saleQuery struct {
	Name      string `form:"name" json:"name"`
	Price     string `form:"price" json:"price" binding:"required"`
	Symbol    string `form:"symbol" json:"symbol"`
	Token     string `form:"token" json:"token"`
	Decimals  int32  `form:"decimals" json:"decimals"`
	Owner     string `form:"owner" json:"owner"`
	Datatoken string `form:"datatoken" json:"datatoken"`
	BaseToken string `form:"base_token" json:"base_token"`
}

type computeRequest struct {
	Asset     saleQuery `json:"asset"`
	Algorithm struct {
		TxHash string `json:"tx_hash" binding:"required"`
		saleQuery
	} `json:"algorithm"`
}

type firstOrderResponse struct {
	TxHash               common.Hash    `json:"tx_hash"`
	BlockNumber          uint64         `json:"block_number"`
	Consumer             common.Address `json:"consumer"`
	PublishMarketAddress common.Address `json:"publish_market_address"`
}

func (q saleQuery) order(txHash common.Hash) (engine.Order, error) {
	price, err := decimal.NewFromString(q.Price)
	if err != nil {
		return engine.Order{}, fmt.Errorf("price: %w", err)
	}
	if price.IsNegative() {
		return engine.Order{}, errors.New("price: must not be negative")
	}
	if q.Decimals < 0 || q.Decimals > 36 {
		return engine.Order{}, fmt.Errorf("decimals: %d out of range", q.Decimals)
	}
	var addrs [4]common.Address
	for i, f := range []struct{ name, val string }{
		{"token", q.Token},
		{"owner", q.Owner},
		{"datatoken", q.Datatoken},
		{"base_token", q.BaseToken},
	} {
		if f.val == "" {
			continue
		}
		if !common.IsHexAddress(f.val) {
			return engine.Order{}, fmt.Errorf("%s: invalid address %q", f.name, f.val)
		}
		addrs[i] = common.HexToAddress(f.val)
	}
	return engine.Order{
		TxHash:    txHash,
		Datatoken: addrs[2],
		BaseToken: addrs[3],
		Sale: invoice.Sale{
			Name:  q.Name,
			Price: price,
			Token: invoice.Token{Address: addrs[0], Symbol: q.Symbol, Decimals: q.Decimals},
			Owner: addrs[1],
		},
	}, nil
}

func (r computeRequest) orders(assetTx common.Hash) (engine.Order, engine.Order, error) {
	asset, err := r.Asset.order(assetTx)
	if err != nil {
		return engine.Order{}, engine.Order{}, fmt.Errorf("asset %w", err)
	}
	algoTx, err := parseHash(r.Algorithm.TxHash)
	if err != nil {
		return engine.Order{}, engine.Order{}, fmt.Errorf("algorithm %w", err)
	}
	algorithm, err := r.Algorithm.order(algoTx)
	if err != nil {
		return engine.Order{}, engine.Order{}, fmt.Errorf("algorithm %w", err)
	}
	return asset, algorithm, nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("tx hash: invalid %q", s)
	}
	return common.BytesToHash(b), nil
}

// CheckBuyer verifies that wallet bought the purchase the records describe.
func CheckBuyer(records []invoice.Record, wallet common.Address) error {
	if len(records) == 0 || records[0].Buyer.Address != wallet {
		return ErrNotBuyer
	}
	return nil
}
