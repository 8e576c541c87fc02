// Package fees holds the pure fee arithmetic used when reconstructing an
// invoice: gas cost of a settlement and percentage fees on a sale price.
package fees

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
)

var hundred = decimal.NewFromInt(100)

// Schedule is the set of statically configured fee percentages. Values are
// percents: 1 means 1%.
type Schedule struct {
	ConsumeMarketOrderFee     decimal.Decimal
	ConsumeMarketFixedSwapFee decimal.Decimal
	CommunityFee              decimal.Decimal
}

func ScheduleFromConfig(cfg config.FeesConfig) (Schedule, error) {
	var s Schedule
	for _, f := range []struct {
		dst *decimal.Decimal
		val string
		key string
	}{
		{&s.ConsumeMarketOrderFee, cfg.ConsumeMarketOrderFee, "consume_market_order_fee"},
		{&s.ConsumeMarketFixedSwapFee, cfg.ConsumeMarketFixedSwapFee, "consume_market_fixed_swap_fee"},
		{&s.CommunityFee, cfg.CommunityFee, "community_fee"},
	} {
		d, err := decimal.NewFromString(f.val)
		if err != nil {
			return Schedule{}, fmt.Errorf("fees.%s: %w", f.key, err)
		}
		*f.dst = d
	}
	return s, nil
}

// MarketPercent picks the percentage charged by the market operator. Sales
// settled through the fixed-rate exchange pay the swap fee.
func (s Schedule) MarketPercent(viaExchange bool) decimal.Decimal {
	if viaExchange {
		return s.ConsumeMarketFixedSwapFee
	}
	return s.ConsumeMarketOrderFee
}

// GasFee returns gasPrice*gasUsed in the native unit. The price is first
// scaled to gwei and the product then scaled down by another 1e9, in double
// precision and in that order; historic invoices were produced this way and
// must come out identical.
func GasFee(gasPriceWei *big.Int, gasUsed uint64) float64 {
	if gasPriceWei == nil {
		return 0
	}
	gwei, _ := decimal.NewFromBigInt(gasPriceWei, -9).Float64()
	return gwei * float64(gasUsed) / 1e9
}

// ProportionalFee returns price * percent / 100.
func ProportionalFee(price, percent decimal.Decimal) decimal.Decimal {
	return price.Mul(percent).Div(hundred)
}

// FromBaseUnits converts an integer token amount to whole tokens. The shift is
// exact.
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
