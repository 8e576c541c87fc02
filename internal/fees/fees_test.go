package fees

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
)

func TestGasFee_TwoStepScaling(t *testing.T) {
	cases := []struct {
		gasPrice int64
		gasUsed  uint64
		gwei     float64
	}{
		{1_000_000_000, 21_000, 1},
		{30_000_000_007, 187_654, 30.000000007},
		{1, 1, 0.000000001},
		{0, 500_000, 0},
	}
	for _, tc := range cases {
		got := GasFee(big.NewInt(tc.gasPrice), tc.gasUsed)
		want := tc.gwei * float64(tc.gasUsed) / 1e9
		if got != want {
			t.Errorf("GasFee(%d, %d) = %v, want %v", tc.gasPrice, tc.gasUsed, got, want)
		}
	}
}

func TestGasFee_Nil(t *testing.T) {
	if got := GasFee(nil, 21_000); got != 0 {
		t.Errorf("GasFee(nil) = %v, want 0", got)
	}
}

func TestProportionalFee_Exact(t *testing.T) {
	cases := []struct {
		price, percent, want string
	}{
		{"100", "1", "1"},
		{"100", "0.1", "0.1"},
		{"3", "0.1", "0.003"},
		{"19.99", "2.5", "0.49975"},
		{"0", "5", "0"},
	}
	for _, tc := range cases {
		got := ProportionalFee(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.percent))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("ProportionalFee(%s, %s) = %s, want %s", tc.price, tc.percent, got, tc.want)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	amount, _ := new(big.Int).SetString("5000000000000000000", 10)
	if got := FromBaseUnits(amount, 18); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("FromBaseUnits(5e18, 18) = %s, want 5", got)
	}
	if got := FromBaseUnits(big.NewInt(123456), 6); got.String() != "0.123456" {
		t.Errorf("FromBaseUnits(123456, 6) = %s, want 0.123456", got)
	}
	if got := FromBaseUnits(nil, 18); !got.IsZero() {
		t.Errorf("FromBaseUnits(nil) = %s, want 0", got)
	}
}

func TestScheduleFromConfig(t *testing.T) {
	s, err := ScheduleFromConfig(config.FeesConfig{
		ConsumeMarketOrderFee:     "1",
		ConsumeMarketFixedSwapFee: "0.2",
		CommunityFee:              "0.1",
	})
	if err != nil {
		t.Fatalf("ScheduleFromConfig: %v", err)
	}
	if !s.MarketPercent(false).Equal(decimal.NewFromInt(1)) {
		t.Errorf("order percent: got %s want 1", s.MarketPercent(false))
	}
	if !s.MarketPercent(true).Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("swap percent: got %s want 0.2", s.MarketPercent(true))
	}

	if _, err := ScheduleFromConfig(config.FeesConfig{ConsumeMarketOrderFee: "x", ConsumeMarketFixedSwapFee: "0", CommunityFee: "0"}); err == nil {
		t.Error("expected error for non-numeric fee")
	}
}
