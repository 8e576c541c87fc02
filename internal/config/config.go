package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Redis    RedisConfig
	Scan     ScanConfig
	Fees     FeesConfig
	Networks []NetworkConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// ScanConfig tunes how the ledger is paged. ChunkSize is a fixed constant
// chosen to stay under node-provider log query limits. MaxReuseDepth counts
// reuse hops, not transactions: a purchase may touch MaxReuseDepth+1
// settlements (the reuses plus the original order).
type ScanConfig struct {
	ChunkSize       uint64 `mapstructure:"chunk_size"`
	ExchangeWindow  uint64 `mapstructure:"exchange_window"`
	MaxReuseDepth   int    `mapstructure:"max_reuse_depth"`
	QueryTimeoutSec int64  `mapstructure:"query_timeout_sec"`
}

// FeesConfig holds the static fee percentages as decimal strings ("1" = 1%).
type FeesConfig struct {
	ConsumeMarketOrderFee     string `mapstructure:"consume_market_order_fee"`
	ConsumeMarketFixedSwapFee string `mapstructure:"consume_market_fixed_swap_fee"`
	CommunityFee              string `mapstructure:"community_fee"`
}

type NetworkConfig struct {
	ChainID           int64  `mapstructure:"chain_id"`
	Name              string `mapstructure:"name"`
	RPCURL            string `mapstructure:"rpc_url"`
	NativeSymbol      string `mapstructure:"native_symbol"`
	FixedRateExchange string `mapstructure:"fixed_rate_exchange"`
	PlatformAddress   string `mapstructure:"platform_address"`
	// Tokens lists fee tokens whose decimals are known, so that provider and
	// market fees paid in a token other than the sale's can be scaled.
	Tokens []TokenConfig `mapstructure:"tokens"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int32  `mapstructure:"decimals"`
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to config.yaml in the working directory or /app.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("scan.chunk_size", 2000)
	v.SetDefault("scan.exchange_window", 10)
	v.SetDefault("scan.max_reuse_depth", 64)
	v.SetDefault("scan.query_timeout_sec", 30)
	v.SetDefault("fees.consume_market_order_fee", "0")
	v.SetDefault("fees.consume_market_fixed_swap_fee", "0")
	v.SetDefault("fees.community_fee", "0.1")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
		_ = v.ReadInConfig()
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                        "PORT",
		"log.development":                    "LOG_DEVELOPMENT",
		"redis.enabled":                      "REDIS_ENABLED",
		"redis.addr":                         "REDIS_ADDR",
		"redis.password":                     "REDIS_PASSWORD",
		"scan.chunk_size":                    "SCAN_CHUNK_SIZE",
		"scan.exchange_window":               "SCAN_EXCHANGE_WINDOW",
		"scan.max_reuse_depth":               "SCAN_MAX_REUSE_DEPTH",
		"scan.query_timeout_sec":             "SCAN_QUERY_TIMEOUT_SEC",
		"fees.consume_market_order_fee":      "CONSUME_MARKET_ORDER_FEE",
		"fees.consume_market_fixed_swap_fee": "CONSUME_MARKET_FIXED_SWAP_FEE",
		"fees.community_fee":                 "MARKET_COMMUNITY_FEE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Single-network shortcut for deployments configured purely by env.
	if len(cfg.Networks) == 0 && v.GetString("RPC_URL") != "" {
		cfg.Networks = []NetworkConfig{{
			ChainID:           v.GetInt64("CHAIN_ID"),
			Name:              v.GetString("NETWORK_NAME"),
			RPCURL:            v.GetString("RPC_URL"),
			NativeSymbol:      v.GetString("NATIVE_SYMBOL"),
			FixedRateExchange: v.GetString("FIXED_RATE_EXCHANGE"),
			PlatformAddress:   v.GetString("PLATFORM_ADDRESS"),
		}}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("required config missing: networks (or RPC_URL)")
	}
	seen := make(map[int64]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("networks[%d]: required config missing: chain_id", i)
		}
		if n.RPCURL == "" {
			return fmt.Errorf("networks[%d]: required config missing: rpc_url", i)
		}
		if seen[n.ChainID] {
			return fmt.Errorf("networks[%d]: duplicate chain_id %d", i, n.ChainID)
		}
		seen[n.ChainID] = true
		for _, addr := range []string{n.FixedRateExchange, n.PlatformAddress} {
			if addr != "" && !common.IsHexAddress(addr) {
				return fmt.Errorf("networks[%d]: invalid address %q", i, addr)
			}
		}
		for j, tok := range n.Tokens {
			if !common.IsHexAddress(tok.Address) {
				return fmt.Errorf("networks[%d].tokens[%d]: invalid address %q", i, j, tok.Address)
			}
			if tok.Decimals < 0 || tok.Decimals > 36 {
				return fmt.Errorf("networks[%d].tokens[%d]: decimals %d out of range", i, j, tok.Decimals)
			}
		}
	}
	if c.Scan.ChunkSize == 0 {
		return fmt.Errorf("scan.chunk_size must be positive")
	}
	if c.Scan.MaxReuseDepth <= 0 {
		return fmt.Errorf("scan.max_reuse_depth must be positive")
	}
	for name, val := range map[string]string{
		"fees.consume_market_order_fee":      c.Fees.ConsumeMarketOrderFee,
		"fees.consume_market_fixed_swap_fee": c.Fees.ConsumeMarketFixedSwapFee,
		"fees.community_fee":                 c.Fees.CommunityFee,
	} {
		d, err := decimal.NewFromString(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	return nil
}
