// cmd/invoicegen/main.go reconstructs the invoices of one purchase from the
// ledger and prints them as JSON. Networks come from the same config as the
// server.
//
// Usage examples:
//
//	# single asset
//	go run ./cmd/invoicegen/ --chain 100 --tx 0x... --price 10 --symbol OCEAN --token 0x...
//
//	# compute job
//	go run ./cmd/invoicegen/ --chain 100 --tx 0x... --price 10 \
//	  --algo-tx 0x... --algo-price 2
//
//	# first order of a datatoken
//	go run ./cmd/invoicegen/ --chain 100 --first-order 0x...
//
//	# inspect or correct the creation-block cache (needs redis.enabled)
//	go run ./cmd/invoicegen/ --chain 100 --list-creation
//	go run ./cmd/invoicegen/ --chain 100 --forget-creation 0x...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/cache"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
	"github.com/deltaDAO/mvg-portal-sub004/internal/engine"
	"github.com/deltaDAO/mvg-portal-sub004/internal/invoice"
)

type options struct {
	configPath string
	chainID    int64
	firstOrder string
	verbose    bool

	listCreation   bool
	forgetCreation string

	tx, name, price, symbol, token, owner string
	decimals                              int

	algoTx, algoName, algoPrice string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("invoicegen", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "config file (default: ./config.yaml)")
	fs.Int64Var(&o.chainID, "chain", 0, "chain id (required)")
	fs.StringVar(&o.firstOrder, "first-order", "", "print the first order of this datatoken instead of invoices")
	fs.BoolVar(&o.verbose, "v", false, "log resolution progress to stderr")
	fs.BoolVar(&o.listCreation, "list-creation", false, "list the cached creation blocks of the chain")
	fs.StringVar(&o.forgetCreation, "forget-creation", "", "drop the cached creation block of this contract")
	fs.StringVar(&o.tx, "tx", "", "settlement transaction hash of the asset order")
	fs.StringVar(&o.name, "name", "", "asset name")
	fs.StringVar(&o.price, "price", "", "asset price in payment tokens")
	fs.StringVar(&o.symbol, "symbol", "", "payment token symbol")
	fs.StringVar(&o.token, "token", "", "payment token address")
	fs.IntVar(&o.decimals, "decimals", 0, "payment token decimals used to scale on-chain fee amounts")
	fs.StringVar(&o.owner, "owner", "", "asset owner address")
	fs.StringVar(&o.algoTx, "algo-tx", "", "settlement transaction hash of the algorithm order (compute jobs)")
	fs.StringVar(&o.algoName, "algo-name", "", "algorithm name")
	fs.StringVar(&o.algoPrice, "algo-price", "", "algorithm price in payment tokens")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if o.chainID == 0 {
		return options{}, errors.New("--chain is required")
	}
	if o.listCreation || o.forgetCreation != "" {
		if o.listCreation && o.forgetCreation != "" {
			return options{}, errors.New("--list-creation and --forget-creation are exclusive")
		}
		if o.forgetCreation != "" && !common.IsHexAddress(o.forgetCreation) {
			return options{}, fmt.Errorf("--forget-creation: invalid address %q", o.forgetCreation)
		}
		return o, nil
	}
	if o.firstOrder != "" {
		if !common.IsHexAddress(o.firstOrder) {
			return options{}, fmt.Errorf("--first-order: invalid address %q", o.firstOrder)
		}
		return o, nil
	}
	if o.tx == "" || o.price == "" {
		return options{}, errors.New("--tx and --price are required")
	}
	if (o.algoTx == "") != (o.algoPrice == "") {
		return options{}, errors.New("--algo-tx and --algo-price go together")
	}
	return o, nil
}

// orders builds the asset order and, for compute jobs, the algorithm order.
func (o options) orders() (engine.Order, *engine.Order, error) {
	sale := invoice.Sale{
		Name:  o.name,
		Token: invoice.Token{Symbol: o.symbol, Decimals: int32(o.decimals)},
	}
	for flagName, pair := range map[string]struct {
		in  string
		out *common.Address
	}{
		"token": {o.token, &sale.Token.Address},
		"owner": {o.owner, &sale.Owner},
	} {
		if pair.in == "" {
			continue
		}
		if !common.IsHexAddress(pair.in) {
			return engine.Order{}, nil, fmt.Errorf("--%s: invalid address %q", flagName, pair.in)
		}
		*pair.out = common.HexToAddress(pair.in)
	}

	asset, err := order("", o.tx, o.price, o.name, sale)
	if err != nil {
		return engine.Order{}, nil, err
	}
	if o.algoTx == "" {
		return asset, nil, nil
	}
	algo, err := order("algo-", o.algoTx, o.algoPrice, o.algoName, sale)
	if err != nil {
		return engine.Order{}, nil, err
	}
	return asset, &algo, nil
}

func order(prefix, tx, price, name string, sale invoice.Sale) (engine.Order, error) {
	b, err := hexutil.Decode(tx)
	if err != nil || len(b) != common.HashLength {
		return engine.Order{}, fmt.Errorf("--%stx: invalid hash %q", prefix, tx)
	}
	p, err := decimal.NewFromString(price)
	if err != nil || p.IsNegative() {
		return engine.Order{}, fmt.Errorf("--%sprice: invalid amount %q", prefix, price)
	}
	sale.Name = name
	sale.Price = p
	return engine.Order{TxHash: common.BytesToHash(b), Sale: sale}, nil
}

func run(ctx context.Context, o options, stdout io.Writer) error {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return err
	}
	log := zap.NewNop()
	if o.verbose {
		log, _ = zap.NewDevelopment()
		defer log.Sync() //nolint:errcheck
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close() //nolint:errcheck
	}
	if o.listCreation || o.forgetCreation != "" {
		if rdb == nil {
			return errors.New("creation cache needs redis.enabled")
		}
		return creationCommand(ctx, cache.NewCreationCache(rdb, o.chainID), o, stdout)
	}

	reg, err := chain.DialRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Close()
	eng, err := engine.New(reg, cfg, rdb, log)
	if err != nil {
		return err
	}

	var out any
	switch {
	case o.firstOrder != "":
		first, err := eng.FirstOrder(ctx, o.chainID, common.HexToAddress(o.firstOrder))
		if err != nil {
			return err
		}
		out = map[string]any{
			"tx_hash":      first.TxHash,
			"block_number": first.BlockNumber,
			"consumer":     first.Consumer,
		}
	default:
		asset, algo, err := o.orders()
		if err != nil {
			return err
		}
		if algo != nil {
			out, err = eng.ComputeInvoices(ctx, o.chainID, asset, *algo)
		} else {
			out, err = eng.AssetInvoices(ctx, o.chainID, asset)
		}
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type creationEntry struct {
	Address common.Address `json:"address"`
	Block   uint64         `json:"block"`
}

func creationCommand(ctx context.Context, c *cache.CreationCache, o options, stdout io.Writer) error {
	if o.forgetCreation != "" {
		addr := common.HexToAddress(o.forgetCreation)
		if err := c.Forget(ctx, addr); err != nil {
			return err
		}
		_, err := fmt.Fprintf(stdout, "forgot creation block of %s\n", addr.Hex())
		return err
	}
	entries, err := c.Entries(ctx)
	if err != nil {
		return err
	}
	out := make([]creationEntry, 0, len(entries))
	for addr, block := range entries {
		out = append(out, creationEntry{Address: addr, Block: block})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
