package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Transaction is the part of a mined transaction the invoice engine reads.
type Transaction struct {
	Hash     common.Hash
	From     common.Address
	To       common.Address
	GasPrice *big.Int
}

// Receipt is the part of a transaction receipt the invoice engine reads.
// EffectiveGasPrice is nil on nodes that predate EIP-1559.
type Receipt struct {
	TxHash            common.Hash
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Status            uint64
}

// Reader is the read-only node surface the engine consumes. Nothing in this
// module writes to the ledger.
type Reader interface {
	Transaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LookupError reports a ledger read that failed (network, node or missing
// data). It is always fatal for the resolution that triggered it.
type LookupError struct {
	Op     string
	Target string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupError reports whether err (or anything it wraps) is a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// Client wraps go-ethereum's ethclient with a per-query timeout.
type Client struct {
	eth     *ethclient.Client
	timeout time.Duration
}

func NewClient(rpcURL string, timeout time.Duration) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth, timeout: timeout}, nil
}

func (c *Client) Close() { c.eth.Close() }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, &LookupError{Op: "transaction", Target: hash.Hex(), Err: err}
	}
	if pending {
		return nil, &LookupError{Op: "transaction", Target: hash.Hex(), Err: errors.New("transaction not mined")}
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, &LookupError{Op: "transaction sender", Target: hash.Hex(), Err: err}
	}
	out := &Transaction{
		Hash:     hash,
		From:     from,
		GasPrice: tx.GasPrice(),
	}
	if to := tx.To(); to != nil {
		out.To = *to
	}
	return out, nil
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, &LookupError{Op: "receipt", Target: hash.Hex(), Err: err}
	}
	return &Receipt{
		TxHash:            r.TxHash,
		BlockNumber:       r.BlockNumber.Uint64(),
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		Status:            r.Status,
	}, nil
}

func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, &LookupError{Op: "block", Target: fmt.Sprintf("%d", number), Err: err}
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &LookupError{Op: "block number", Target: "latest", Err: err}
	}
	return n, nil
}

func (c *Client) Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, &LookupError{Op: "logs", Target: fmt.Sprintf("%v..%v", q.FromBlock, q.ToBlock), Err: err}
	}
	return logs, nil
}
