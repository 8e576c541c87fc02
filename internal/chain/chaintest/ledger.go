// Package chaintest provides an in-memory ledger implementing chain.Reader
// and helpers that ABI-encode the events the engine decodes.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
)

// Ledger is a fake node. All maps are keyed by transaction hash.
type Ledger struct {
	mu sync.Mutex

	Head         uint64
	Txs          map[common.Hash]*chain.Transaction
	Receipts     map[common.Hash]*chain.Receipt
	BlockTimes   map[uint64]time.Time
	EventLogs    []types.Log
	Err          error // returned by every call when set
	LogsErr      error // returned by Logs only when set
	LogQueries   []ethereum.FilterQuery
	BlockQueried int
}

func NewLedger(head uint64) *Ledger {
	return &Ledger{
		Head:       head,
		Txs:        make(map[common.Hash]*chain.Transaction),
		Receipts:   make(map[common.Hash]*chain.Receipt),
		BlockTimes: make(map[uint64]time.Time),
	}
}

// AddSettlement registers a mined transaction together with its receipt and
// block timestamp.
func (l *Ledger) AddSettlement(hash common.Hash, from, to common.Address, gasPrice *big.Int, gasUsed, block uint64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Txs[hash] = &chain.Transaction{Hash: hash, From: from, To: to, GasPrice: gasPrice}
	l.Receipts[hash] = &chain.Receipt{TxHash: hash, BlockNumber: block, GasUsed: gasUsed, Status: 1}
	l.BlockTimes[block] = at
}

func (l *Ledger) AddLogs(logs ...types.Log) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.EventLogs = append(l.EventLogs, logs...)
}

func (l *Ledger) Queries() []ethereum.FilterQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), l.LogQueries...)
}

func (l *Ledger) Transaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	tx, ok := l.Txs[hash]
	if !ok {
		return nil, &chain.LookupError{Op: "transaction", Target: hash.Hex(), Err: ethereum.NotFound}
	}
	cp := *tx
	return &cp, nil
}

func (l *Ledger) Receipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	r, ok := l.Receipts[hash]
	if !ok {
		return nil, &chain.LookupError{Op: "receipt", Target: hash.Hex(), Err: ethereum.NotFound}
	}
	cp := *r
	return &cp, nil
}

func (l *Ledger) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail(ctx); err != nil {
		return time.Time{}, err
	}
	at, ok := l.BlockTimes[number]
	if !ok {
		return time.Time{}, &chain.LookupError{Op: "block", Target: fmt.Sprintf("%d", number), Err: ethereum.NotFound}
	}
	return at, nil
}

func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail(ctx); err != nil {
		return 0, err
	}
	l.BlockQueried++
	return l.Head, nil
}

// Logs applies address, block range and topic0 filtering and returns logs
// oldest first, the way a node does.
func (l *Ledger) Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	l.LogQueries = append(l.LogQueries, q)
	if l.LogsErr != nil {
		return nil, &chain.LookupError{Op: "logs", Target: "range", Err: l.LogsErr}
	}

	var out []types.Log
	for _, lg := range l.EventLogs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, lg.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
			if len(lg.Topics) == 0 || !containsHash(q.Topics[0], lg.Topics[0]) {
				continue
			}
		}
		out = append(out, lg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (l *Ledger) fail(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.Err != nil {
		return &chain.LookupError{Op: "rpc", Target: "node", Err: l.Err}
	}
	return nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
