// Package scanner pages contract event logs out of a node in fixed-size block
// windows. Node providers reject or throttle unbounded log queries, so every
// lookup here is chunked.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
)

// DefaultChunkSize is the block window used when none is configured.
const DefaultChunkSize uint64 = 2000

var (
	ErrCreationBlockNotFound = errors.New("creation block not found")
	ErrEventNotFound         = errors.New("no such event found")
)

// LogReader is the subset of chain.Reader the scanner needs.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// CreationStore memoises contract creation blocks. Implementations must only
// hold values that came out of a successful scan.
type CreationStore interface {
	GetCreationBlock(ctx context.Context, addr common.Address) (uint64, bool, error)
	SetCreationBlock(ctx context.Context, addr common.Address, block uint64) error
}

type Scanner struct {
	rd        LogReader
	chunkSize uint64
	store     CreationStore
	log       *zap.Logger
}

type Option func(*Scanner)

func WithChunkSize(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithCreationStore(cs CreationStore) Option {
	return func(s *Scanner) { s.store = cs }
}

func New(rd LogReader, log *zap.Logger, opts ...Option) *Scanner {
	s := &Scanner{rd: rd, chunkSize: DefaultChunkSize, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scanner) ChunkSize() uint64 { return s.chunkSize }

// FindCreationBlock walks back from the chain head one window at a time until
// a window holds logs emitted by addr, and returns the lowest block in that
// window.
func (s *Scanner) FindCreationBlock(ctx context.Context, addr common.Address) (uint64, error) {
	if s.store != nil {
		block, ok, err := s.store.GetCreationBlock(ctx, addr)
		if err != nil {
			s.log.Warn("creation store read failed", zap.String("address", addr.Hex()), zap.Error(err))
		} else if ok {
			return block, nil
		}
	}

	head, err := s.rd.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("find creation block: %w", err)
	}

	to := head
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		from := uint64(0)
		if to >= s.chunkSize {
			from = to - s.chunkSize + 1
		}
		logs, err := s.rd.Logs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{addr},
		})
		if err != nil {
			return 0, fmt.Errorf("find creation block: %w", err)
		}
		if len(logs) > 0 {
			block := logs[0].BlockNumber
			for _, lg := range logs[1:] {
				if lg.BlockNumber < block {
					block = lg.BlockNumber
				}
			}
			s.log.Debug("creation block found", zap.String("address", addr.Hex()), zap.Uint64("block", block))
			if s.store != nil {
				if err := s.store.SetCreationBlock(ctx, addr, block); err != nil {
					s.log.Warn("creation store write failed", zap.String("address", addr.Hex()), zap.Error(err))
				}
			}
			return block, nil
		}
		if from == 0 {
			return 0, fmt.Errorf("%w: %s", ErrCreationBlockNotFound, addr.Hex())
		}
		to = from - 1
	}
}

// FindFirstEvent scans forward from fromBlock in chunks of chunkSize (0 means
// the scanner default) and returns the earliest event of the given kind.
func (s *Scanner) FindFirstEvent(ctx context.Context, addr common.Address, kind chain.Kind, fromBlock, latestBlock, chunkSize uint64) (chain.Event, error) {
	if chunkSize == 0 {
		chunkSize = s.chunkSize
	}
	for from := fromBlock; from <= latestBlock; from += chunkSize + 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		to := from + chunkSize
		if to > latestBlock {
			to = latestBlock
		}
		logs, err := s.rd.Logs(ctx, filter(addr, kind, from, to))
		if err != nil {
			return nil, fmt.Errorf("find first %s: %w", kind, err)
		}
		events, err := chain.DecodeLogs(logs)
		if err != nil {
			return nil, fmt.Errorf("find first %s: %w", kind, err)
		}
		if first := earliest(events); first != nil {
			return first, nil
		}
		if to == latestBlock {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s from %s", ErrEventNotFound, kind, addr.Hex())
}

// QueryEventsInBlock returns every event of kind (or all known kinds for
// chain.AnyEvent) emitted by addr in [block-before, block+after], oldest
// first. An empty result is not an error.
func (s *Scanner) QueryEventsInBlock(ctx context.Context, addr common.Address, kind chain.Kind, block, before, after uint64) ([]chain.Event, error) {
	from := uint64(0)
	if block > before {
		from = block - before
	}
	logs, err := s.rd.Logs(ctx, filter(addr, kind, from, block+after))
	if err != nil {
		return nil, fmt.Errorf("query %s events at %d: %w", kindLabel(kind), block, err)
	}
	events, err := chain.DecodeLogs(logs)
	if err != nil {
		return nil, fmt.Errorf("query %s events at %d: %w", kindLabel(kind), block, err)
	}
	return events, nil
}

func filter(addr common.Address, kind chain.Kind, from, to uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
	}
	if kind != chain.AnyEvent {
		q.Topics = [][]common.Hash{{chain.Topic(kind)}}
	}
	return q
}

func earliest(events []chain.Event) chain.Event {
	var first chain.Event
	for _, ev := range events {
		if first == nil || ev.Meta().Before(first.Meta()) {
			first = ev
		}
	}
	return first
}

func kindLabel(kind chain.Kind) string {
	if kind == chain.AnyEvent {
		return "all"
	}
	return string(kind)
}
