package scanner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain/chaintest"
)

var (
	datatoken = common.HexToAddress("0x00000000000000000000000000000000000000d7")
	other     = common.HexToAddress("0x00000000000000000000000000000000000000d8")
	consumer  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	market    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payee     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	oceanTok  = common.HexToAddress("0x00000000000000000000000000000000000000e3")
)

func at(block uint64, index uint) chaintest.At {
	return chaintest.At{Address: datatoken, TxHash: common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(index))), Block: block, Index: index}
}

// ── FindCreationBlock ────────────────────────────────────────────────────────

func TestFindCreationBlock(t *testing.T) {
	cases := []struct {
		name  string
		head  uint64
		logs  []uint64
		want  uint64
		calls int
	}{
		{"deep history", 10_000, []uint64{3217, 3220}, 3217, 4},
		{"first block of window", 10_000, []uint64{8001}, 8001, 1},
		{"just past window", 10_000, []uint64{8000}, 8000, 2},
		{"head below one window", 500, []uint64{12, 480}, 12, 1},
		{"genesis in exact window", 1999, []uint64{0}, 0, 1},
		{"genesis one block further", 2000, []uint64{0}, 0, 2},
		{"tall chain", 1_000_000, []uint64{3217, 3220}, 3217, 499},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := chaintest.NewLedger(tc.head)
			for i, b := range tc.logs {
				l.AddLogs(chaintest.InstanceDeployedLog(at(b, uint(i)), datatoken))
			}
			l.AddLogs(chaintest.InstanceDeployedLog(chaintest.At{Address: other, Block: tc.head}, other))

			s := New(l, zap.NewNop())
			got, err := s.FindCreationBlock(context.Background(), datatoken)
			if err != nil {
				t.Fatalf("FindCreationBlock: %v", err)
			}
			if got != tc.want {
				t.Errorf("block: got %d want %d", got, tc.want)
			}
			if n := len(l.Queries()); n != tc.calls {
				t.Errorf("log queries: got %d want %d", n, tc.calls)
			}
		})
	}
}

func TestFindCreationBlock_WindowsAreContiguous(t *testing.T) {
	// Each window spans exactly chunk-size blocks.
	l := chaintest.NewLedger(4500)
	s := New(l, zap.NewNop())

	_, err := s.FindCreationBlock(context.Background(), datatoken)
	if !errors.Is(err, ErrCreationBlockNotFound) {
		t.Fatalf("got %v want ErrCreationBlockNotFound", err)
	}
	want := [][2]uint64{{2501, 4500}, {501, 2500}, {0, 500}}
	qs := l.Queries()
	if len(qs) != len(want) {
		t.Fatalf("queries: got %d want %d", len(qs), len(want))
	}
	for i, q := range qs {
		if q.FromBlock.Uint64() != want[i][0] || q.ToBlock.Uint64() != want[i][1] {
			t.Errorf("window %d: got [%s, %s] want %v", i, q.FromBlock, q.ToBlock, want[i])
		}
	}
}

func TestFindCreationBlock_LookupFailure(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.LogsErr = errors.New("query returned more than 10000 results")
	s := New(l, zap.NewNop())

	_, err := s.FindCreationBlock(context.Background(), datatoken)
	if !chain.IsLookupError(err) {
		t.Errorf("got %v, want a lookup error", err)
	}
}

func TestFindCreationBlock_Cancelled(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(l, zap.NewNop()).FindCreationBlock(ctx, datatoken)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v want context.Canceled", err)
	}
}

type memStore struct {
	blocks map[common.Address]uint64
	err    error
	sets   int
}

func (m *memStore) GetCreationBlock(_ context.Context, addr common.Address) (uint64, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	b, ok := m.blocks[addr]
	return b, ok, nil
}

func (m *memStore) SetCreationBlock(_ context.Context, addr common.Address, block uint64) error {
	if m.err != nil {
		return m.err
	}
	m.sets++
	m.blocks[addr] = block
	return nil
}

func TestFindCreationBlock_Store(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.AddLogs(chaintest.InstanceDeployedLog(at(6000, 0), datatoken))
	store := &memStore{blocks: map[common.Address]uint64{}}
	s := New(l, zap.NewNop(), WithCreationStore(store))

	first, err := s.FindCreationBlock(context.Background(), datatoken)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.FindCreationBlock(context.Background(), datatoken)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != 6000 || second != 6000 {
		t.Errorf("got %d, %d want 6000", first, second)
	}
	if l.BlockQueried != 1 {
		t.Errorf("head queried %d times, want 1", l.BlockQueried)
	}
	if store.sets != 1 {
		t.Errorf("store writes: got %d want 1", store.sets)
	}
}

func TestFindCreationBlock_StoreErrorStillScans(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.AddLogs(chaintest.InstanceDeployedLog(at(6000, 0), datatoken))
	s := New(l, zap.NewNop(), WithCreationStore(&memStore{err: errors.New("redis down")}))

	got, err := s.FindCreationBlock(context.Background(), datatoken)
	if err != nil {
		t.Fatalf("FindCreationBlock: %v", err)
	}
	if got != 6000 {
		t.Errorf("got %d want 6000", got)
	}
}

func TestFindCreationBlock_FailureIsNotStored(t *testing.T) {
	l := chaintest.NewLedger(100)
	store := &memStore{blocks: map[common.Address]uint64{}}
	s := New(l, zap.NewNop(), WithCreationStore(store))

	if _, err := s.FindCreationBlock(context.Background(), datatoken); err == nil {
		t.Fatal("expected error")
	}
	if len(store.blocks) != 0 {
		t.Errorf("store holds %v after a failed scan", store.blocks)
	}
}

// ── FindFirstEvent ───────────────────────────────────────────────────────────

func TestFindFirstEvent_EarliestAcrossChunks(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.AddLogs(
		chaintest.ProviderFeeLog(at(100, 0), payee, oceanTok, big.NewInt(5)),
		chaintest.OrderStartedLog(at(7000, 0), consumer, market),
		chaintest.OrderStartedLog(at(2500, 4), consumer, market),
		chaintest.OrderStartedLog(at(2500, 1), consumer, market),
		chaintest.OrderStartedLog(at(3900, 0), consumer, market),
	)
	s := New(l, zap.NewNop())

	ev, err := s.FindFirstEvent(context.Background(), datatoken, chain.KindOrderStarted, 0, 10_000, 2000)
	if err != nil {
		t.Fatalf("FindFirstEvent: %v", err)
	}
	meta := ev.Meta()
	if ev.Kind() != chain.KindOrderStarted || meta.BlockNumber != 2500 || meta.Index != 1 {
		t.Errorf("got %s at %d#%d, want OrderStarted at 2500#1", ev.Kind(), meta.BlockNumber, meta.Index)
	}

	qs := l.Queries()
	if len(qs) != 2 {
		t.Fatalf("queries: got %d want 2", len(qs))
	}
	if qs[1].FromBlock.Uint64() != 2001 || qs[1].ToBlock.Uint64() != 4001 {
		t.Errorf("second chunk: got [%s, %s] want [2001, 4001]", qs[1].FromBlock, qs[1].ToBlock)
	}
	if len(qs[0].Topics) != 1 || qs[0].Topics[0][0] != chain.Topic(chain.KindOrderStarted) {
		t.Errorf("query not filtered by topic: %v", qs[0].Topics)
	}
}

func TestFindFirstEvent_NotFound(t *testing.T) {
	l := chaintest.NewLedger(5000)
	l.AddLogs(chaintest.OrderStartedLog(at(6000, 0), consumer, market))
	s := New(l, zap.NewNop())

	_, err := s.FindFirstEvent(context.Background(), datatoken, chain.KindOrderStarted, 1000, 5000, 1500)
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("got %v want ErrEventNotFound", err)
	}
	qs := l.Queries()
	if last := qs[len(qs)-1]; last.ToBlock.Uint64() != 5000 {
		t.Errorf("last chunk ends at %s, want 5000", last.ToBlock)
	}
	if len(qs) != 3 {
		t.Errorf("queries: got %d want 3", len(qs))
	}
}

func TestFindFirstEvent_StartPastLatest(t *testing.T) {
	l := chaintest.NewLedger(5000)
	s := New(l, zap.NewNop())

	_, err := s.FindFirstEvent(context.Background(), datatoken, chain.KindOrderStarted, 5001, 5000, 0)
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("got %v want ErrEventNotFound", err)
	}
	if n := len(l.Queries()); n != 0 {
		t.Errorf("queries: got %d want 0", n)
	}
}

func TestFindFirstEvent_DefaultChunk(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	s := New(l, zap.NewNop(), WithChunkSize(500))

	_, _ = s.FindFirstEvent(context.Background(), datatoken, chain.KindOrderStarted, 0, 10_000, 0)
	qs := l.Queries()
	if len(qs) == 0 || qs[0].ToBlock.Uint64() != 500 {
		t.Errorf("first chunk: got %v, want to-block 500", qs)
	}
}

// ── QueryEventsInBlock ───────────────────────────────────────────────────────

func TestQueryEventsInBlock_AllKinds(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.AddLogs(
		chaintest.ProviderFeeLog(at(50, 3), payee, oceanTok, big.NewInt(5)),
		chaintest.TransferLog(at(50, 0), consumer, payee, big.NewInt(1)),
		chaintest.OrderStartedLog(at(50, 2), consumer, market),
		chaintest.OrderStartedLog(at(49, 0), consumer, market),
		chaintest.OrderStartedLog(chaintest.At{Address: other, Block: 50}, consumer, market),
	)
	s := New(l, zap.NewNop())

	events, err := s.QueryEventsInBlock(context.Background(), datatoken, chain.AnyEvent, 50, 0, 0)
	if err != nil {
		t.Fatalf("QueryEventsInBlock: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events want 2", len(events))
	}
	if events[0].Kind() != chain.KindOrderStarted || events[1].Kind() != chain.KindProviderFee {
		t.Errorf("order: got %s, %s", events[0].Kind(), events[1].Kind())
	}
	if q := l.Queries()[0]; len(q.Topics) != 0 {
		t.Errorf("wildcard query carries topics: %v", q.Topics)
	}
}

func TestQueryEventsInBlock_WindowClampsAtGenesis(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	s := New(l, zap.NewNop())

	events, err := s.QueryEventsInBlock(context.Background(), datatoken, chain.KindTokenCollected, 5, 10, 10)
	if err != nil {
		t.Fatalf("QueryEventsInBlock: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events want 0", len(events))
	}
	q := l.Queries()[0]
	if q.FromBlock.Uint64() != 0 || q.ToBlock.Uint64() != 15 {
		t.Errorf("window: got [%s, %s] want [0, 15]", q.FromBlock, q.ToBlock)
	}
}

func TestQueryEventsInBlock_LookupFailure(t *testing.T) {
	l := chaintest.NewLedger(10_000)
	l.Err = errors.New("503 service unavailable")
	s := New(l, zap.NewNop())

	_, err := s.QueryEventsInBlock(context.Background(), datatoken, chain.AnyEvent, 50, 0, 0)
	if !chain.IsLookupError(err) {
		t.Errorf("got %v, want a lookup error", err)
	}
}
