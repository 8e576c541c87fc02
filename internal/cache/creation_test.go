package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var datatoken = common.HexToAddress("0x00000000000000000000000000000000000000D7")

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, mr
}

func TestCreationCache_SetGet(t *testing.T) {
	rdb, mr := newTestRedis(t)
	ctx := context.Background()
	c := NewCreationCache(rdb, 100)

	if _, ok, err := c.GetCreationBlock(ctx, datatoken); err != nil || ok {
		t.Fatalf("empty cache: got ok=%v err=%v", ok, err)
	}
	if err := c.SetCreationBlock(ctx, datatoken, 3217); err != nil {
		t.Fatalf("SetCreationBlock: %v", err)
	}
	got, ok, err := c.GetCreationBlock(ctx, datatoken)
	if err != nil || !ok {
		t.Fatalf("GetCreationBlock: ok=%v err=%v", ok, err)
	}
	if got != 3217 {
		t.Errorf("block: got %d want 3217", got)
	}

	key := "invoice:creation:100:0x00000000000000000000000000000000000000d7"
	if v, err := mr.Get(key); err != nil || v != "3217" {
		t.Errorf("raw key %s: got %q, %v", key, v, err)
	}
	if ttl := mr.TTL(key); ttl != 0 {
		t.Errorf("TTL: got %v want none", ttl)
	}
}

func TestCreationCache_ChainsAreSeparate(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()

	if err := NewCreationCache(rdb, 100).SetCreationBlock(ctx, datatoken, 1); err != nil {
		t.Fatalf("SetCreationBlock: %v", err)
	}
	if _, ok, _ := NewCreationCache(rdb, 32456).GetCreationBlock(ctx, datatoken); ok {
		t.Error("entry leaked across chains")
	}
}

func TestCreationCache_CorruptValue(t *testing.T) {
	rdb, mr := newTestRedis(t)
	c := NewCreationCache(rdb, 100)
	mr.Set("invoice:creation:100:0x00000000000000000000000000000000000000d7", "not-a-number")

	if _, _, err := c.GetCreationBlock(context.Background(), datatoken); err == nil {
		t.Error("expected error for corrupt value")
	}
}

func TestCreationCache_Unreachable(t *testing.T) {
	rdb, mr := newTestRedis(t)
	c := NewCreationCache(rdb, 100)
	mr.Close()

	if _, _, err := c.GetCreationBlock(context.Background(), datatoken); err == nil {
		t.Error("expected error with redis down")
	}
}

func TestCreationCache_EntriesAndForget(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()
	c := NewCreationCache(rdb, 100)
	other := common.HexToAddress("0x00000000000000000000000000000000000000d8")

	_ = c.SetCreationBlock(ctx, datatoken, 10)
	_ = c.SetCreationBlock(ctx, other, 20)
	_ = NewCreationCache(rdb, 1).SetCreationBlock(ctx, other, 30)

	entries, err := c.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[datatoken] != 10 || entries[other] != 20 {
		t.Errorf("Entries: got %v", entries)
	}

	if err := c.Forget(ctx, datatoken); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok, _ := c.GetCreationBlock(ctx, datatoken); ok {
		t.Error("entry still present after Forget")
	}
}
