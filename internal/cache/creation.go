// Package cache keeps contract creation blocks in Redis. A creation block is
// an immutable ledger fact, so entries never expire.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const creationKeyPrefix = "invoice:creation:"

// CreationCache implements scanner.CreationStore for one chain.
type CreationCache struct {
	rdb     *redis.Client
	chainID int64
}

func NewCreationCache(rdb *redis.Client, chainID int64) *CreationCache {
	return &CreationCache{rdb: rdb, chainID: chainID}
}

func (c *CreationCache) key(addr common.Address) string {
	return fmt.Sprintf("%s%d:%s", creationKeyPrefix, c.chainID, strings.ToLower(addr.Hex()))
}

func (c *CreationCache) GetCreationBlock(ctx context.Context, addr common.Address) (uint64, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	block, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("creation block for %s: %w", addr.Hex(), err)
	}
	return block, true, nil
}

func (c *CreationCache) SetCreationBlock(ctx context.Context, addr common.Address, block uint64) error {
	return c.rdb.Set(ctx, c.key(addr), strconv.FormatUint(block, 10), 0).Err()
}

// Forget drops a stored creation block, for operators correcting an entry
// written against a reorganised chain.
func (c *CreationCache) Forget(ctx context.Context, addr common.Address) error {
	return c.rdb.Del(ctx, c.key(addr)).Err()
}

// Entries lists every stored creation block of this chain.
func (c *CreationCache) Entries(ctx context.Context) (map[common.Address]uint64, error) {
	prefix := fmt.Sprintf("%s%d:", creationKeyPrefix, c.chainID)
	out := make(map[common.Address]uint64)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan creation blocks: %w", err)
		}
		for _, key := range keys {
			v, err := c.rdb.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			block, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				continue
			}
			out[common.HexToAddress(strings.TrimPrefix(key, prefix))] = block
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}
