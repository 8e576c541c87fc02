package chain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
)

var ErrUnknownChain = errors.New("unknown chain id")

// Network is one configured ledger: its node endpoint and the contract
// addresses the engine needs on it.
type Network struct {
	ChainID           int64
	Name              string
	NativeSymbol      string
	FixedRateExchange common.Address
	Platform          common.Address
	Reader            Reader
}

// Registry selects a Network by chain id.
type Registry struct {
	networks map[int64]*Network
	closers  []func()
}

func NewRegistry(networks ...*Network) *Registry {
	r := &Registry{networks: make(map[int64]*Network, len(networks))}
	for _, n := range networks {
		r.networks[n.ChainID] = n
	}
	return r
}

// DialRegistry dials every configured network.
func DialRegistry(cfg *config.Config) (*Registry, error) {
	timeout := time.Duration(cfg.Scan.QueryTimeoutSec) * time.Second
	r := NewRegistry()
	for _, nc := range cfg.Networks {
		client, err := NewClient(nc.RPCURL, timeout)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("network %d: %w", nc.ChainID, err)
		}
		r.closers = append(r.closers, client.Close)
		symbol := nc.NativeSymbol
		if symbol == "" {
			symbol = "ETH"
		}
		r.networks[nc.ChainID] = &Network{
			ChainID:           nc.ChainID,
			Name:              nc.Name,
			NativeSymbol:      symbol,
			FixedRateExchange: common.HexToAddress(nc.FixedRateExchange),
			Platform:          common.HexToAddress(nc.PlatformAddress),
			Reader:            client,
		}
	}
	return r, nil
}

func (r *Registry) Network(chainID int64) (*Network, error) {
	n, ok := r.networks[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return n, nil
}

// ChainIDs returns the configured chain ids in ascending order.
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.networks))
	for id := range r.networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Close() {
	for _, c := range r.closers {
		c()
	}
}
