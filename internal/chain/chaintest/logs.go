package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
)

// At places a log on the ledger.
type At struct {
	Address common.Address
	TxHash  common.Hash
	Block   uint64
	Index   uint
}

// EncodeLog ABI-encodes an event of the given kind. values is keyed by the
// ABI argument name; indexed arguments go to topics.
func EncodeLog(kind chain.Kind, at At, values map[string]interface{}) (types.Log, error) {
	ev, ok := chain.ABI().Events[string(kind)]
	if !ok {
		return types.Log{}, fmt.Errorf("unknown kind %q", kind)
	}
	topics := []common.Hash{ev.ID}
	var data []interface{}
	for _, in := range ev.Inputs {
		v, ok := values[in.Name]
		if !ok {
			return types.Log{}, fmt.Errorf("%s: missing argument %s", kind, in.Name)
		}
		if !in.Indexed {
			data = append(data, v)
			continue
		}
		switch x := v.(type) {
		case common.Address:
			topics = append(topics, common.BytesToHash(x.Bytes()))
		case [32]byte:
			topics = append(topics, common.Hash(x))
		case *big.Int:
			topics = append(topics, common.BigToHash(x))
		default:
			return types.Log{}, fmt.Errorf("%s: unsupported indexed type %T", kind, v)
		}
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("%s: pack: %w", kind, err)
	}
	return types.Log{
		Address:     at.Address,
		Topics:      topics,
		Data:        packed,
		BlockNumber: at.Block,
		TxHash:      at.TxHash,
		Index:       at.Index,
	}, nil
}

func mustLog(kind chain.Kind, at At, values map[string]interface{}) types.Log {
	lg, err := EncodeLog(kind, at, values)
	if err != nil {
		panic(err)
	}
	return lg
}

func OrderStartedLog(at At, consumer, publishMarket common.Address) types.Log {
	return mustLog(chain.KindOrderStarted, at, map[string]interface{}{
		"consumer":             consumer,
		"payer":                consumer,
		"amount":               big.NewInt(1e18),
		"serviceIndex":         big.NewInt(0),
		"timestamp":            big.NewInt(1_700_000_000),
		"publishMarketAddress": publishMarket,
		"blockNumber":          new(big.Int).SetUint64(at.Block),
	})
}

func OrderReusedLog(at At, orig common.Hash, caller common.Address) types.Log {
	return mustLog(chain.KindOrderReused, at, map[string]interface{}{
		"orderTxId": [32]byte(orig),
		"caller":    caller,
		"timestamp": big.NewInt(1_700_000_000),
		"number":    new(big.Int).SetUint64(at.Block),
	})
}

func ProviderFeeLog(at At, payee, token common.Address, amount *big.Int) types.Log {
	return mustLog(chain.KindProviderFee, at, map[string]interface{}{
		"providerFeeAddress": payee,
		"providerFeeToken":   token,
		"providerFeeAmount":  amount,
		"providerData":       []byte(`{"environment":"ocean-compute"}`),
		"v":                  uint8(27),
		"r":                  [32]byte{1},
		"s":                  [32]byte{2},
		"validUntil":         big.NewInt(0),
	})
}

func TokenCollectedLog(at At, exchangeID common.Hash, to, token common.Address, amount *big.Int) types.Log {
	return mustLog(chain.KindTokenCollected, at, map[string]interface{}{
		"exchangeId": [32]byte(exchangeID),
		"to":         to,
		"token":      token,
		"amount":     amount,
	})
}

func PublishMarketFeeChangedLog(at At, caller, payee, token common.Address, amount *big.Int) types.Log {
	return mustLog(chain.KindPublishMarketFeeChanged, at, map[string]interface{}{
		"caller":                  caller,
		"PublishMarketFeeAddress": payee,
		"PublishMarketFeeToken":   token,
		"PublishMarketFeeAmount":  amount,
	})
}

func InstanceDeployedLog(at At, instance common.Address) types.Log {
	return mustLog(chain.KindInstanceDeployed, at, map[string]interface{}{
		"instance": instance,
	})
}

// TransferLog is a plain ERC20 Transfer, which the engine does not decode.
func TransferLog(at At, from, to common.Address, value *big.Int) types.Log {
	return types.Log{
		Address: at.Address,
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.BigToHash(value).Bytes(),
		BlockNumber: at.Block,
		TxHash:      at.TxHash,
		Index:       at.Index,
	}
}
