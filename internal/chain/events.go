package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind tags a decoded contract event.
type Kind string

const (
	// AnyEvent matches every event kind in a log query.
	AnyEvent Kind = ""

	KindOrderStarted            Kind = "OrderStarted"
	KindOrderReused             Kind = "OrderReused"
	KindProviderFee             Kind = "ProviderFee"
	KindTokenCollected          Kind = "TokenCollected"
	KindPublishMarketFeeChanged Kind = "PublishMarketFeeChanged"
	KindInstanceDeployed        Kind = "InstanceDeployed"
)

// ErrUnknownEvent is returned by DecodeLog for logs whose topic is not one of
// the known kinds (plain ERC20 transfers, approvals and so on).
var ErrUnknownEvent = errors.New("unknown event")

// Event is one of the typed event variants below.
type Event interface {
	Kind() Kind
	Meta() LogMeta
}

// LogMeta locates an event on the ledger.
type LogMeta struct {
	Address     common.Address
	TxHash      common.Hash
	BlockNumber uint64
	Index       uint
}

func (m LogMeta) Meta() LogMeta { return m }

// Before orders events chronologically.
func (m LogMeta) Before(o LogMeta) bool {
	if m.BlockNumber != o.BlockNumber {
		return m.BlockNumber < o.BlockNumber
	}
	return m.Index < o.Index
}

type OrderStarted struct {
	LogMeta
	Consumer             common.Address
	Payer                common.Address
	Amount               *big.Int
	ServiceIndex         *big.Int
	Timestamp            *big.Int
	PublishMarketAddress common.Address
	OrderBlock           *big.Int
}

type OrderReused struct {
	LogMeta
	OrderTxID common.Hash
	Caller    common.Address
	Timestamp *big.Int
	Number    *big.Int
}

type ProviderFee struct {
	LogMeta
	ProviderFeeAddress common.Address
	ProviderFeeToken   common.Address
	ProviderFeeAmount  *big.Int
	ValidUntil         *big.Int
}

type TokenCollected struct {
	LogMeta
	ExchangeID common.Hash
	To         common.Address
	Token      common.Address
	Amount     *big.Int
}

type PublishMarketFeeChanged struct {
	LogMeta
	Caller                  common.Address
	PublishMarketFeeAddress common.Address
	PublishMarketFeeToken   common.Address
	PublishMarketFeeAmount  *big.Int
}

type InstanceDeployed struct {
	LogMeta
	Instance common.Address
}

func (OrderStarted) Kind() Kind            { return KindOrderStarted }
func (OrderReused) Kind() Kind             { return KindOrderReused }
func (ProviderFee) Kind() Kind             { return KindProviderFee }
func (TokenCollected) Kind() Kind          { return KindTokenCollected }
func (PublishMarketFeeChanged) Kind() Kind { return KindPublishMarketFeeChanged }
func (InstanceDeployed) Kind() Kind        { return KindInstanceDeployed }

// eventsABI covers the datatoken template, fixed-rate exchange and factory
// events the engine reads.
const eventsABI = `[
  {"anonymous":false,"name":"OrderStarted","type":"event","inputs":[
    {"indexed":true,"name":"consumer","type":"address"},
    {"indexed":false,"name":"payer","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"serviceIndex","type":"uint256"},
    {"indexed":false,"name":"timestamp","type":"uint256"},
    {"indexed":true,"name":"publishMarketAddress","type":"address"},
    {"indexed":false,"name":"blockNumber","type":"uint256"}]},
  {"anonymous":false,"name":"OrderReused","type":"event","inputs":[
    {"indexed":false,"name":"orderTxId","type":"bytes32"},
    {"indexed":false,"name":"caller","type":"address"},
    {"indexed":false,"name":"timestamp","type":"uint256"},
    {"indexed":false,"name":"number","type":"uint256"}]},
  {"anonymous":false,"name":"ProviderFee","type":"event","inputs":[
    {"indexed":false,"name":"providerFeeAddress","type":"address"},
    {"indexed":false,"name":"providerFeeToken","type":"address"},
    {"indexed":false,"name":"providerFeeAmount","type":"uint256"},
    {"indexed":false,"name":"providerData","type":"bytes"},
    {"indexed":false,"name":"v","type":"uint8"},
    {"indexed":false,"name":"r","type":"bytes32"},
    {"indexed":false,"name":"s","type":"bytes32"},
    {"indexed":false,"name":"validUntil","type":"uint256"}]},
  {"anonymous":false,"name":"TokenCollected","type":"event","inputs":[
    {"indexed":true,"name":"exchangeId","type":"bytes32"},
    {"indexed":true,"name":"to","type":"address"},
    {"indexed":true,"name":"token","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"}]},
  {"anonymous":false,"name":"PublishMarketFeeChanged","type":"event","inputs":[
    {"indexed":false,"name":"caller","type":"address"},
    {"indexed":false,"name":"PublishMarketFeeAddress","type":"address"},
    {"indexed":false,"name":"PublishMarketFeeToken","type":"address"},
    {"indexed":false,"name":"PublishMarketFeeAmount","type":"uint256"}]},
  {"anonymous":false,"name":"InstanceDeployed","type":"event","inputs":[
    {"indexed":false,"name":"instance","type":"address"}]}
]`

var (
	parsedABI abi.ABI
	topicKind = map[common.Hash]Kind{}
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		panic(fmt.Sprintf("chain: parse events abi: %v", err))
	}
	for name, ev := range parsedABI.Events {
		topicKind[ev.ID] = Kind(name)
	}
}

// ABI returns the parsed event ABI.
func ABI() abi.ABI { return parsedABI }

// Topic returns topic0 for kind. AnyEvent has no topic and yields the zero hash.
func Topic(kind Kind) common.Hash {
	if kind == AnyEvent {
		return common.Hash{}
	}
	return parsedABI.Events[string(kind)].ID
}

// DecodeLog turns a raw log into its typed variant.
func DecodeLog(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	kind, ok := topicKind[lg.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}
	ev := parsedABI.Events[string(kind)]

	args := make(map[string]interface{}, len(ev.Inputs))
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", kind, err)
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("decode %s topics: %w", kind, err)
	}

	d := argDecoder{kind: kind, args: args}
	meta := LogMeta{
		Address:     lg.Address,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		Index:       lg.Index,
	}

	var out Event
	switch kind {
	case KindOrderStarted:
		out = OrderStarted{
			LogMeta:              meta,
			Consumer:             d.address("consumer"),
			Payer:                d.address("payer"),
			Amount:               d.bigInt("amount"),
			ServiceIndex:         d.bigInt("serviceIndex"),
			Timestamp:            d.bigInt("timestamp"),
			PublishMarketAddress: d.address("publishMarketAddress"),
			OrderBlock:           d.bigInt("blockNumber"),
		}
	case KindOrderReused:
		out = OrderReused{
			LogMeta:   meta,
			OrderTxID: d.hash("orderTxId"),
			Caller:    d.address("caller"),
			Timestamp: d.bigInt("timestamp"),
			Number:    d.bigInt("number"),
		}
	case KindProviderFee:
		out = ProviderFee{
			LogMeta:            meta,
			ProviderFeeAddress: d.address("providerFeeAddress"),
			ProviderFeeToken:   d.address("providerFeeToken"),
			ProviderFeeAmount:  d.bigInt("providerFeeAmount"),
			ValidUntil:         d.bigInt("validUntil"),
		}
	case KindTokenCollected:
		out = TokenCollected{
			LogMeta:    meta,
			ExchangeID: d.hash("exchangeId"),
			To:         d.address("to"),
			Token:      d.address("token"),
			Amount:     d.bigInt("amount"),
		}
	case KindPublishMarketFeeChanged:
		out = PublishMarketFeeChanged{
			LogMeta:                 meta,
			Caller:                  d.address("caller"),
			PublishMarketFeeAddress: d.address("PublishMarketFeeAddress"),
			PublishMarketFeeToken:   d.address("PublishMarketFeeToken"),
			PublishMarketFeeAmount:  d.bigInt("PublishMarketFeeAmount"),
		}
	case KindInstanceDeployed:
		out = InstanceDeployed{
			LogMeta:  meta,
			Instance: d.address("instance"),
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return out, nil
}

// DecodeLogs decodes every known log and skips the rest.
func DecodeLogs(logs []types.Log) ([]Event, error) {
	out := make([]Event, 0, len(logs))
	for _, lg := range logs {
		ev, err := DecodeLog(lg)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("log %s#%d: %w", lg.TxHash.Hex(), lg.Index, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// argDecoder pulls typed values out of an unpacked argument map and keeps
// the first mismatch.
type argDecoder struct {
	kind Kind
	args map[string]interface{}
	err  error
}

func (d *argDecoder) fail(name string, v interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("decode %s: argument %s has type %T", d.kind, name, v)
	}
}

func (d *argDecoder) address(name string) common.Address {
	v, ok := d.args[name].(common.Address)
	if !ok {
		d.fail(name, d.args[name])
	}
	return v
}

func (d *argDecoder) bigInt(name string) *big.Int {
	v, ok := d.args[name].(*big.Int)
	if !ok {
		d.fail(name, d.args[name])
		return new(big.Int)
	}
	return v
}

func (d *argDecoder) hash(name string) common.Hash {
	v, ok := d.args[name].([32]byte)
	if !ok {
		d.fail(name, d.args[name])
	}
	return common.Hash(v)
}
