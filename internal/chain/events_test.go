package chain_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain/chaintest"
)

var (
	datatoken = common.HexToAddress("0x00000000000000000000000000000000000000d7")
	consumer  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	market    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payee     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	oceanTok  = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	txA       = common.HexToHash("0xabc")
)

func TestTopic_MatchesSignatureHash(t *testing.T) {
	// keccak256("OrderReused(bytes32,address,uint256,uint256)")
	got := chain.Topic(chain.KindOrderReused)
	want := chain.ABI().Events["OrderReused"].ID
	if got != want {
		t.Errorf("Topic: got %s want %s", got.Hex(), want.Hex())
	}
	if chain.Topic(chain.AnyEvent) != (common.Hash{}) {
		t.Error("AnyEvent must not carry a topic")
	}
}

func TestDecodeLog_OrderStarted(t *testing.T) {
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 42, Index: 3}
	ev, err := chain.DecodeLog(chaintest.OrderStartedLog(at, consumer, market))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	os, ok := ev.(chain.OrderStarted)
	if !ok {
		t.Fatalf("got %T, want chain.OrderStarted", ev)
	}
	if os.Consumer != consumer {
		t.Errorf("Consumer: got %s want %s", os.Consumer.Hex(), consumer.Hex())
	}
	if os.PublishMarketAddress != market {
		t.Errorf("PublishMarketAddress: got %s want %s", os.PublishMarketAddress.Hex(), market.Hex())
	}
	if os.OrderBlock.Uint64() != 42 {
		t.Errorf("OrderBlock: got %s want 42", os.OrderBlock)
	}
	meta := ev.Meta()
	if meta.TxHash != txA || meta.BlockNumber != 42 || meta.Index != 3 || meta.Address != datatoken {
		t.Errorf("Meta: got %+v", meta)
	}
}

func TestDecodeLog_OrderReused(t *testing.T) {
	orig := common.HexToHash("0xdef")
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 7}
	ev, err := chain.DecodeLog(chaintest.OrderReusedLog(at, orig, consumer))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	r := ev.(chain.OrderReused)
	if r.OrderTxID != orig {
		t.Errorf("OrderTxID: got %s want %s", r.OrderTxID.Hex(), orig.Hex())
	}
	if r.Caller != consumer {
		t.Errorf("Caller: got %s want %s", r.Caller.Hex(), consumer.Hex())
	}
}

func TestDecodeLog_ProviderFee(t *testing.T) {
	amount, _ := new(big.Int).SetString("5000000000000000000", 10)
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 7}
	ev, err := chain.DecodeLog(chaintest.ProviderFeeLog(at, payee, oceanTok, amount))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	pf := ev.(chain.ProviderFee)
	if pf.ProviderFeeAmount.Cmp(amount) != 0 {
		t.Errorf("ProviderFeeAmount: got %s want %s", pf.ProviderFeeAmount, amount)
	}
	if pf.ProviderFeeAddress != payee || pf.ProviderFeeToken != oceanTok {
		t.Errorf("addresses: got %s / %s", pf.ProviderFeeAddress.Hex(), pf.ProviderFeeToken.Hex())
	}
}

func TestDecodeLog_TokenCollectedIndexedArgs(t *testing.T) {
	exchange := common.HexToAddress("0x00000000000000000000000000000000000000fe")
	id := common.HexToHash("0x1234")
	at := chaintest.At{Address: exchange, TxHash: txA, Block: 9}
	ev, err := chain.DecodeLog(chaintest.TokenCollectedLog(at, id, payee, oceanTok, big.NewInt(100)))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	tc := ev.(chain.TokenCollected)
	if tc.ExchangeID != id || tc.To != payee || tc.Token != oceanTok {
		t.Errorf("indexed args: got %+v", tc)
	}
	if tc.Amount.Int64() != 100 {
		t.Errorf("Amount: got %s want 100", tc.Amount)
	}
}

func TestDecodeLog_PublishMarketFeeChangedAndInstance(t *testing.T) {
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 9}
	ev, err := chain.DecodeLog(chaintest.PublishMarketFeeChangedLog(at, consumer, market, oceanTok, big.NewInt(2)))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if got := ev.(chain.PublishMarketFeeChanged).PublishMarketFeeAmount.Int64(); got != 2 {
		t.Errorf("PublishMarketFeeAmount: got %d want 2", got)
	}

	ev, err = chain.DecodeLog(chaintest.InstanceDeployedLog(at, datatoken))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if got := ev.(chain.InstanceDeployed).Instance; got != datatoken {
		t.Errorf("Instance: got %s want %s", got.Hex(), datatoken.Hex())
	}
}

func TestDecodeLog_Unknown(t *testing.T) {
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 1}
	_, err := chain.DecodeLog(chaintest.TransferLog(at, consumer, payee, big.NewInt(1)))
	if !errors.Is(err, chain.ErrUnknownEvent) {
		t.Errorf("transfer: got %v want ErrUnknownEvent", err)
	}
	_, err = chain.DecodeLog(types.Log{})
	if !errors.Is(err, chain.ErrUnknownEvent) {
		t.Errorf("empty: got %v want ErrUnknownEvent", err)
	}
}

func TestDecodeLog_TruncatedData(t *testing.T) {
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 1}
	lg := chaintest.OrderReusedLog(at, common.HexToHash("0x1"), consumer)
	lg.Data = lg.Data[:40]
	_, err := chain.DecodeLog(lg)
	if err == nil || errors.Is(err, chain.ErrUnknownEvent) {
		t.Errorf("got %v, want a decode error", err)
	}
}

func TestDecodeLogs_SkipsUnknown(t *testing.T) {
	at := chaintest.At{Address: datatoken, TxHash: txA, Block: 5}
	logs := []types.Log{
		chaintest.TransferLog(at, consumer, payee, big.NewInt(1)),
		chaintest.OrderStartedLog(chaintest.At{Address: datatoken, TxHash: txA, Block: 5, Index: 1}, consumer, market),
	}
	events, err := chain.DecodeLogs(logs)
	if err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}
	if len(events) != 1 || events[0].Kind() != chain.KindOrderStarted {
		t.Fatalf("got %d events, want one OrderStarted", len(events))
	}
}

func TestLookupError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&chain.LookupError{Op: "receipt", Target: "0xabc", Err: cause})
	if !chain.IsLookupError(err) {
		t.Error("IsLookupError: got false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrapped")
	}
	if chain.IsLookupError(cause) {
		t.Error("plain error reported as lookup error")
	}
}

func TestRegistry_Network(t *testing.T) {
	r := chain.NewRegistry(&chain.Network{ChainID: 100}, &chain.Network{ChainID: 32456})
	if _, err := r.Network(100); err != nil {
		t.Fatalf("Network(100): %v", err)
	}
	if _, err := r.Network(1); !errors.Is(err, chain.ErrUnknownChain) {
		t.Errorf("Network(1): got %v want ErrUnknownChain", err)
	}
	ids := r.ChainIDs()
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 32456 {
		t.Errorf("ChainIDs: got %v", ids)
	}
}
