package invoice

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/fees"
	"github.com/deltaDAO/mvg-portal-sub004/internal/resolver"
)

var ErrUnresolved = errors.New("purchase has no resolved order")

// Token describes a currency. On-chain amounts in it are integer base units
// shifted by Decimals; 0 takes them as is.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals int32
}

// Sale is what the caller knows about an asset sale but the ledger does not
// record.
type Sale struct {
	Name  string
	Price decimal.Decimal
	Token Token
	// Owner is the seller of last resort when no payout or provider fee
	// names one.
	Owner common.Address
}

// Purchase pairs a resolved order with its sale terms.
type Purchase struct {
	Context *resolver.ResolvedFeeContext
	Sale    Sale
}

func (p Purchase) order() (chain.OrderStarted, error) {
	if p.Context == nil {
		return chain.OrderStarted{}, ErrUnresolved
	}
	os, ok := p.Context.OrderStarted()
	if !ok {
		return chain.OrderStarted{}, fmt.Errorf("%w: %s", ErrUnresolved, p.Context.Settlement.Hash.Hex())
	}
	return os, nil
}

// Synthesizer turns purchases into invoices for one network.
type Synthesizer struct {
	Schedule     fees.Schedule
	NativeSymbol string
	Platform     common.Address
	// Tokens are the fee tokens of the network with known decimals, keyed by
	// address. A fee in a token that is neither the sale's nor listed here is
	// shown in base units under its address.
	Tokens map[common.Address]Token
}

// tokenOf resolves the currency of an on-chain fee paid in addr.
func (s Synthesizer) tokenOf(sale Token, addr common.Address) Token {
	if addr == sale.Address {
		return sale
	}
	if t, ok := s.Tokens[addr]; ok {
		t.Address = addr
		return t
	}
	return Token{Address: addr, Symbol: addr.Hex()}
}

// onChain converts a fee amount from the base units of its own token.
func (s Synthesizer) onChain(sale Token, addr common.Address, amount *big.Int) (Token, decimal.Decimal) {
	tok := s.tokenOf(sale, addr)
	return tok, fees.FromBaseUnits(amount, tok.Decimals)
}

// Asset returns the four invoices of a single-asset purchase: seller,
// market, provider, platform.
func (s Synthesizer) Asset(p Purchase) ([]Record, error) {
	os, err := p.order()
	if err != nil {
		return nil, err
	}
	buyer := Buyer{Address: os.Consumer}
	return number([]Record{
		s.seller(p, buyer),
		s.market(p, os, buyer),
		s.provider(p.Context.InvoiceDate, buyer, p),
		s.platform(p.Context.InvoiceDate, buyer, p),
	}), nil
}

// Compute returns the six invoices of a compute job: dataset seller,
// algorithm seller, market for each, one provider and one platform invoice
// covering both orders.
func (s Synthesizer) Compute(asset, algorithm Purchase) ([]Record, error) {
	assetOrder, err := asset.order()
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	algoOrder, err := algorithm.order()
	if err != nil {
		return nil, fmt.Errorf("algorithm: %w", err)
	}
	buyer := Buyer{Address: assetOrder.Consumer}
	date := asset.Context.InvoiceDate
	return number([]Record{
		s.seller(asset, buyer),
		s.seller(algorithm, buyer),
		s.market(asset, assetOrder, buyer),
		s.market(algorithm, algoOrder, buyer),
		s.provider(date, buyer, asset, algorithm),
		s.platform(date, buyer, asset, algorithm),
	}), nil
}

func (s Synthesizer) seller(p Purchase, buyer Buyer) Record {
	r := s.record(RoleSeller, p.Context.InvoiceDate, sellerOf(p), buyer, p.Sale.Token.Symbol)
	r.Lines = []Line{
		{Name: itemName(p.Sale), Price: p.Sale.Price, Currency: p.Sale.Token.Symbol, CurrencyAddress: p.Sale.Token.Address},
		{Name: "Transaction fee", Price: decimal.NewFromFloat(p.Context.TransactionFee), Currency: s.NativeSymbol},
	}
	r.Note = fmt.Sprintf("Order %s", p.Context.Settlement.Hash.Hex())
	return r
}

// market charges the fee published on chain when the order block carries
// one, the configured percentage otherwise.
func (s Synthesizer) market(p Purchase, os chain.OrderStarted, buyer Buyer) Record {
	r := s.record(RoleMarket, p.Context.InvoiceDate, os.PublishMarketAddress, buyer, p.Sale.Token.Symbol)
	line := Line{Name: "Market fee: " + itemName(p.Sale), Currency: p.Sale.Token.Symbol, CurrencyAddress: p.Sale.Token.Address}
	if pm, ok := p.Context.PublishMarketFee(); ok {
		tok, amount := s.onChain(p.Sale.Token, pm.PublishMarketFeeToken, pm.PublishMarketFeeAmount)
		line.Price = amount
		line.Currency = tok.Symbol
		line.CurrencyAddress = tok.Address
	} else {
		_, viaExchange := p.Context.TokenCollected()
		line.Price = fees.ProportionalFee(p.Sale.Price, s.Schedule.MarketPercent(viaExchange))
	}
	r.Lines = []Line{line}
	r.Note = fmt.Sprintf("Order %s", p.Context.Settlement.Hash.Hex())
	return r
}

// provider sums the provider fees of every order, one line per currency. A
// purchase without one still gets its provider invoice, at zero.
func (s Synthesizer) provider(date time.Time, buyer Buyer, ps ...Purchase) Record {
	var (
		issuer common.Address
		sums   amounts
	)
	for _, p := range ps {
		for _, pf := range p.Context.ProviderFees() {
			if issuer == (common.Address{}) {
				issuer = pf.ProviderFeeAddress
			}
			sums.add(s.onChain(p.Sale.Token, pf.ProviderFeeToken, pf.ProviderFeeAmount))
		}
	}
	if len(sums.tokens) == 0 {
		sums.add(ps[0].Sale.Token, decimal.Zero)
	}
	r := s.record(RoleProvider, date, issuer, buyer, sums.tokens[0].Symbol)
	r.Lines = sums.lines("Provider fee", func(d decimal.Decimal) decimal.Decimal { return d })
	return r
}

// platform charges the community fee on the summed sale prices, per sale
// currency.
func (s Synthesizer) platform(date time.Time, buyer Buyer, ps ...Purchase) Record {
	var sums amounts
	for _, p := range ps {
		sums.add(p.Sale.Token, p.Sale.Price)
	}
	r := s.record(RolePlatform, date, s.Platform, buyer, sums.tokens[0].Symbol)
	r.Lines = sums.lines("Community fee", func(d decimal.Decimal) decimal.Decimal {
		return fees.ProportionalFee(d, s.Schedule.CommunityFee)
	})
	return r
}

// amounts sums prices per currency in first-seen order.
type amounts struct {
	tokens []Token
	sums   []decimal.Decimal
}

func (a *amounts) add(t Token, d decimal.Decimal) {
	for i, have := range a.tokens {
		if have.Address == t.Address && have.Symbol == t.Symbol {
			a.sums[i] = a.sums[i].Add(d)
			return
		}
	}
	a.tokens = append(a.tokens, t)
	a.sums = append(a.sums, d)
}

func (a *amounts) lines(name string, price func(decimal.Decimal) decimal.Decimal) []Line {
	out := make([]Line, len(a.tokens))
	for i, t := range a.tokens {
		out[i] = Line{Name: name, Price: price(a.sums[i]), Currency: t.Symbol, CurrencyAddress: t.Address}
	}
	return out
}

func (s Synthesizer) record(role Role, date time.Time, issuer common.Address, buyer Buyer, taxCurrency string) Record {
	return Record{
		Role:              role,
		Date:              date,
		Paid:              true,
		Issuer:            issuer,
		Buyer:             buyer,
		TaxAmount:         decimal.Zero,
		TaxCurrency:       taxCurrency,
		CredentialSubject: Identity(role),
	}
}

// sellerOf prefers the exchange payout recipient, then the provider fee
// payee, then the owner the caller supplied.
func sellerOf(p Purchase) common.Address {
	if tc, ok := p.Context.TokenCollected(); ok {
		return tc.To
	}
	if pfs := p.Context.ProviderFees(); len(pfs) > 0 {
		return pfs[0].ProviderFeeAddress
	}
	return p.Sale.Owner
}

func itemName(s Sale) string {
	if s.Name == "" {
		return "Data asset"
	}
	return s.Name
}

func number(records []Record) []Record {
	for i := range records {
		records[i].ID = i + 1
	}
	return records
}
