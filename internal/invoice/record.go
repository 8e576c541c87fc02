// Package invoice assembles resolved purchases into invoice records. It does
// no I/O.
package invoice

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Role is the party an invoice is issued by.
type Role string

const (
	RoleSeller   Role = "seller"
	RoleMarket   Role = "market"
	RoleProvider Role = "provider"
	RolePlatform Role = "platform"
)

// Record is one invoice. A purchase yields a fixed sequence of them.
type Record struct {
	ID                int               `json:"id"`
	Role              Role              `json:"role"`
	Date              time.Time         `json:"date"`
	Paid              bool              `json:"paid"`
	Issuer            common.Address    `json:"issuer"`
	Buyer             Buyer             `json:"buyer"`
	Lines             []Line            `json:"lines"`
	TaxAmount         decimal.Decimal   `json:"taxAmount"`
	TaxCurrency       string            `json:"taxCurrency"`
	Note              string            `json:"note"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
}

type Line struct {
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	CurrencyAddress common.Address  `json:"currencyAddress"`
}

// Buyer identifies the purchaser. Only the address is known on chain; the
// business fields are left for the buyer to fill in.
type Buyer struct {
	Address    common.Address `json:"address"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Street     string         `json:"street"`
	PostalCode string         `json:"postalCode"`
	City       string         `json:"city"`
	Country    string         `json:"country"`
	VATID      string         `json:"vatId"`
}
