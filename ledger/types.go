package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Field limits enforced by the ledger.
const (
	MaxDisplayNameLength = 100
	MaxItemNameLength    = 100
	MaxPrivateNoteLength = 4000
)

const (
	ItemTypeService      = "Service"
	ItemTypeNonInventory = "NonInventory"
)

const (
	DetailTypeSalesItemLine = "SalesItemLineDetail"
	DetailTypeDiscountLine  = "DiscountLineDetail"
)

// Money is sent as a bare JSON number rounded to cents.
type Money decimal.Decimal

func NewMoney(d decimal.Decimal) Money {
	return Money(d.Round(2))
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.Decimal(m)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	d, err := parseNumber(b)
	if err != nil {
		return err
	}
	*m = Money(d)
	return nil
}

// Quantity is sent unrounded. Line quantities and unit prices keep the
// local scale so the ledger's Qty x UnitPrice check matches the line Amount.
type Quantity decimal.Decimal

func NewQuantity(d decimal.Decimal) Quantity {
	return Quantity(d)
}

func (q Quantity) Decimal() decimal.Decimal {
	return decimal.Decimal(q)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(q).String()), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	d, err := parseNumber(b)
	if err != nil {
		return err
	}
	*q = Quantity(d)
	return nil
}

func parseNumber(b []byte) (decimal.Decimal, error) {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type EmailAddress struct {
	Address string `json:"Address"`
}

type TelephoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// Customer carries SyncToken, the revision token every update must echo back.
type Customer struct {
	Id               string           `json:"Id,omitempty"`
	SyncToken        string           `json:"SyncToken,omitempty"`
	Sparse           bool             `json:"sparse,omitempty"`
	DisplayName      string           `json:"DisplayName"`
	GivenName        string           `json:"GivenName,omitempty"`
	FamilyName       string           `json:"FamilyName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *TelephoneNumber `json:"PrimaryPhone,omitempty"`
}

type Item struct {
	Id               string `json:"Id,omitempty"`
	SyncToken        string `json:"SyncToken,omitempty"`
	Sparse           bool   `json:"sparse,omitempty"`
	Name             string `json:"Name"`
	Type             string `json:"Type,omitempty"`
	Active           bool   `json:"Active"`
	UnitPrice        *Money `json:"UnitPrice,omitempty"`
	IncomeAccountRef *Ref   `json:"IncomeAccountRef,omitempty"`
}

type SalesItemLineDetail struct {
	ItemRef   Ref      `json:"ItemRef"`
	Qty       Quantity `json:"Qty"`
	UnitPrice Quantity `json:"UnitPrice"`
}

type DiscountLineDetail struct {
	PercentBased bool `json:"PercentBased"`
}

type Line struct {
	Id                  string               `json:"Id,omitempty"`
	LineNum             int                  `json:"LineNum,omitempty"`
	Description         string               `json:"Description,omitempty"`
	Amount              Money                `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
	DiscountLineDetail  *DiscountLineDetail  `json:"DiscountLineDetail,omitempty"`
}

type SalesReceipt struct {
	Id                  string `json:"Id,omitempty"`
	SyncToken           string `json:"SyncToken,omitempty"`
	DocNumber           string `json:"DocNumber,omitempty"`
	TxnDate             string `json:"TxnDate,omitempty"`
	CustomerRef         *Ref   `json:"CustomerRef,omitempty"`
	Line                []Line `json:"Line"`
	PrivateNote         string `json:"PrivateNote,omitempty"`
	DepositToAccountRef *Ref   `json:"DepositToAccountRef,omitempty"`
	TotalAmt            *Money `json:"TotalAmt,omitempty"`
}
