package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Money goes over the wire as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// PaymentMethod represents how a bill was paid
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentUPI          PaymentMethod = "upi"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentDD           PaymentMethod = "dd"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentBankTransfer, PaymentCheque, PaymentDD:
		return true
	}
	return false
}

// PaymentStatus represents the settlement state of a bill
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPaid, PaymentPending, PaymentPartial:
		return true
	}
	return false
}

// DefaultItemUnit is used when an item has no unit label
const DefaultItemUnit = "Nos"

// DefaultItemCategory is used when an item has no category
const DefaultItemCategory = "General"

// BankDetails holds the payee bank account printed on a bill
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
	Branch        string `json:"branch"`
	AccountHolder string `json:"account_holder"`
}

// IsEmpty reports whether no bank field is set
func (b *BankDetails) IsEmpty() bool {
	if b == nil {
		return true
	}
	return strings.TrimSpace(b.BankName+b.AccountNumber+b.IFSCCode+b.Branch+b.AccountHolder) == ""
}

// Bill represents an invoice header with its line items
type Bill struct {
	ID          int64  `json:"id"`
	BillNumber  string `json:"bill_number"`
	InvoiceDate string `json:"invoice_date"`

	// Dispatch metadata (optional)
	ChallanNumber   string `json:"challan_number"`
	ChallanDate     string `json:"challan_date"`
	PONumber        string `json:"po_number"`
	PODate          string `json:"po_date"`
	DispatchThrough string `json:"dispatch_through"`
	Destination     string `json:"destination"`

	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerEmail   string `json:"customer_email"`
	CustomerAddress string `json:"customer_address"`
	CustomerGST     string `json:"customer_gst"`

	Subtotal           decimal.Decimal `json:"subtotal"`
	CGSTPercentage     decimal.Decimal `json:"cgst_percentage"`
	CGSTAmount         decimal.Decimal `json:"cgst_amount"`
	SGSTPercentage     decimal.Decimal `json:"sgst_percentage"`
	SGSTAmount         decimal.Decimal `json:"sgst_amount"`
	IGSTPercentage     decimal.Decimal `json:"igst_percentage"`
	IGSTAmount         decimal.Decimal `json:"igst_amount"`
	TotalTaxAmount     decimal.Decimal `json:"total_tax_amount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	BankDetails   *BankDetails  `json:"bank_details,omitempty"`

	Notes string `json:"notes"`
	Terms string `json:"terms"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	Items      []BillItem `json:"items,omitempty"`
	ItemsCount int        `json:"items_count"`
}

// ExpectedTotal is subtotal + total tax - discount
func (b *Bill) ExpectedTotal() decimal.Decimal {
	return b.Subtotal.Add(b.TotalTaxAmount).Sub(b.DiscountAmount)
}

// MoneyFields returns every monetary header field keyed by its column name
func (b *Bill) MoneyFields() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"subtotal":            b.Subtotal,
		"cgst_percentage":     b.CGSTPercentage,
		"cgst_amount":         b.CGSTAmount,
		"sgst_percentage":     b.SGSTPercentage,
		"sgst_amount":         b.SGSTAmount,
		"igst_percentage":     b.IGSTPercentage,
		"igst_amount":         b.IGSTAmount,
		"total_tax_amount":    b.TotalTaxAmount,
		"discount_percentage": b.DiscountPercentage,
		"discount_amount":     b.DiscountAmount,
		"total_amount":        b.TotalAmount,
	}
}

// BillItem represents one line of a bill
type BillItem struct {
	ID          int64           `json:"id"`
	BillID      int64           `json:"bill_id"`
	SrNo        int             `json:"sr_no"`
	ProductName string          `json:"product_name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	HSNCode     string          `json:"hsn_code"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    Quantity        `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Unit        string          `json:"unit"`
}

// IsBlank reports whether the item carries no meaningful content
func (i *BillItem) IsBlank() bool {
	return strings.TrimSpace(i.ProductName) == "" &&
		strings.TrimSpace(i.Description) == "" &&
		strings.TrimSpace(string(i.Quantity)) == "" &&
		i.UnitPrice.IsZero() &&
		i.TotalPrice.IsZero()
}

// BillUpdate is a partial update. Nil fields are left unchanged.
type BillUpdate struct {
	BillNumber  *string `json:"bill_number"`
	InvoiceDate *string `json:"invoice_date"`

	ChallanNumber   *string `json:"challan_number"`
	ChallanDate     *string `json:"challan_date"`
	PONumber        *string `json:"po_number"`
	PODate          *string `json:"po_date"`
	DispatchThrough *string `json:"dispatch_through"`
	Destination     *string `json:"destination"`

	CustomerName    *string `json:"customer_name"`
	CustomerPhone   *string `json:"customer_phone"`
	CustomerEmail   *string `json:"customer_email"`
	CustomerAddress *string `json:"customer_address"`
	CustomerGST     *string `json:"customer_gst"`

	Subtotal           *decimal.Decimal `json:"subtotal"`
	CGSTPercentage     *decimal.Decimal `json:"cgst_percentage"`
	CGSTAmount         *decimal.Decimal `json:"cgst_amount"`
	SGSTPercentage     *decimal.Decimal `json:"sgst_percentage"`
	SGSTAmount         *decimal.Decimal `json:"sgst_amount"`
	IGSTPercentage     *decimal.Decimal `json:"igst_percentage"`
	IGSTAmount         *decimal.Decimal `json:"igst_amount"`
	TotalTaxAmount     *decimal.Decimal `json:"total_tax_amount"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount"`
	TotalAmount        *decimal.Decimal `json:"total_amount"`

	PaymentMethod *PaymentMethod `json:"payment_method"`
	PaymentStatus *PaymentStatus `json:"payment_status"`

	// BankDetails wins over the individual bank fields below
	BankDetails       *BankDetails `json:"bank_details"`
	BankName          *string      `json:"bank_name"`
	BankAccountNumber *string      `json:"bank_account_number"`
	BankIFSC          *string      `json:"bank_ifsc"`
	BankBranch        *string      `json:"bank_branch"`
	BankAccountHolder *string      `json:"bank_account_holder"`

	Notes *string `json:"notes"`
	Terms *string `json:"terms"`

	// Items replaces the whole item set when present
	Items []BillItem `json:"items"`
}

// TouchesTotals reports whether any monetary field is being changed
func (u *BillUpdate) TouchesTotals() bool {
	return u.Subtotal != nil || u.TotalTaxAmount != nil || u.DiscountAmount != nil || u.TotalAmount != nil
}

// BillListFilter narrows a bill listing
type BillListFilter struct {
	Search        string
	DateFrom      string
	DateTo        string
	Status        PaymentStatus
	PaymentMethod PaymentMethod
	Page          int
	Limit         int
}

// Pagination describes one page of a listing
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// BillPage is one page of bills
type BillPage struct {
	Bills      []Bill     `json:"bills"`
	Pagination Pagination `json:"pagination"`
}
