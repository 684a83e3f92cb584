package services

import (
	"strings"
	"sync"
	"time"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"

	"github.com/shopspring/decimal"
)

// Column order shared by inserts, restores and selects of the bills table
var billColumns = []string{
	"bill_number", "invoice_date",
	"challan_number", "challan_date", "po_number", "po_date", "dispatch_through", "destination",
	"customer_name", "customer_phone", "customer_email", "customer_address", "customer_gst",
	"subtotal", "cgst_percentage", "cgst_amount", "sgst_percentage", "sgst_amount",
	"igst_percentage", "igst_amount", "total_tax_amount", "discount_percentage", "discount_amount", "total_amount",
	"payment_method", "payment_status",
	"bank_name", "bank_account_number", "bank_ifsc", "bank_branch", "bank_account_holder",
	"notes", "terms",
}

var itemColumns = []string{
	"bill_id", "sr_no", "product_name", "description", "category", "hsn_code",
	"unit_price", "quantity", "total_price", "unit",
}

var (
	billSelectList = "id, " + strings.Join(billColumns, ", ") + ", created_at, updated_at"
	itemSelectList = "id, " + strings.Join(itemColumns, ", ")
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullable(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func money(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func billValues(b *models.Bill) []interface{} {
	bank := b.BankDetails
	if bank == nil {
		bank = &models.BankDetails{}
	}
	return []interface{}{
		nullable(b.BillNumber), b.InvoiceDate,
		nullable(b.ChallanNumber), nullable(b.ChallanDate), nullable(b.PONumber), nullable(b.PODate),
		nullable(b.DispatchThrough), nullable(b.Destination),
		b.CustomerName, b.CustomerPhone, nullable(b.CustomerEmail), nullable(b.CustomerAddress), nullable(b.CustomerGST),
		money(b.Subtotal), money(b.CGSTPercentage), money(b.CGSTAmount), money(b.SGSTPercentage), money(b.SGSTAmount),
		money(b.IGSTPercentage), money(b.IGSTAmount), money(b.TotalTaxAmount), money(b.DiscountPercentage),
		money(b.DiscountAmount), money(b.TotalAmount),
		string(b.PaymentMethod), string(b.PaymentStatus),
		nullable(bank.BankName), nullable(bank.AccountNumber), nullable(bank.IFSCCode), nullable(bank.Branch),
		nullable(bank.AccountHolder),
		nullable(b.Notes), nullable(b.Terms),
	}
}

const stampLayout = "2006-01-02 15:04:05.000000"

var (
	stampMu   sync.Mutex
	lastStamp time.Time
)

// writeStamp returns the updated_at value for a bill write. Stamps are
// strictly increasing within the process, so a row still carrying a given
// stamp has not been written since.
func writeStamp() string {
	stampMu.Lock()
	defer stampMu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(lastStamp) {
		now = lastStamp.Add(time.Microsecond)
	}
	lastStamp = now
	return now.Format(stampLayout)
}

func insertBillStatement(b *models.Bill, stamp string) remotedb.Statement {
	return remotedb.NewStatement(
		"INSERT INTO bills ("+strings.Join(billColumns, ", ")+", updated_at) VALUES ("+placeholders(len(billColumns)+1)+")",
		append(billValues(b), stamp)...,
	)
}

// restoreBillStatement writes every stored column of b back, timestamps
// included, provided the row still carries the stamp of the write being undone
func restoreBillStatement(b *models.Bill, stamp string) remotedb.Statement {
	sets := make([]string, 0, len(billColumns)+2)
	for _, col := range billColumns {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "created_at = ?", "updated_at = ?")

	params := append(billValues(b), b.CreatedAt, b.UpdatedAt, b.ID, stamp)
	return remotedb.NewStatement("UPDATE bills SET "+strings.Join(sets, ", ")+" WHERE id = ? AND updated_at = ?", params...)
}

// billGuard selects the bill only while its updated_at is one of stamps.
// An empty result means a later write has superseded the undo.
func billGuard(billID int64, stamps ...string) *remotedb.Statement {
	params := []interface{}{billID}
	for _, s := range stamps {
		params = append(params, s)
	}
	stmt := remotedb.NewStatement("SELECT id FROM bills WHERE id = ? AND updated_at IN ("+placeholders(len(stamps))+")", params...)
	return &stmt
}

func itemValues(billID int64, item *models.BillItem) []interface{} {
	return []interface{}{
		billID, item.SrNo, item.ProductName, nullable(item.Description), item.Category, nullable(item.HSNCode),
		money(item.UnitPrice), string(item.Quantity), money(item.TotalPrice), item.Unit,
	}
}

func insertItemStatement(billID int64, item *models.BillItem) remotedb.Statement {
	return remotedb.NewStatement(
		"INSERT INTO bill_items ("+strings.Join(itemColumns, ", ")+") VALUES ("+placeholders(len(itemColumns))+")",
		itemValues(billID, item)...,
	)
}

// reinsertItemStatement puts a deleted item back under its original id
func reinsertItemStatement(item *models.BillItem) remotedb.Statement {
	return remotedb.NewStatement(
		"INSERT INTO bill_items (id, "+strings.Join(itemColumns, ", ")+") VALUES (?, "+placeholders(len(itemColumns))+")",
		append([]interface{}{item.ID}, itemValues(item.BillID, item)...)...,
	)
}

func deleteItemsStatement(billID int64) remotedb.Statement {
	return remotedb.NewStatement("DELETE FROM bill_items WHERE bill_id = ?", billID)
}

func deleteBillStatement(billID int64) remotedb.Statement {
	return remotedb.NewStatement("DELETE FROM bills WHERE id = ?", billID)
}

func scanBill(row remotedb.Row) models.Bill {
	b := models.Bill{
		ID:                 row.Int64("id"),
		BillNumber:         row.String("bill_number"),
		InvoiceDate:        row.String("invoice_date"),
		ChallanNumber:      row.String("challan_number"),
		ChallanDate:        row.String("challan_date"),
		PONumber:           row.String("po_number"),
		PODate:             row.String("po_date"),
		DispatchThrough:    row.String("dispatch_through"),
		Destination:        row.String("destination"),
		CustomerName:       row.String("customer_name"),
		CustomerPhone:      row.String("customer_phone"),
		CustomerEmail:      row.String("customer_email"),
		CustomerAddress:    row.String("customer_address"),
		CustomerGST:        row.String("customer_gst"),
		Subtotal:           row.Decimal("subtotal"),
		CGSTPercentage:     row.Decimal("cgst_percentage"),
		CGSTAmount:         row.Decimal("cgst_amount"),
		SGSTPercentage:     row.Decimal("sgst_percentage"),
		SGSTAmount:         row.Decimal("sgst_amount"),
		IGSTPercentage:     row.Decimal("igst_percentage"),
		IGSTAmount:         row.Decimal("igst_amount"),
		TotalTaxAmount:     row.Decimal("total_tax_amount"),
		DiscountPercentage: row.Decimal("discount_percentage"),
		DiscountAmount:     row.Decimal("discount_amount"),
		TotalAmount:        row.Decimal("total_amount"),
		PaymentMethod:      models.PaymentMethod(row.String("payment_method")),
		PaymentStatus:      models.PaymentStatus(row.String("payment_status")),
		Notes:              row.String("notes"),
		Terms:              row.String("terms"),
		CreatedAt:          row.String("created_at"),
		UpdatedAt:          row.String("updated_at"),
		ItemsCount:         int(row.Int64("items_count")),
	}

	bank := &models.BankDetails{
		BankName:      row.String("bank_name"),
		AccountNumber: row.String("bank_account_number"),
		IFSCCode:      row.String("bank_ifsc"),
		Branch:        row.String("bank_branch"),
		AccountHolder: row.String("bank_account_holder"),
	}
	if !bank.IsEmpty() {
		b.BankDetails = bank
	}
	return b
}

func scanItem(row remotedb.Row) models.BillItem {
	return models.BillItem{
		ID:          row.Int64("id"),
		BillID:      row.Int64("bill_id"),
		SrNo:        int(row.Int64("sr_no")),
		ProductName: row.String("product_name"),
		Description: row.String("description"),
		Category:    row.String("category"),
		HSNCode:     row.String("hsn_code"),
		UnitPrice:   row.Decimal("unit_price"),
		Quantity:    models.Quantity(row.String("quantity")),
		TotalPrice:  row.Decimal("total_price"),
		Unit:        row.String("unit"),
	}
}
