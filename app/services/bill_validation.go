package services

import (
	"fmt"
	"strings"

	"BillingApp/app/models"

	"github.com/shopspring/decimal"
)

// normalizeBill trims the header, fills defaults and checks required fields
func normalizeBill(b *models.Bill) error {
	b.BillNumber = strings.TrimSpace(b.BillNumber)
	b.CustomerName = strings.TrimSpace(b.CustomerName)
	b.CustomerPhone = strings.TrimSpace(b.CustomerPhone)
	b.InvoiceDate = strings.TrimSpace(b.InvoiceDate)

	if b.CustomerName == "" {
		return invalid("customer_name", "customer name is required")
	}
	if b.CustomerPhone == "" {
		return invalid("customer_phone", "customer phone is required")
	}
	if b.InvoiceDate == "" {
		return invalid("invoice_date", "invoice date is required")
	}

	if b.PaymentMethod == "" {
		b.PaymentMethod = models.PaymentCash
	}
	if !b.PaymentMethod.IsValid() {
		return invalid("payment_method", "unsupported payment method %q", b.PaymentMethod)
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentPending
	}
	if !b.PaymentStatus.IsValid() {
		return invalid("payment_status", "unsupported payment status %q", b.PaymentStatus)
	}

	for col, value := range b.MoneyFields() {
		if value.IsNegative() {
			return invalid(col, "must not be negative")
		}
	}
	if b.BankDetails.IsEmpty() {
		b.BankDetails = nil
	}
	return nil
}

// normalizeItems drops items with no content, fills defaults and validates the rest.
// The returned slice is renumbered only where sr_no was missing.
func normalizeItems(items []models.BillItem) ([]models.BillItem, error) {
	out := make([]models.BillItem, 0, len(items))
	for i := range items {
		item := items[i]
		if item.IsBlank() {
			continue
		}

		field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }

		item.ProductName = strings.TrimSpace(item.ProductName)
		item.Category = strings.TrimSpace(item.Category)
		item.Unit = strings.TrimSpace(item.Unit)
		item.Quantity = models.Quantity(strings.TrimSpace(string(item.Quantity)))

		if item.ProductName == "" {
			return nil, invalid(field("product_name"), "product name is required")
		}
		if item.Category == "" {
			item.Category = models.DefaultItemCategory
		}
		if item.Unit == "" {
			item.Unit = models.DefaultItemUnit
		}
		if !item.UnitPrice.IsPositive() {
			return nil, invalid(field("unit_price"), "unit price must be greater than zero")
		}
		qty, ok := item.Quantity.Value()
		if !ok {
			return nil, invalid(field("quantity"), "quantity %q contains no number", item.Quantity)
		}
		if !qty.IsPositive() {
			return nil, invalid(field("quantity"), "quantity must be greater than zero")
		}
		if !item.TotalPrice.IsPositive() {
			return nil, invalid(field("total_price"), "total price must be greater than zero")
		}
		if item.SrNo <= 0 {
			item.SrNo = len(out) + 1
		}
		out = append(out, item)
	}
	return out, nil
}

func checkRequiredText(field string, value *string) error {
	if value != nil && strings.TrimSpace(*value) == "" {
		return invalid(field, "must not be empty")
	}
	return nil
}

func checkNonNegative(field string, value *decimal.Decimal) error {
	if value != nil && value.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}

// validateUpdate checks the fields present in upd and normalizes its items
func validateUpdate(upd *models.BillUpdate) ([]models.BillItem, error) {
	if err := checkRequiredText("customer_name", upd.CustomerName); err != nil {
		return nil, err
	}
	if err := checkRequiredText("customer_phone", upd.CustomerPhone); err != nil {
		return nil, err
	}
	if err := checkRequiredText("invoice_date", upd.InvoiceDate); err != nil {
		return nil, err
	}
	if upd.PaymentMethod != nil && !upd.PaymentMethod.IsValid() {
		return nil, invalid("payment_method", "unsupported payment method %q", *upd.PaymentMethod)
	}
	if upd.PaymentStatus != nil && !upd.PaymentStatus.IsValid() {
		return nil, invalid("payment_status", "unsupported payment status %q", *upd.PaymentStatus)
	}

	for field, value := range map[string]*decimal.Decimal{
		"subtotal":            upd.Subtotal,
		"cgst_percentage":     upd.CGSTPercentage,
		"cgst_amount":         upd.CGSTAmount,
		"sgst_percentage":     upd.SGSTPercentage,
		"sgst_amount":         upd.SGSTAmount,
		"igst_percentage":     upd.IGSTPercentage,
		"igst_amount":         upd.IGSTAmount,
		"total_tax_amount":    upd.TotalTaxAmount,
		"discount_percentage": upd.DiscountPercentage,
		"discount_amount":     upd.DiscountAmount,
		"total_amount":        upd.TotalAmount,
	} {
		if err := checkNonNegative(field, value); err != nil {
			return nil, err
		}
	}

	if upd.Items == nil {
		return nil, nil
	}
	items, err := normalizeItems(upd.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invalid("items", "at least one item with content is required")
	}
	return items, nil
}
