package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"BillingApp/app/models"
)

const (
	minCustomerQueryLength = 3
	maxCustomerResults     = 10
)

// CustomerService looks customers up from bill history
type CustomerService struct {
	BaseService
}

// NewCustomerService creates a new customer service
func NewCustomerService(conn ClientProvider, logger *LoggerService) *CustomerService {
	return &CustomerService{BaseService: NewBaseService(conn, logger)}
}

// SearchCustomers matches q case-insensitively anywhere in the customer name
// and returns each distinct name with the details of its most recent bill.
func (s *CustomerService) SearchCustomers(ctx context.Context, q string) ([]models.CustomerProfile, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < minCustomerQueryLength {
		return nil, invalid("q", "search query must be at least %d characters", minCustomerQueryLength)
	}

	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	rs, err := client.Query(ctx, `SELECT b.customer_name, b.customer_phone, b.customer_email, b.customer_address,
			b.customer_gst, b.id AS last_bill_id, b.bill_number AS last_bill_number,
			b.invoice_date AS last_invoice_date
		FROM bills b
		JOIN (
			SELECT customer_name, MAX(id) AS max_id
			FROM bills
			WHERE LOWER(customer_name) LIKE ? ESCAPE '\'
			GROUP BY customer_name
		) latest ON b.id = latest.max_id
		ORDER BY b.customer_name COLLATE NOCASE ASC, b.customer_name ASC
		LIMIT ?`, pattern, maxCustomerResults)
	if err != nil {
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}

	customers := make([]models.CustomerProfile, 0, rs.Len())
	for _, row := range rs.Rows {
		customers = append(customers, models.CustomerProfile{
			CustomerName:    row.String("customer_name"),
			CustomerPhone:   row.String("customer_phone"),
			CustomerEmail:   row.String("customer_email"),
			CustomerAddress: row.String("customer_address"),
			CustomerGST:     row.String("customer_gst"),
			LastBillID:      row.Int64("last_bill_id"),
			LastBillNumber:  row.String("last_bill_number"),
			LastInvoiceDate: row.String("last_invoice_date"),
		})
	}
	return customers, nil
}
