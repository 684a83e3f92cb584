package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// BillPolicy controls how bill numbers are handled on write
type BillPolicy struct {
	// RequireUniqueNumber rejects a supplied bill number that is already used
	RequireUniqueNumber bool
	// AutoGenerateNumber assigns the next number when none is supplied
	AutoGenerateNumber bool
}

// DefaultBillPolicy rejects duplicates and fills missing numbers
var DefaultBillPolicy = BillPolicy{RequireUniqueNumber: true, AutoGenerateNumber: true}

// BillEvents is notified after successful writes
type BillEvents interface {
	BillCreated(bill *models.Bill)
	BillUpdated(bill *models.Bill)
	BillDeleted(bill *models.Bill)
}

// BillService persists bills and their items
type BillService struct {
	BaseService
	numbers *BillNumberService
	journal CompensationJournal
	events  BillEvents
	policy  BillPolicy
}

// NewBillService creates a new bill service. journal may be nil, in which case
// failed undo statements are only logged.
func NewBillService(conn ClientProvider, journal CompensationJournal, logger *LoggerService, policy BillPolicy) *BillService {
	return &BillService{
		BaseService: NewBaseService(conn, logger),
		numbers:     NewBillNumberService(conn, logger),
		journal:     journal,
		policy:      policy,
	}
}

// SetEvents registers the write listener
func (s *BillService) SetEvents(events BillEvents) {
	s.events = events
}

// CreateBill validates and stores a bill with its items. If the items cannot
// all be stored the header is removed again before the error is returned.
func (s *BillService) CreateBill(ctx context.Context, input *models.Bill) (*models.Bill, error) {
	bill := *input
	bill.ID = 0
	if err := normalizeBill(&bill); err != nil {
		return nil, err
	}
	items, err := normalizeItems(input.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invalid("items", "at least one item is required")
	}

	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	if bill.BillNumber != "" {
		if s.policy.RequireUniqueNumber {
			if err := s.ensureNumberFree(ctx, client, bill.BillNumber, 0); err != nil {
				return nil, err
			}
		}
	} else if s.policy.AutoGenerateNumber {
		next, err := s.numbers.next(ctx, client)
		if err != nil {
			return nil, err
		}
		bill.BillNumber = next
	}

	var billID int64
	stamp := writeStamp()
	saga := NewSaga("create_bill", client, s.journal, s.logger, func() int64 { return billID })

	saga.Step(SagaStep{
		Name:   "insert_header",
		Atomic: true,
		Do: func(ctx context.Context) error {
			stmt := insertBillStatement(&bill, stamp)
			rs, err := client.Execute(ctx, stmt.SQL, stmt.Params...)
			if err != nil {
				return fmt.Errorf("failed to insert bill header: %w", err)
			}
			if rs.Meta.LastRowID == 0 {
				return fmt.Errorf("failed to insert bill header: no id returned")
			}
			billID = rs.Meta.LastRowID
			return nil
		},
		Undo: func() []remotedb.Statement {
			return []remotedb.Statement{deleteBillStatement(billID)}
		},
		Guard: func() *remotedb.Statement { return billGuard(billID, stamp) },
	})

	saga.Step(SagaStep{
		Name: "insert_items",
		Do: func(ctx context.Context) error {
			stmts := make([]remotedb.Statement, len(items))
			for i := range items {
				stmts[i] = insertItemStatement(billID, &items[i])
			}
			results, err := client.Batch(ctx, stmts)
			for i, rs := range results {
				items[i].ID = rs.Meta.LastRowID
				items[i].BillID = billID
			}
			if err != nil {
				return fmt.Errorf("failed to insert bill items: %w", err)
			}
			return nil
		},
		Undo: func() []remotedb.Statement {
			return []remotedb.Statement{deleteItemsStatement(billID)}
		},
		Guard: func() *remotedb.Statement { return billGuard(billID, stamp) },
	})

	if err := saga.Run(ctx); err != nil {
		return nil, err
	}

	bill.ID = billID
	bill.Items = items
	bill.ItemsCount = len(items)

	created, err := s.getBill(ctx, client, billID)
	if err != nil {
		s.logger.LogWarning("Bill stored but could not be re-read", fmt.Sprintf("bill %d", billID), err.Error())
		created = &bill
	}

	s.logger.LogInfo("Bill created", fmt.Sprintf("id=%d number=%s items=%d", billID, created.BillNumber, len(items)))
	if s.events != nil {
		s.events.BillCreated(created)
	}
	return created, nil
}

// GetBill returns a bill with its items
func (s *BillService) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}
	return s.getBill(ctx, client, id)
}

// GetBillByNumber returns the most recent bill carrying number
func (s *BillService) GetBillByNumber(ctx context.Context, number string) (*models.Bill, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}
	return s.getBillByNumber(ctx, client, number)
}

func (s *BillService) getBill(ctx context.Context, client *remotedb.Client, id int64) (*models.Bill, error) {
	rs, err := client.Query(ctx, "SELECT "+billSelectList+" FROM bills WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bill %d: %w", id, err)
	}
	if rs.Len() == 0 {
		return nil, &NotFoundError{Entity: "bill", Key: fmt.Sprintf("%d", id)}
	}
	bill := scanBill(rs.First())
	return s.attachItems(ctx, client, &bill)
}

func (s *BillService) getBillByNumber(ctx context.Context, client *remotedb.Client, number string) (*models.Bill, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, invalid("bill_number", "bill number is required")
	}
	rs, err := client.Query(ctx, "SELECT "+billSelectList+" FROM bills WHERE bill_number = ? ORDER BY id DESC LIMIT 1", number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bill %q: %w", number, err)
	}
	if rs.Len() == 0 {
		return nil, &NotFoundError{Entity: "bill number", Key: number}
	}
	bill := scanBill(rs.First())
	return s.attachItems(ctx, client, &bill)
}

func (s *BillService) attachItems(ctx context.Context, client *remotedb.Client, bill *models.Bill) (*models.Bill, error) {
	rs, err := client.Query(ctx, "SELECT "+itemSelectList+" FROM bill_items WHERE bill_id = ? ORDER BY sr_no ASC, id ASC", bill.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items of bill %d: %w", bill.ID, err)
	}
	bill.Items = make([]models.BillItem, 0, rs.Len())
	for _, row := range rs.Rows {
		bill.Items = append(bill.Items, scanItem(row))
	}
	bill.ItemsCount = len(bill.Items)
	return bill, nil
}

func (s *BillService) ensureNumberFree(ctx context.Context, client *remotedb.Client, number string, exceptID int64) error {
	rs, err := client.Query(ctx, "SELECT id FROM bills WHERE bill_number = ? AND id != ? LIMIT 1", number, exceptID)
	if err != nil {
		return fmt.Errorf("failed to check bill number: %w", err)
	}
	if rs.Len() > 0 {
		return &ConflictError{
			Code:    ConflictCodeDuplicateBillNumber,
			Message: fmt.Sprintf("bill number %s already exists", number),
		}
	}
	return nil
}

// UpdateBill applies a partial update. When upd.Items is present the whole
// item set is replaced. On failure the previous header and items are restored.
func (s *BillService) UpdateBill(ctx context.Context, id int64, upd *models.BillUpdate) (*models.Bill, error) {
	items, err := validateUpdate(upd)
	if err != nil {
		return nil, err
	}

	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	old, err := s.getBill(ctx, client, id)
	if err != nil {
		return nil, err
	}

	// Trimmed values go into a copy so the caller's update is left as sent
	fields := *upd
	if fields.BillNumber != nil {
		number := strings.TrimSpace(*fields.BillNumber)
		fields.BillNumber = &number
		if number != "" && number != old.BillNumber && s.policy.RequireUniqueNumber {
			if err := s.ensureNumberFree(ctx, client, number, id); err != nil {
				return nil, err
			}
		}
	}

	stamp := writeStamp()
	sets, params := updateAssignments(&fields)
	sets = append(sets, "updated_at = ?")
	params = append(params, stamp)
	headerStmt := remotedb.NewStatement("UPDATE bills SET "+strings.Join(sets, ", ")+" WHERE id = ?", append(params, id)...)

	saga := NewSaga("update_bill", client, s.journal, s.logger, func() int64 { return id })

	saga.Step(SagaStep{
		Name:   "update_header",
		Atomic: true,
		Do: func(ctx context.Context) error {
			rs, err := client.Execute(ctx, headerStmt.SQL, headerStmt.Params...)
			if err != nil {
				return fmt.Errorf("failed to update bill header: %w", err)
			}
			if rs.Meta.Changes == 0 {
				return &NotFoundError{Entity: "bill", Key: fmt.Sprintf("%d", id)}
			}
			return nil
		},
		Undo: func() []remotedb.Statement {
			return []remotedb.Statement{restoreBillStatement(old, stamp)}
		},
		Guard: func() *remotedb.Statement { return billGuard(id, stamp) },
	})

	if items != nil {
		saga.Step(SagaStep{
			Name: "replace_items",
			Do: func(ctx context.Context) error {
				stmts := []remotedb.Statement{deleteItemsStatement(id)}
				for i := range items {
					stmts = append(stmts, insertItemStatement(id, &items[i]))
				}
				if _, err := client.Batch(ctx, stmts); err != nil {
					return fmt.Errorf("failed to replace bill items: %w", err)
				}
				return nil
			},
			Undo: func() []remotedb.Statement {
				stmts := []remotedb.Statement{deleteItemsStatement(id)}
				for i := range old.Items {
					stmts = append(stmts, reinsertItemStatement(&old.Items[i]))
				}
				return stmts
			},
			// The header is either still at this write's stamp or already restored
			Guard: func() *remotedb.Statement { return billGuard(id, stamp, old.UpdatedAt) },
		})
	}

	if err := saga.Run(ctx); err != nil {
		return nil, err
	}

	updated, err := s.getBill(ctx, client, id)
	if err != nil {
		return nil, fmt.Errorf("bill %d updated but could not be re-read: %w", id, err)
	}

	s.logger.LogInfo("Bill updated", fmt.Sprintf("id=%d items_replaced=%t", id, items != nil))
	if s.events != nil {
		s.events.BillUpdated(updated)
	}
	return updated, nil
}

// updateAssignments turns the present fields of upd into SET clauses
func updateAssignments(upd *models.BillUpdate) ([]string, []interface{}) {
	var sets []string
	var params []interface{}

	text := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			params = append(params, nullable(*v))
		}
	}
	required := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			params = append(params, strings.TrimSpace(*v))
		}
	}
	amount := func(col string, v *decimal.Decimal) {
		if v != nil {
			sets = append(sets, col+" = ?")
			params = append(params, money(*v))
		}
	}

	text("bill_number", upd.BillNumber)
	required("invoice_date", upd.InvoiceDate)
	text("challan_number", upd.ChallanNumber)
	text("challan_date", upd.ChallanDate)
	text("po_number", upd.PONumber)
	text("po_date", upd.PODate)
	text("dispatch_through", upd.DispatchThrough)
	text("destination", upd.Destination)
	required("customer_name", upd.CustomerName)
	required("customer_phone", upd.CustomerPhone)
	text("customer_email", upd.CustomerEmail)
	text("customer_address", upd.CustomerAddress)
	text("customer_gst", upd.CustomerGST)

	amount("subtotal", upd.Subtotal)
	amount("cgst_percentage", upd.CGSTPercentage)
	amount("cgst_amount", upd.CGSTAmount)
	amount("sgst_percentage", upd.SGSTPercentage)
	amount("sgst_amount", upd.SGSTAmount)
	amount("igst_percentage", upd.IGSTPercentage)
	amount("igst_amount", upd.IGSTAmount)
	amount("total_tax_amount", upd.TotalTaxAmount)
	amount("discount_percentage", upd.DiscountPercentage)
	amount("discount_amount", upd.DiscountAmount)
	amount("total_amount", upd.TotalAmount)

	if upd.PaymentMethod != nil {
		sets = append(sets, "payment_method = ?")
		params = append(params, string(*upd.PaymentMethod))
	}
	if upd.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		params = append(params, string(*upd.PaymentStatus))
	}

	if upd.BankDetails != nil {
		bank := upd.BankDetails
		text("bank_name", &bank.BankName)
		text("bank_account_number", &bank.AccountNumber)
		text("bank_ifsc", &bank.IFSCCode)
		text("bank_branch", &bank.Branch)
		text("bank_account_holder", &bank.AccountHolder)
	} else {
		text("bank_name", upd.BankName)
		text("bank_account_number", upd.BankAccountNumber)
		text("bank_ifsc", upd.BankIFSC)
		text("bank_branch", upd.BankBranch)
		text("bank_account_holder", upd.BankAccountHolder)
	}

	text("notes", upd.Notes)
	text("terms", upd.Terms)
	return sets, params
}

// DeleteBill removes a bill and its items and returns what was removed
func (s *BillService) DeleteBill(ctx context.Context, id int64) (*models.Bill, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}
	old, err := s.getBill(ctx, client, id)
	if err != nil {
		return nil, err
	}
	return s.deleteBill(ctx, client, old)
}

// DeleteBillByNumber removes the most recent bill carrying number
func (s *BillService) DeleteBillByNumber(ctx context.Context, number string) (*models.Bill, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}
	old, err := s.getBillByNumber(ctx, client, number)
	if err != nil {
		return nil, err
	}
	return s.deleteBill(ctx, client, old)
}

// deleteBill removes items before the header so a failure between the two
// never leaves items pointing at a missing bill
func (s *BillService) deleteBill(ctx context.Context, client *remotedb.Client, old *models.Bill) (*models.Bill, error) {
	saga := NewSaga("delete_bill", client, s.journal, s.logger, func() int64 { return old.ID })

	saga.Step(SagaStep{
		Name:   "delete_items",
		Atomic: true,
		Do: func(ctx context.Context) error {
			stmt := deleteItemsStatement(old.ID)
			if _, err := client.Execute(ctx, stmt.SQL, stmt.Params...); err != nil {
				return fmt.Errorf("failed to delete bill items: %w", err)
			}
			return nil
		},
		Undo: func() []remotedb.Statement {
			stmts := make([]remotedb.Statement, 0, len(old.Items))
			for i := range old.Items {
				stmts = append(stmts, reinsertItemStatement(&old.Items[i]))
			}
			return stmts
		},
		Guard: func() *remotedb.Statement { return billGuard(old.ID, old.UpdatedAt) },
	})

	saga.Step(SagaStep{
		Name:   "delete_header",
		Atomic: true,
		Do: func(ctx context.Context) error {
			stmt := deleteBillStatement(old.ID)
			rs, err := client.Execute(ctx, stmt.SQL, stmt.Params...)
			if err != nil {
				return fmt.Errorf("failed to delete bill header: %w", err)
			}
			if rs.Meta.Changes == 0 {
				return &NotFoundError{Entity: "bill", Key: fmt.Sprintf("%d", old.ID)}
			}
			return nil
		},
	})

	if err := saga.Run(ctx); err != nil {
		return nil, err
	}

	s.logger.LogInfo("Bill deleted", fmt.Sprintf("id=%d number=%s items=%d", old.ID, old.BillNumber, len(old.Items)))
	if s.events != nil {
		s.events.BillDeleted(old)
	}
	return old, nil
}

// ListBills returns one page of bills, newest first, with item counts
func (s *BillService) ListBills(ctx context.Context, filter models.BillListFilter) (*models.BillPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, invalid("status", "unsupported payment status %q", filter.Status)
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.IsValid() {
		return nil, invalid("payment_method", "unsupported payment method %q", filter.PaymentMethod)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	var where []string
	var params []interface{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		where = append(where, `(LOWER(bill_number) LIKE ? ESCAPE '\' OR LOWER(customer_name) LIKE ? ESCAPE '\' OR customer_phone LIKE ? ESCAPE '\')`)
		params = append(params, pattern, pattern, pattern)
	}
	if filter.DateFrom != "" {
		where = append(where, "invoice_date >= ?")
		params = append(params, filter.DateFrom)
	}
	if filter.DateTo != "" {
		where = append(where, "invoice_date <= ?")
		params = append(params, filter.DateTo)
	}
	if filter.Status != "" {
		where = append(where, "payment_status = ?")
		params = append(params, string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		where = append(where, "payment_method = ?")
		params = append(params, string(filter.PaymentMethod))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	countRS, err := client.Query(ctx, "SELECT COUNT(*) AS total FROM bills"+clause, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to count bills: %w", err)
	}
	total := int(countRS.First().Int64("total"))

	offset := (filter.Page - 1) * filter.Limit
	rs, err := client.Query(ctx,
		"SELECT "+billSelectList+", (SELECT COUNT(*) FROM bill_items WHERE bill_items.bill_id = bills.id) AS items_count"+
			" FROM bills"+clause+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(params, filter.Limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}

	page := &models.BillPage{
		Bills: make([]models.Bill, 0, rs.Len()),
		Pagination: models.Pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
		},
	}
	for _, row := range rs.Rows {
		page.Bills = append(page.Bills, scanBill(row))
	}
	return page, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
