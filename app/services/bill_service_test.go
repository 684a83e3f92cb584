package services

import (
	"context"
	"testing"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.Equal(t, 1, created.ItemsCount)

	got, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rajesh Kumar", got.CustomerName)
	assert.Equal(t, models.PaymentUPI, got.PaymentMethod)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "22656", got.TotalAmount.String())
	assert.True(t, got.TotalAmount.Equal(got.ExpectedTotal()))
	assert.NotEmpty(t, got.CreatedAt)

	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, created.ID, item.BillID)
	assert.Equal(t, 1, item.SrNo)
	assert.Equal(t, "Chair", item.ProductName)
	assert.Equal(t, models.DefaultItemCategory, item.Category)
	assert.Equal(t, models.DefaultItemUnit, item.Unit)
	assert.Equal(t, models.Quantity("12"), item.Quantity)
	assert.Equal(t, "1600", item.UnitPrice.String())
	assert.Equal(t, "19200", item.TotalPrice.String())
}

func TestCreateKeepsItemContentAndOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	input := threeItemBill(t)
	created, err := env.bills.CreateBill(ctx, input)
	require.NoError(t, err)

	got, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, len(input.Items))
	for i, want := range input.Items {
		assert.Equal(t, want.ProductName, got.Items[i].ProductName)
		assert.Equal(t, want.Quantity, got.Items[i].Quantity)
		assert.Equal(t, i+1, got.Items[i].SrNo)
		assert.True(t, want.UnitPrice.Equal(got.Items[i].UnitPrice))
	}
	assert.Equal(t, "9405", got.Items[1].HSNCode)
	assert.Equal(t, "Pcs", got.Items[2].Unit)
	assert.Equal(t, "General", got.Items[2].Category)
}

func TestCreateAutoGeneratesBillNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)
	assert.Equal(t, "1", first.BillNumber)

	second, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)
	assert.Equal(t, "2", second.BillNumber)
}

func TestCreateRejectsDuplicateBillNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := sampleBill(t)
	b.BillNumber = "710"
	_, err := env.bills.CreateBill(ctx, b)
	require.NoError(t, err)

	dup := sampleBill(t)
	dup.BillNumber = "710"
	_, err = env.bills.CreateBill(ctx, dup)

	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, ConflictCodeDuplicateBillNumber, conflictErr.Code)
	assert.Equal(t, int64(1), env.count(t, "SELECT COUNT(*) AS n FROM bills"))
}

func TestCreateAllowsDuplicateWhenPolicyOff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lenient := NewBillService(env.conn, env.journal, nil, BillPolicy{})

	for i := 0; i < 2; i++ {
		b := sampleBill(t)
		b.BillNumber = "42"
		_, err := lenient.CreateBill(ctx, b)
		require.NoError(t, err)
	}

	// Without auto numbering a missing number stays empty
	created, err := lenient.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)
	assert.Empty(t, created.BillNumber)
	assert.Equal(t, int64(2), env.count(t, "SELECT COUNT(*) AS n FROM bills WHERE bill_number = '42'"))
}

func TestCreateValidatesBeforeAnyRemoteCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(b *models.Bill){
		"customer_name":          func(b *models.Bill) { b.CustomerName = "  " },
		"customer_phone":         func(b *models.Bill) { b.CustomerPhone = "" },
		"invoice_date":           func(b *models.Bill) { b.InvoiceDate = "" },
		"items":                  func(b *models.Bill) { b.Items = nil },
		"items[0].product_name":  func(b *models.Bill) { b.Items[0].ProductName = "" },
		"items[0].unit_price":    func(b *models.Bill) { b.Items[0].UnitPrice = decimal.Zero },
		"items[0].quantity":      func(b *models.Bill) { b.Items[0].Quantity = "none" },
		"items[0].total_price":   func(b *models.Bill) { b.Items[0].TotalPrice = decimal.NewFromInt(-1) },
		"payment_method":         func(b *models.Bill) { b.PaymentMethod = "crypto" },
		"payment_status":         func(b *models.Bill) { b.PaymentStatus = "lost" },
		"discount_amount":        func(b *models.Bill) { b.DiscountAmount = decimal.NewFromInt(-5) },
		"items[0].quantity zero": func(b *models.Bill) { b.Items[0].Quantity = "0 boxes" },
	}

	before := len(env.h.Faults.Requests())
	for name, mutate := range cases {
		b := sampleBill(t)
		mutate(b)
		_, err := env.bills.CreateBill(ctx, b)

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, name)
		assert.Equal(t, "validation", ErrorKind(err), name)
	}
	assert.Equal(t, before, len(env.h.Faults.Requests()))
}

func TestCreateSkipsBlankItems(t *testing.T) {
	env := newTestEnv(t)
	b := sampleBill(t)
	b.Items = append(b.Items, models.BillItem{}, models.BillItem{Unit: "Nos", Category: "General"})

	created, err := env.bills.CreateBill(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, created.ItemsCount)
}

func TestFailedItemInsertRemovesHeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Second item fails after the first one is stored
	env.h.Faults.FailOn("INSERT INTO bill_items", 1, 1)

	_, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.Error(t, err)

	var batchErr *remotedb.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Index)
	var trErr *remotedb.TransportError
	assert.ErrorAs(t, err, &trErr)

	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bills"))
	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bill_items"))

	status, err := env.journal.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Pending)
}

func TestFailedCompensationIsJournaledAndReplayed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.h.Faults.FailOn("INSERT INTO bill_items", 0, 1)
	env.h.Faults.FailOn("DELETE FROM bills WHERE id", 0, 1)

	_, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.Error(t, err)
	assert.Equal(t, "batch", remotedb.Kind(err))

	// The orphaned header is still there until the journal is replayed
	assert.Equal(t, int64(1), env.count(t, "SELECT COUNT(*) AS n FROM bills"))
	pending, err := env.journal.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "create_bill", pending[0].Operation)
	assert.Equal(t, "insert_header", pending[0].Step)
	assert.Contains(t, pending[0].Cause, "failed to insert bill items")

	worker := NewCompensationWorker(env.conn, env.journal, nil, 0)
	assert.Equal(t, 1, worker.ReplayPending(ctx))
	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bills"))

	pending, err = env.journal.GetPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetMissingBillIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.bills.GetBill(context.Background(), 999)
	assert.True(t, IsNotFound(err))

	_, err = env.bills.GetBillByNumber(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestGetByNumberReturnsLatest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lenient := NewBillService(env.conn, env.journal, nil, BillPolicy{})

	first := sampleBill(t)
	first.BillNumber = "A-1"
	_, err := lenient.CreateBill(ctx, first)
	require.NoError(t, err)

	second := threeItemBill(t)
	second.BillNumber = "A-1"
	latest, err := lenient.CreateBill(ctx, second)
	require.NoError(t, err)

	got, err := env.bills.GetBillByNumber(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
	assert.Len(t, got.Items, 3)
}

func TestDeleteRemovesHeaderAndItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)

	deleted, err := env.bills.DeleteBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, deleted.Items, 3)

	_, err = env.bills.GetBill(ctx, created.ID)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bill_items WHERE bill_id = ?", created.ID))

	_, err = env.bills.DeleteBill(ctx, created.ID)
	var notFoundErr *NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestDeleteByNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := sampleBill(t)
	b.BillNumber = "DEL-9"
	created, err := env.bills.CreateBill(ctx, b)
	require.NoError(t, err)

	_, err = env.bills.DeleteBillByNumber(ctx, "DEL-9")
	require.NoError(t, err)

	_, err = env.bills.GetBill(ctx, created.ID)
	assert.True(t, IsNotFound(err))
}

func TestDeleteRestoresItemsWhenHeaderDeleteFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)
	before, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)

	env.h.Faults.FailOn("DELETE FROM bills WHERE id", 0, 1)
	_, err = env.bills.DeleteBill(ctx, created.ID)
	require.Error(t, err)

	after, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
}

func TestUpdatePaymentStatusOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)
	before, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)

	status := models.PaymentPaid
	after, err := env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{PaymentStatus: &status})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, after.PaymentStatus)

	// Everything except the status and the refreshed timestamp is untouched
	expected := *before
	expected.PaymentStatus = models.PaymentPaid
	expected.UpdatedAt = after.UpdatedAt
	assert.Equal(t, expected, *after)
}

func TestUpdateReplacesItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)

	upd := &models.BillUpdate{Items: []models.BillItem{
		{ProductName: "Sofa", Category: "Furniture", UnitPrice: decimal.NewFromInt(20000), Quantity: "1", TotalPrice: decimal.NewFromInt(20000)},
		{},
		{ProductName: "Cushion", UnitPrice: decimal.NewFromInt(500), Quantity: "4 nos", TotalPrice: decimal.NewFromInt(2000)},
	}}
	after, err := env.bills.UpdateBill(ctx, created.ID, upd)
	require.NoError(t, err)

	require.Len(t, after.Items, 2)
	assert.Equal(t, "Sofa", after.Items[0].ProductName)
	assert.Equal(t, "Cushion", after.Items[1].ProductName)
	assert.Equal(t, 2, after.Items[1].SrNo)
	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bill_items WHERE product_name IN ('Table', 'Lamp', 'Rug')"))
	assert.Equal(t, int64(0), env.count(t, "SELECT COUNT(*) AS n FROM bill_items WHERE product_name = ''"))
}

func TestUpdateBankDetailsObjectWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)

	loose := "Loose Bank"
	after, err := env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{
		BankName: &loose,
		BankDetails: &models.BankDetails{
			BankName:      "State Bank of India",
			AccountNumber: "1234567890",
			IFSCCode:      "SBIN0001234",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, after.BankDetails)
	assert.Equal(t, "State Bank of India", after.BankDetails.BankName)
	assert.Equal(t, "SBIN0001234", after.BankDetails.IFSCCode)

	// Individual fields apply when no object is sent
	after, err = env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{BankName: &loose})
	require.NoError(t, err)
	assert.Equal(t, "Loose Bank", after.BankDetails.BankName)
	assert.Equal(t, "1234567890", after.BankDetails.AccountNumber)
}

func TestUpdateRestoresBillWhenItemReplacementFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)
	before, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)

	env.h.Faults.FailOn("INSERT INTO bill_items", 1, 1)

	name := "Changed Name"
	_, err = env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{
		CustomerName: &name,
		Items: []models.BillItem{
			{ProductName: "A", UnitPrice: decimal.NewFromInt(1), Quantity: "1", TotalPrice: decimal.NewFromInt(1)},
			{ProductName: "B", UnitPrice: decimal.NewFromInt(1), Quantity: "1", TotalPrice: decimal.NewFromInt(1)},
		},
	})
	require.Error(t, err)

	after, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)
}

// failUpdateWithStuckRestore runs an update whose item replacement fails and
// whose header restore then fails too, leaving the restore in the journal
func failUpdateWithStuckRestore(t *testing.T, env *testEnv, id int64) {
	t.Helper()
	env.h.Faults.FailOn("INSERT INTO bill_items", 1, 1)
	env.h.Faults.FailOn("created_at = ?", 0, 1)

	name := "Changed Name"
	_, err := env.bills.UpdateBill(context.Background(), id, &models.BillUpdate{
		CustomerName: &name,
		Items: []models.BillItem{
			{ProductName: "A", UnitPrice: decimal.NewFromInt(1), Quantity: "1", TotalPrice: decimal.NewFromInt(1)},
			{ProductName: "B", UnitPrice: decimal.NewFromInt(1), Quantity: "1", TotalPrice: decimal.NewFromInt(1)},
		},
	})
	require.Error(t, err)

	pending, err := env.journal.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "update_header", pending[0].Step)
	assert.NotEmpty(t, pending[0].Guard)
}

func TestJournaledRestoreReplaysWhenBillUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)
	before, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)

	failUpdateWithStuckRestore(t, env, created.ID)

	worker := NewCompensationWorker(env.conn, env.journal, nil, 0)
	assert.Equal(t, 1, worker.ReplayPending(ctx))

	after, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)
}

func TestJournaledRestoreDoesNotOverwriteLaterUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)

	failUpdateWithStuckRestore(t, env, created.ID)

	paid := models.PaymentPaid
	_, err = env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{PaymentStatus: &paid})
	require.NoError(t, err)

	worker := NewCompensationWorker(env.conn, env.journal, nil, 0)
	assert.Equal(t, 0, worker.ReplayPending(ctx))

	after, err := env.bills.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, after.PaymentStatus)
	assert.Equal(t, "Changed Name", after.CustomerName)

	status, err := env.journal.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Pending)
	assert.Equal(t, int64(1), status.Superseded)

	// A second pass has nothing left to do
	assert.Equal(t, 0, worker.ReplayPending(ctx))
	assert.Equal(t, 1, env.h.Faults.Count("created_at = ?"))
}

func TestUpdateLeavesCallerInputUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)

	number := "  INV-9  "
	upd := &models.BillUpdate{BillNumber: &number}
	after, err := env.bills.UpdateBill(ctx, created.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "INV-9", after.BillNumber)
	assert.Same(t, &number, upd.BillNumber)
	assert.Equal(t, "  INV-9  ", *upd.BillNumber)
}

func TestUpdateMissingBillIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	status := models.PaymentPaid
	_, err := env.bills.UpdateBill(context.Background(), 12345, &models.BillUpdate{PaymentStatus: &status})
	assert.True(t, IsNotFound(err))
}

func TestUpdateRejectsDuplicateNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := sampleBill(t)
	a.BillNumber = "100"
	_, err := env.bills.CreateBill(ctx, a)
	require.NoError(t, err)
	b, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)

	number := "100"
	_, err = env.bills.UpdateBill(ctx, b.ID, &models.BillUpdate{BillNumber: &number})
	var conflictErr *ConflictError
	assert.ErrorAs(t, err, &conflictErr)
}

func TestUpdateRejectsItemsWithoutContent(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.bills.CreateBill(context.Background(), sampleBill(t))
	require.NoError(t, err)

	_, err = env.bills.UpdateBill(context.Background(), created.ID, &models.BillUpdate{Items: []models.BillItem{{}}})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "items", validationErr.Field)
}

func TestListBillsFiltersAndPaginates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.bills.CreateBill(ctx, sampleBill(t))
		require.NoError(t, err)
	}
	_, err := env.bills.CreateBill(ctx, threeItemBill(t))
	require.NoError(t, err)

	page, err := env.bills.ListBills(ctx, models.BillListFilter{Page: 1, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Bills, 4)
	assert.Equal(t, "Anita Desai", page.Bills[0].CustomerName)
	assert.Equal(t, 3, page.Bills[0].ItemsCount)
	assert.Equal(t, 1, page.Bills[1].ItemsCount)

	page, err = env.bills.ListBills(ctx, models.BillListFilter{Search: "anita"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)

	page, err = env.bills.ListBills(ctx, models.BillListFilter{Status: models.PaymentPaid, PaymentMethod: models.PaymentUPI})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Pagination.Total)

	page, err = env.bills.ListBills(ctx, models.BillListFilter{DateFrom: "2025-07-07", DateTo: "2025-07-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)

	page, err = env.bills.ListBills(ctx, models.BillListFilter{Search: "%"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Pagination.Total)

	_, err = env.bills.ListBills(ctx, models.BillListFilter{Status: "unknown"})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

type recordingEvents struct {
	created, updated, deleted []int64
}

func (r *recordingEvents) BillCreated(b *models.Bill) { r.created = append(r.created, b.ID) }
func (r *recordingEvents) BillUpdated(b *models.Bill) { r.updated = append(r.updated, b.ID) }
func (r *recordingEvents) BillDeleted(b *models.Bill) { r.deleted = append(r.deleted, b.ID) }

func TestEventsFireOnlyOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	events := &recordingEvents{}
	env.bills.SetEvents(events)

	created, err := env.bills.CreateBill(ctx, sampleBill(t))
	require.NoError(t, err)

	env.h.Faults.FailOn("INSERT INTO bill_items", 0, 1)
	_, err = env.bills.CreateBill(ctx, sampleBill(t))
	require.Error(t, err)

	status := models.PaymentPartial
	_, err = env.bills.UpdateBill(ctx, created.ID, &models.BillUpdate{PaymentStatus: &status})
	require.NoError(t, err)
	_, err = env.bills.DeleteBill(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{created.ID}, events.created)
	assert.Equal(t, []int64{created.ID}, events.updated)
	assert.Equal(t, []int64{created.ID}, events.deleted)
}
