package services

import (
	"context"
	"encoding/json"
	"testing"

	"BillingApp/app/database"
	"BillingApp/app/devdb/devdbtest"
	"BillingApp/app/models"
	"BillingApp/app/remotedb"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	h        *devdbtest.Harness
	conn     *database.Connector
	journal  *database.LocalDB
	bills    *BillService
	numbers  *BillNumberService
	company  *CompanyService
	customer *CustomerService
	client   *remotedb.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	h := devdbtest.Start(t)

	conn, err := database.NewConnector(h.Options(), database.ConnectorOptions{
		Seed: models.CompanyInfo{CompanyName: "Sri Lakshmi Furniture", UPIID: "lakshmi@upi"},
	})
	require.NoError(t, err)

	journal, err := database.OpenLocalDB("")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	logger := NewDiscardLogger()
	env := &testEnv{
		h:        h,
		conn:     conn,
		journal:  journal,
		bills:    NewBillService(conn, journal, logger, DefaultBillPolicy),
		numbers:  NewBillNumberService(conn, logger),
		company:  NewCompanyService(conn, logger),
		customer: NewCustomerService(conn, logger),
	}

	env.client, err = conn.Client(context.Background())
	require.NoError(t, err)
	return env
}

func (e *testEnv) count(t *testing.T, sql string, params ...interface{}) int64 {
	t.Helper()
	rs, err := e.client.Query(context.Background(), sql, params...)
	require.NoError(t, err)
	return rs.First().Int64("n")
}

// sampleBill is the "Rajesh Kumar" invoice used across the tests
func sampleBill(t *testing.T) *models.Bill {
	t.Helper()
	var b models.Bill
	require.NoError(t, json.Unmarshal([]byte(`{
		"customer_name": "Rajesh Kumar",
		"customer_phone": "+91 98450 12345",
		"invoice_date": "2025-07-06",
		"items": [
			{"product_name": "Chair", "unit_price": 1600, "quantity": "12", "total_price": 19200, "sr_no": 1}
		],
		"subtotal": 19200,
		"cgst_percentage": 9,
		"cgst_amount": 1728,
		"sgst_percentage": 9,
		"sgst_amount": 1728,
		"total_tax_amount": 3456,
		"total_amount": 22656,
		"payment_method": "upi",
		"payment_status": "paid"
	}`), &b))
	return &b
}

func threeItemBill(t *testing.T) *models.Bill {
	t.Helper()
	var b models.Bill
	require.NoError(t, json.Unmarshal([]byte(`{
		"customer_name": "Anita Desai",
		"customer_phone": "9000000001",
		"invoice_date": "2025-07-08",
		"items": [
			{"product_name": "Table", "category": "Furniture", "unit_price": 5000, "quantity": "1", "total_price": 5000},
			{"product_name": "Lamp", "category": "Lighting", "unit_price": 750, "quantity": "2 pcs", "total_price": 1500, "hsn_code": "9405"},
			{"product_name": "Rug", "unit_price": 2500, "quantity": 1, "total_price": 2500, "unit": "Pcs"}
		],
		"subtotal": 9000,
		"total_tax_amount": 0,
		"total_amount": 9000,
		"payment_method": "cash",
		"payment_status": "pending"
	}`), &b))
	return &b
}
