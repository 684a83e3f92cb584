package database

import (
	"context"
	"fmt"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"
)

// Executor is the part of the remote client the bootstrapper needs
type Executor interface {
	Query(ctx context.Context, sql string, params ...any) (*remotedb.RowSet, error)
	Execute(ctx context.Context, sql string, params ...any) (*remotedb.RowSet, error)
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS bills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_number TEXT,
		invoice_date TEXT NOT NULL,
		challan_number TEXT,
		challan_date TEXT,
		po_number TEXT,
		po_date TEXT,
		dispatch_through TEXT,
		destination TEXT,
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		customer_email TEXT,
		customer_address TEXT,
		customer_gst TEXT,
		subtotal REAL NOT NULL DEFAULT 0 CHECK (subtotal >= 0),
		cgst_percentage REAL NOT NULL DEFAULT 0 CHECK (cgst_percentage >= 0),
		cgst_amount REAL NOT NULL DEFAULT 0 CHECK (cgst_amount >= 0),
		sgst_percentage REAL NOT NULL DEFAULT 0 CHECK (sgst_percentage >= 0),
		sgst_amount REAL NOT NULL DEFAULT 0 CHECK (sgst_amount >= 0),
		igst_percentage REAL NOT NULL DEFAULT 0 CHECK (igst_percentage >= 0),
		igst_amount REAL NOT NULL DEFAULT 0 CHECK (igst_amount >= 0),
		total_tax_amount REAL NOT NULL DEFAULT 0 CHECK (total_tax_amount >= 0),
		discount_percentage REAL NOT NULL DEFAULT 0 CHECK (discount_percentage >= 0),
		discount_amount REAL NOT NULL DEFAULT 0 CHECK (discount_amount >= 0),
		total_amount REAL NOT NULL DEFAULT 0 CHECK (total_amount >= 0),
		payment_method TEXT NOT NULL DEFAULT 'cash'
			CHECK (payment_method IN ('cash', 'card', 'upi', 'bank_transfer', 'cheque', 'dd')),
		payment_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('paid', 'pending', 'partial')),
		bank_name TEXT,
		bank_account_number TEXT,
		bank_ifsc TEXT,
		bank_branch TEXT,
		bank_account_holder TEXT,
		notes TEXT,
		terms TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
		sr_no INTEGER NOT NULL DEFAULT 1,
		product_name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL DEFAULT 'General',
		hsn_code TEXT,
		unit_price REAL NOT NULL CHECK (unit_price > 0),
		quantity TEXT NOT NULL,
		total_price REAL NOT NULL CHECK (total_price > 0),
		unit TEXT NOT NULL DEFAULT 'Nos',
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS company_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		company_name TEXT NOT NULL,
		address TEXT,
		city TEXT,
		state TEXT,
		state_code TEXT,
		pincode TEXT,
		phone TEXT,
		email TEXT,
		gst_number TEXT,
		pan_number TEXT,
		bank_name TEXT,
		bank_account_number TEXT,
		bank_ifsc TEXT,
		bank_branch TEXT,
		upi_id TEXT,
		logo_url TEXT,
		terms TEXT,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var indexStatements = []string{
	"CREATE INDEX IF NOT EXISTS idx_bills_bill_number ON bills(bill_number)",
	"CREATE INDEX IF NOT EXISTS idx_bills_customer_name ON bills(customer_name)",
	"CREATE INDEX IF NOT EXISTS idx_bills_invoice_date ON bills(invoice_date)",
	"CREATE INDEX IF NOT EXISTS idx_bills_payment_status ON bills(payment_status)",
	"CREATE INDEX IF NOT EXISTS idx_bill_items_bill_id ON bill_items(bill_id)",
}

// EnsureSchema creates the tables and indexes if absent and seeds the company row.
// It is idempotent. Concurrent runs from separate processes are best-effort:
// the seed is guarded by a count check plus INSERT OR IGNORE on the fixed id.
func EnsureSchema(ctx context.Context, exec Executor, seed models.CompanyInfo, logger remotedb.Logger) error {
	if logger == nil {
		logger = remotedb.NopLogger
	}

	for _, stmt := range tableStatements {
		if _, err := exec.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Index failures are not fatal: the tables are usable without them
	for _, stmt := range indexStatements {
		if _, err := exec.Execute(ctx, stmt); err != nil {
			logger.LogWarning("[BOOTSTRAP] could not create index", err.Error())
		}
	}

	return seedCompanyInfo(ctx, exec, seed, logger)
}

func seedCompanyInfo(ctx context.Context, exec Executor, seed models.CompanyInfo, logger remotedb.Logger) error {
	rs, err := exec.Query(ctx, "SELECT COUNT(*) AS count FROM company_info")
	if err != nil {
		return fmt.Errorf("failed to count company info: %w", err)
	}
	if rs.First().Int64("count") > 0 {
		return nil
	}

	if seed.CompanyName == "" {
		seed.CompanyName = "My Company"
	}

	_, err = exec.Execute(ctx, `INSERT OR IGNORE INTO company_info
		(id, company_name, address, city, state, state_code, pincode, phone, email,
		 gst_number, pan_number, bank_name, bank_account_number, bank_ifsc, bank_branch,
		 upi_id, logo_url, terms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		models.CompanyInfoID, seed.CompanyName, seed.Address, seed.City, seed.State, seed.StateCode,
		seed.Pincode, seed.Phone, seed.Email, seed.GSTNumber, seed.PANNumber, seed.BankName,
		seed.BankAccountNumber, seed.BankIFSC, seed.BankBranch, seed.UPIID, seed.LogoURL, seed.Terms,
	)
	if err != nil {
		return fmt.Errorf("failed to seed company info: %w", err)
	}

	logger.LogInfo("[BOOTSTRAP] company info seeded", seed.CompanyName)
	return nil
}
