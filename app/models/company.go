package models

// CompanyInfoID is the fixed primary key of the singleton company row
const CompanyInfoID = 1

// CompanyInfo holds the issuing business printed on every bill
type CompanyInfo struct {
	ID                int64  `json:"id"`
	CompanyName       string `json:"company_name"`
	Address           string `json:"address"`
	City              string `json:"city"`
	State             string `json:"state"`
	StateCode         string `json:"state_code"`
	Pincode           string `json:"pincode"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	GSTNumber         string `json:"gst_number"`
	PANNumber         string `json:"pan_number"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number"`
	BankIFSC          string `json:"bank_ifsc"`
	BankBranch        string `json:"bank_branch"`
	UPIID             string `json:"upi_id"`
	LogoURL           string `json:"logo_url"`
	Terms             string `json:"terms"`
	UpdatedAt         string `json:"updated_at"`
}

// CompanyInfoUpdate is a partial update of the company row
type CompanyInfoUpdate struct {
	CompanyName       *string `json:"company_name"`
	Address           *string `json:"address"`
	City              *string `json:"city"`
	State             *string `json:"state"`
	StateCode         *string `json:"state_code"`
	Pincode           *string `json:"pincode"`
	Phone             *string `json:"phone"`
	Email             *string `json:"email"`
	GSTNumber         *string `json:"gst_number"`
	PANNumber         *string `json:"pan_number"`
	BankName          *string `json:"bank_name"`
	BankAccountNumber *string `json:"bank_account_number"`
	BankIFSC          *string `json:"bank_ifsc"`
	BankBranch        *string `json:"bank_branch"`
	UPIID             *string `json:"upi_id"`
	LogoURL           *string `json:"logo_url"`
	Terms             *string `json:"terms"`
}

// CustomerProfile is a customer as last seen on their most recent bill
type CustomerProfile struct {
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerEmail   string `json:"customer_email"`
	CustomerAddress string `json:"customer_address"`
	CustomerGST     string `json:"customer_gst"`
	LastBillID      int64  `json:"last_bill_id"`
	LastBillNumber  string `json:"last_bill_number"`
	LastInvoiceDate string `json:"last_invoice_date"`
}
