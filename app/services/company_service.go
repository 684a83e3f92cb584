package services

import (
	"context"
	"fmt"
	"strings"

	"BillingApp/app/models"
)

const companySelectList = `id, company_name, address, city, state, state_code, pincode, phone, email,
	gst_number, pan_number, bank_name, bank_account_number, bank_ifsc, bank_branch, upi_id, logo_url,
	terms, updated_at`

// CompanyService reads and updates the singleton company row
type CompanyService struct {
	BaseService
}

// NewCompanyService creates a new company service
func NewCompanyService(conn ClientProvider, logger *LoggerService) *CompanyService {
	return &CompanyService{BaseService: NewBaseService(conn, logger)}
}

// GetCompanyInfo returns the company row
func (s *CompanyService) GetCompanyInfo(ctx context.Context) (*models.CompanyInfo, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	rs, err := client.Query(ctx, "SELECT "+companySelectList+" FROM company_info WHERE id = ?", models.CompanyInfoID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch company info: %w", err)
	}
	if rs.Len() == 0 {
		return nil, &NotFoundError{Entity: "company info", Key: fmt.Sprintf("%d", models.CompanyInfoID)}
	}

	row := rs.First()
	return &models.CompanyInfo{
		ID:                row.Int64("id"),
		CompanyName:       row.String("company_name"),
		Address:           row.String("address"),
		City:              row.String("city"),
		State:             row.String("state"),
		StateCode:         row.String("state_code"),
		Pincode:           row.String("pincode"),
		Phone:             row.String("phone"),
		Email:             row.String("email"),
		GSTNumber:         row.String("gst_number"),
		PANNumber:         row.String("pan_number"),
		BankName:          row.String("bank_name"),
		BankAccountNumber: row.String("bank_account_number"),
		BankIFSC:          row.String("bank_ifsc"),
		BankBranch:        row.String("bank_branch"),
		UPIID:             row.String("upi_id"),
		LogoURL:           row.String("logo_url"),
		Terms:             row.String("terms"),
		UpdatedAt:         row.String("updated_at"),
	}, nil
}

// UpdateCompanyInfo applies the present fields and returns the stored row
func (s *CompanyService) UpdateCompanyInfo(ctx context.Context, upd *models.CompanyInfoUpdate) (*models.CompanyInfo, error) {
	if upd.CompanyName != nil && strings.TrimSpace(*upd.CompanyName) == "" {
		return nil, invalid("company_name", "company name must not be empty")
	}

	fields := []struct {
		col   string
		value *string
	}{
		{"company_name", upd.CompanyName},
		{"address", upd.Address},
		{"city", upd.City},
		{"state", upd.State},
		{"state_code", upd.StateCode},
		{"pincode", upd.Pincode},
		{"phone", upd.Phone},
		{"email", upd.Email},
		{"gst_number", upd.GSTNumber},
		{"pan_number", upd.PANNumber},
		{"bank_name", upd.BankName},
		{"bank_account_number", upd.BankAccountNumber},
		{"bank_ifsc", upd.BankIFSC},
		{"bank_branch", upd.BankBranch},
		{"upi_id", upd.UPIID},
		{"logo_url", upd.LogoURL},
		{"terms", upd.Terms},
	}

	var sets []string
	var params []interface{}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		sets = append(sets, f.col+" = ?")
		params = append(params, strings.TrimSpace(*f.value))
	}
	if len(sets) == 0 {
		return s.GetCompanyInfo(ctx)
	}

	client, err := s.EnsureDB(ctx)
	if err != nil {
		return nil, err
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	params = append(params, models.CompanyInfoID)
	rs, err := client.Execute(ctx, "UPDATE company_info SET "+strings.Join(sets, ", ")+" WHERE id = ?", params...)
	if err != nil {
		return nil, fmt.Errorf("failed to update company info: %w", err)
	}
	if rs.Meta.Changes == 0 {
		return nil, &NotFoundError{Entity: "company info", Key: fmt.Sprintf("%d", models.CompanyInfoID)}
	}

	s.logger.LogInfo("Company info updated", fmt.Sprintf("%d fields", len(sets)-1))
	return s.GetCompanyInfo(ctx)
}
