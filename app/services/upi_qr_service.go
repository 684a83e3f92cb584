package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// UPIQRService renders UPI payment QR codes for bills
type UPIQRService struct {
	bills   *BillService
	company *CompanyService
}

// NewUPIQRService creates a new UPI QR service
func NewUPIQRService(bills *BillService, company *CompanyService) *UPIQRService {
	return &UPIQRService{bills: bills, company: company}
}

// PaymentURI builds the upi://pay link for a bill
func (s *UPIQRService) PaymentURI(ctx context.Context, billID int64) (string, error) {
	company, err := s.company.GetCompanyInfo(ctx)
	if err != nil {
		return "", err
	}
	if company.UPIID == "" {
		return "", invalid("upi_id", "company UPI id is not configured")
	}

	bill, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("pa", company.UPIID)
	params.Set("pn", company.CompanyName)
	params.Set("am", bill.TotalAmount.StringFixed(2))
	params.Set("cu", "INR")
	if bill.BillNumber != "" {
		params.Set("tn", "Bill "+bill.BillNumber)
	} else {
		params.Set("tn", fmt.Sprintf("Bill #%d", bill.ID))
	}
	return "upi://pay?" + params.Encode(), nil
}

// GenerateBillQR returns a PNG QR code of the bill's payment link
func (s *UPIQRService) GenerateBillQR(ctx context.Context, billID int64, size int) ([]byte, error) {
	uri, err := s.PaymentURI(ctx, billID)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 1024 {
		size = defaultQRSize
	}

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	qr.DisableBorder = false

	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
