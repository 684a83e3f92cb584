package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"BillingApp/app/models"
	"BillingApp/app/services"

	"github.com/shopspring/decimal"
)

// totalTolerance absorbs rounding between the client's total and ours
var totalTolerance = decimal.RequireFromString("0.01")

// checkTotals rejects a bill whose total is not subtotal + tax - discount
func checkTotals(b *models.Bill) error {
	expected := b.ExpectedTotal()
	if b.TotalAmount.Sub(expected).Abs().GreaterThan(totalTolerance) {
		return &services.ValidationError{
			Field: "total_amount",
			Message: fmt.Sprintf("total %s does not match subtotal + tax - discount (%s)",
				b.TotalAmount.StringFixed(2), expected.StringFixed(2)),
		}
	}
	return nil
}

// handleBills handles the bill collection
func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listBills(w, r)
	case http.MethodPost:
		s.createBill(w, r)
	case http.MethodPatch:
		s.nextBillNumber(w, r)
	default:
		s.methodNotAllowed(w, "GET, POST or PATCH")
	}
}

// handleBill routes /api/bills/{id}, /api/bills/{id}/upi-qr and /api/bills/number/{number}
func (s *Server) handleBill(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/bills/"), "/"), "/")

	if len(parts) == 2 && parts[0] == "number" {
		switch r.Method {
		case http.MethodGet:
			bill, err := s.svc.Bills.GetBillByNumber(r.Context(), parts[1])
			s.respondBill(w, r, bill, err)
		case http.MethodDelete:
			bill, err := s.svc.Bills.DeleteBillByNumber(r.Context(), parts[1])
			s.respondDeleted(w, r, bill, err)
		default:
			s.methodNotAllowed(w, "GET or DELETE")
		}
		return
	}

	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "upi-qr") {
		s.sendJSON(w, http.StatusNotFound, APIResponse{Success: false, Error: "route not found"})
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, r, &services.ValidationError{Field: "id", Message: fmt.Sprintf("invalid bill id %q", parts[0])})
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, http.MethodGet)
			return
		}
		s.billQR(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		bill, err := s.svc.Bills.GetBill(r.Context(), id)
		s.respondBill(w, r, bill, err)
	case http.MethodPut:
		s.updateBill(w, r, id)
	case http.MethodDelete:
		bill, err := s.svc.Bills.DeleteBill(r.Context(), id)
		s.respondDeleted(w, r, bill, err)
	default:
		s.methodNotAllowed(w, "GET, PUT or DELETE")
	}
}

func (s *Server) respondBill(w http.ResponseWriter, r *http.Request, bill *models.Bill, err error) {
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: bill})
}

func (s *Server) respondDeleted(w http.ResponseWriter, r *http.Request, bill *models.Bill, err error) {
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Bill deleted successfully",
		Data: map[string]interface{}{
			"id":          bill.ID,
			"bill_number": bill.BillNumber,
		},
	})
}

// createBill stores a new bill
func (s *Server) createBill(w http.ResponseWriter, r *http.Request) {
	var bill models.Bill
	if err := decodeBody(w, r, &bill); err != nil {
		s.sendError(w, r, err)
		return
	}
	if err := checkTotals(&bill); err != nil {
		s.sendError(w, r, err)
		return
	}

	created, err := s.svc.Bills.CreateBill(r.Context(), &bill)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Bill created successfully",
		Data: map[string]interface{}{
			"id":          created.ID,
			"bill_number": created.BillNumber,
			"itemsCount":  created.ItemsCount,
		},
	})
}

// updateBill applies a partial update. When money fields change the
// merged header must still satisfy the total rule.
func (s *Server) updateBill(w http.ResponseWriter, r *http.Request, id int64) {
	var upd models.BillUpdate
	if err := decodeBody(w, r, &upd); err != nil {
		s.sendError(w, r, err)
		return
	}

	if upd.TouchesTotals() {
		current, err := s.svc.Bills.GetBill(r.Context(), id)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		merged := *current
		if upd.Subtotal != nil {
			merged.Subtotal = *upd.Subtotal
		}
		if upd.TotalTaxAmount != nil {
			merged.TotalTaxAmount = *upd.TotalTaxAmount
		}
		if upd.DiscountAmount != nil {
			merged.DiscountAmount = *upd.DiscountAmount
		}
		if upd.TotalAmount != nil {
			merged.TotalAmount = *upd.TotalAmount
		}
		if err := checkTotals(&merged); err != nil {
			s.sendError(w, r, err)
			return
		}
	}

	updated, err := s.svc.Bills.UpdateBill(r.Context(), id, &upd)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Bill updated successfully",
		Data:    updated,
	})
}

// listBills returns one page of bills
func (s *Server) listBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BillListFilter{
		Search:        q.Get("search"),
		DateFrom:      q.Get("date_from"),
		DateTo:        q.Get("date_to"),
		Status:        models.PaymentStatus(q.Get("status")),
		PaymentMethod: models.PaymentMethod(q.Get("payment_method")),
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &filter.Page}, {"limit", &filter.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, r, &services.ValidationError{Field: p.name, Message: fmt.Sprintf("%s must be a positive integer", p.name)})
			return
		}
		*p.dst = n
	}

	page, err := s.svc.Bills.ListBills(r.Context(), filter)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: page})
}

// nextBillNumber suggests the next sequential bill number
func (s *Server) nextBillNumber(w http.ResponseWriter, r *http.Request) {
	next, err := s.svc.Numbers.NextBillNumber(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"bill_number": next},
	})
}

// billQR writes the bill's UPI payment QR code as PNG
func (s *Server) billQR(w http.ResponseWriter, r *http.Request, id int64) {
	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, _ = strconv.Atoi(raw)
	}

	png, err := s.svc.QR.GenerateBillQR(r.Context(), id, size)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
