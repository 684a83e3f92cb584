package api

import (
	"net/http"

	"BillingApp/app/models"
)

// handleCustomerSearch looks customers up by name
func (s *Server) handleCustomerSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	customers, err := s.svc.Customers.SearchCustomers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: customers})
}

// handleCompany reads or updates the company info
func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info, err := s.svc.Company.GetCompanyInfo(r.Context())
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})

	case http.MethodPut:
		var upd models.CompanyInfoUpdate
		if err := decodeBody(w, r, &upd); err != nil {
			s.sendError(w, r, err)
			return
		}
		info, err := s.svc.Company.UpdateCompanyInfo(r.Context(), &upd)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		s.sendJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Company info updated successfully",
			Data:    info,
		})

	default:
		s.methodNotAllowed(w, "GET or PUT")
	}
}
