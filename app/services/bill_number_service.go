package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"BillingApp/app/remotedb"
)

// BillNumberService suggests the next sequential bill number. It does not
// reserve the number: two concurrent callers can get the same suggestion.
type BillNumberService struct {
	BaseService
}

// NewBillNumberService creates a new bill number service
func NewBillNumberService(conn ClientProvider, logger *LoggerService) *BillNumberService {
	return &BillNumberService{BaseService: NewBaseService(conn, logger)}
}

// NextBillNumber returns the latest bill's number plus one. It returns "1"
// when there are no bills or the latest number is not an integer.
func (s *BillNumberService) NextBillNumber(ctx context.Context) (string, error) {
	client, err := s.EnsureDB(ctx)
	if err != nil {
		return "", err
	}
	return s.next(ctx, client)
}

func (s *BillNumberService) next(ctx context.Context, client *remotedb.Client) (string, error) {
	rs, err := client.Query(ctx, "SELECT bill_number FROM bills ORDER BY id DESC LIMIT 1")
	if err != nil {
		return "", fmt.Errorf("failed to read latest bill number: %w", err)
	}
	if rs.Len() == 0 {
		return "1", nil
	}

	latest := strings.TrimSpace(rs.First().String("bill_number"))
	n, err := strconv.ParseInt(latest, 10, 64)
	if err != nil {
		// Restarting at 1 can collide with an already issued number
		s.logger.LogWarning("Latest bill number is not numeric, restarting at 1", fmt.Sprintf("latest=%q", latest))
		return "1", nil
	}
	return strconv.FormatInt(n+1, 10), nil
}
