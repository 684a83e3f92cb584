package services

import (
	"context"
	"fmt"

	"BillingApp/app/remotedb"
)

// ClientProvider hands out the bootstrapped remote client.
// *database.Connector implements it.
type ClientProvider interface {
	Client(ctx context.Context) (*remotedb.Client, error)
}

// BaseService provides common functionality for all services
type BaseService struct {
	conn   ClientProvider
	logger *LoggerService
}

// NewBaseService creates a new base service instance
func NewBaseService(conn ClientProvider, logger *LoggerService) BaseService {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return BaseService{conn: conn, logger: logger}
}

// EnsureDB checks if the connection is configured and returns the client
func (b *BaseService) EnsureDB(ctx context.Context) (*remotedb.Client, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return b.conn.Client(ctx)
}

// Logger returns the service logger
func (b *BaseService) Logger() *LoggerService {
	return b.logger
}
