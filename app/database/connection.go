package database

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"

	"golang.org/x/sync/singleflight"
)

// DefaultBootstrapTimeout bounds the shared schema bootstrap
const DefaultBootstrapTimeout = 60 * time.Second

// ConnectorOptions configures a Connector
type ConnectorOptions struct {
	Seed             models.CompanyInfo
	BootstrapTimeout time.Duration
	Logger           remotedb.Logger
}

// Connector owns the process-wide remote client. The schema bootstrap runs
// once: concurrent first callers share one in-flight attempt, a success is
// memoized for the rest of the process, and a failure is not, so the next
// caller tries again.
type Connector struct {
	client  *remotedb.Client
	opts    ConnectorOptions
	group   singleflight.Group
	ready   atomic.Pointer[remotedb.Client]
	attempt atomic.Int64
}

// NewConnector validates the client options immediately; nothing is sent
// to the remote database until the first Client call.
func NewConnector(clientOpts remotedb.Options, opts ConnectorOptions) (*Connector, error) {
	if opts.Logger == nil {
		opts.Logger = remotedb.NopLogger
	}
	if clientOpts.Logger == nil {
		clientOpts.Logger = opts.Logger
	}
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = DefaultBootstrapTimeout
	}

	client, err := remotedb.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}

	return &Connector{client: client, opts: opts}, nil
}

// Client returns the bootstrapped client, running the bootstrap on first use.
func (c *Connector) Client(ctx context.Context) (*remotedb.Client, error) {
	if client := c.ready.Load(); client != nil {
		return client, nil
	}

	ch := c.group.DoChan("bootstrap", func() (interface{}, error) {
		if client := c.ready.Load(); client != nil {
			return client, nil
		}

		// The attempt is shared, so one caller giving up must not cancel it for the rest
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.BootstrapTimeout)
		defer cancel()

		n := c.attempt.Add(1)
		start := time.Now()
		c.opts.Logger.LogInfo("[BOOTSTRAP] ensuring schema", fmt.Sprintf("attempt %d", n))

		if err := EnsureSchema(bctx, c.client, c.opts.Seed, c.opts.Logger); err != nil {
			c.opts.Logger.LogError("[BOOTSTRAP] schema bootstrap failed", err)
			return nil, err
		}

		c.ready.Store(c.client)
		c.opts.Logger.LogInfo("[BOOTSTRAP] schema ready", fmt.Sprintf("took %v", time.Since(start)))
		return c.client, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("database bootstrap failed: %w", res.Err)
		}
		return res.Val.(*remotedb.Client), nil
	case <-ctx.Done():
		return nil, &remotedb.TransportError{Err: ctx.Err()}
	}
}

// Ready reports whether the bootstrap has completed
func (c *Connector) Ready() bool {
	return c.ready.Load() != nil
}

// BootstrapAttempts returns how many bootstrap runs have started
func (c *Connector) BootstrapAttempts() int64 {
	return c.attempt.Load()
}

// Raw returns the client without bootstrapping, for health checks
func (c *Connector) Raw() *remotedb.Client {
	return c.client
}
