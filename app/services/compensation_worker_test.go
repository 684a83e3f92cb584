package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"BillingApp/app/database"
	"BillingApp/app/remotedb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensationWorkerRetriesUntilExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.journal.Record("create_bill", "insert_header", 9, nil, []remotedb.Statement{
		remotedb.NewStatement("DELETE FROM bills WHERE id = ?", 9),
	}, errors.New("items rejected")))

	worker := NewCompensationWorker(env.conn, env.journal, nil, time.Hour)
	env.h.Faults.SetDown(true)
	for i := 0; i < database.MaxCompensationAttempts; i++ {
		assert.Equal(t, 0, worker.ReplayPending(ctx))
	}

	status, err := env.journal.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Pending)
	assert.Equal(t, int64(1), status.Exhausted)

	// Exhausted entries are left for an operator
	env.h.Faults.SetDown(false)
	assert.Equal(t, 0, worker.ReplayPending(ctx))
}

func TestCompensationWorkerKeepsOnlyOutstandingStatements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.Execute(ctx, "CREATE TABLE replay_rows (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, env.journal.Record("delete_bill", "delete_items", 3, nil, []remotedb.Statement{
		remotedb.NewStatement("INSERT INTO replay_rows (id) VALUES (?)", 1),
		remotedb.NewStatement("INSERT INTO replay_rows (id) VALUES (?)", 2),
	}, errors.New("header delete failed")))

	worker := NewCompensationWorker(env.conn, env.journal, nil, time.Hour)
	env.h.Faults.FailOn("INSERT INTO replay_rows", 1, 1)
	assert.Equal(t, 0, worker.ReplayPending(ctx))

	pending, err := env.journal.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	stmts, err := pending[0].DecodeStatements()
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	assert.Equal(t, 1, worker.ReplayPending(ctx))
	assert.Equal(t, int64(2), env.count(t, "SELECT COUNT(*) AS n FROM replay_rows"))
}

func TestCompensationWorkerStartStop(t *testing.T) {
	env := newTestEnv(t)

	worker := NewCompensationWorker(env.conn, env.journal, nil, 10*time.Millisecond)
	worker.Start()
	worker.Start()
	worker.Stop()
	worker.Stop()
}
