package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"BillingApp/app/database"
	"BillingApp/app/remotedb"
)

// CompensationWorker replays journaled undo statements that failed during a
// rolled back bill write, until they apply or run out of attempts.
type CompensationWorker struct {
	conn      ClientProvider
	localDB   *database.LocalDB
	logger    *LoggerService
	interval  time.Duration
	retention int

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewCompensationWorker creates a worker that runs every interval
func NewCompensationWorker(conn ClientProvider, localDB *database.LocalDB, logger *LoggerService, interval time.Duration) *CompensationWorker {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &CompensationWorker{
		conn:      conn,
		localDB:   localDB,
		logger:    logger,
		interval:  interval,
		retention: 30,
	}
}

// Start launches the worker loop
func (w *CompensationWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning || w.localDB == nil {
		return
	}
	w.isRunning = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()
	w.logger.LogInfo("[COMPENSATION] worker started", fmt.Sprintf("interval: %v", w.interval))
}

// run is the main replay loop
func (w *CompensationWorker) run() {
	defer close(w.done)
	defer w.logger.RecoverPanic()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ReplayPending(context.Background())

	for {
		select {
		case <-ticker.C:
			w.ReplayPending(context.Background())
		case <-w.stopChan:
			w.logger.LogInfo("[COMPENSATION] worker stopped")
			return
		}
	}
}

// Stop stops the worker and waits for the current pass to finish
func (w *CompensationWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()
	<-done
}

// ReplayPending applies every pending journal entry once and returns how
// many were resolved
func (w *CompensationWorker) ReplayPending(ctx context.Context) int {
	pending, err := w.localDB.GetPending()
	if err != nil {
		w.logger.LogError("[COMPENSATION] could not read journal", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	w.logger.LogInfo("[COMPENSATION] replaying journal", fmt.Sprintf("%d pending entries", len(pending)))

	client, err := w.conn.Client(ctx)
	if err != nil {
		w.logger.LogWarning("[COMPENSATION] remote database unavailable, will retry", err.Error())
		return 0
	}

	resolved := 0
	for i := range pending {
		entry := &pending[i]
		stmts, err := entry.DecodeStatements()
		if err != nil {
			w.localDB.MarkFailed(entry.ID, err)
			w.localDB.LogAttempt(entry.ID, "failed", err.Error())
			continue
		}

		current, err := w.stillApplies(ctx, client, entry)
		if err != nil {
			w.localDB.MarkFailed(entry.ID, err)
			w.localDB.LogAttempt(entry.ID, "failed", err.Error())
			w.logger.LogError("[COMPENSATION] guard check failed", err,
				fmt.Sprintf("entry %d (%s/%s, bill %d)", entry.ID, entry.Operation, entry.Step, entry.BillID))
			continue
		}
		if !current {
			if err := w.localDB.MarkSuperseded(entry.ID); err != nil {
				w.logger.LogError("[COMPENSATION] could not mark entry superseded", err)
				continue
			}
			w.localDB.LogAttempt(entry.ID, "superseded", "")
			w.logger.LogWarning("[COMPENSATION] bill written again since the failed undo, entry dropped",
				fmt.Sprintf("entry %d (%s/%s, bill %d)", entry.ID, entry.Operation, entry.Step, entry.BillID))
			continue
		}

		applied, err := client.Batch(ctx, stmts)
		if err != nil {
			// Keep only what is still owed so a later pass does not repeat applied statements
			if len(applied) > 0 {
				if uerr := w.localDB.UpdateStatements(entry.ID, stmts[len(applied):]); uerr != nil {
					w.logger.LogError("[COMPENSATION] could not update journal entry", uerr)
				}
			}
			w.localDB.MarkFailed(entry.ID, err)
			w.localDB.LogAttempt(entry.ID, "failed", err.Error())
			w.logger.LogError("[COMPENSATION] replay failed", err,
				fmt.Sprintf("entry %d (%s/%s, bill %d)", entry.ID, entry.Operation, entry.Step, entry.BillID))
			continue
		}

		if err := w.localDB.MarkResolved(entry.ID); err != nil {
			w.logger.LogError("[COMPENSATION] could not mark entry resolved", err)
			continue
		}
		w.localDB.LogAttempt(entry.ID, "success", "")
		resolved++
		w.logger.LogInfo("[COMPENSATION] entry resolved",
			fmt.Sprintf("entry %d (%s/%s, bill %d)", entry.ID, entry.Operation, entry.Step, entry.BillID))
	}

	if err := w.localDB.ClearResolved(w.retention); err != nil {
		w.logger.LogWarning("[COMPENSATION] could not clear old entries", err.Error())
	}
	return resolved
}

// stillApplies runs the entry's guard. Entries without one always apply.
func (w *CompensationWorker) stillApplies(ctx context.Context, client *remotedb.Client, entry *database.PendingCompensation) (bool, error) {
	guard, err := entry.DecodeGuard()
	if err != nil {
		return false, err
	}
	if guard == nil {
		return true, nil
	}
	rs, err := client.Query(ctx, guard.SQL, guard.Params...)
	if err != nil {
		return false, err
	}
	return rs.Len() > 0, nil
}
