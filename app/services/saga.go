package services

import (
	"context"
	"fmt"
	"time"

	"BillingApp/app/remotedb"
)

// compensationTimeout bounds each undo batch. Undo runs detached from the
// caller's context because a cancelled request is one of the failures it repairs.
const compensationTimeout = 30 * time.Second

// CompensationJournal keeps undo statements that could not be applied.
// *database.LocalDB implements it.
type CompensationJournal interface {
	Record(operation, step string, billID int64, guard *remotedb.Statement, stmts []remotedb.Statement, cause error) error
}

// SagaStep is one remote write plus the statements that reverse it.
type SagaStep struct {
	Name string
	Do   func(ctx context.Context) error
	// Undo is called after Do, so it may read state Do captured.
	Undo func() []remotedb.Statement
	// Atomic steps have no effect when Do fails, so their Undo is skipped.
	Atomic bool
	// Guard is journaled with undo statements that fail. On replay the undo
	// is applied only while the guard query still returns a row.
	Guard func() *remotedb.Statement
}

// Saga runs steps in order and, when one fails, undoes the started steps in
// reverse. The backend has no multi-statement transactions, so this is the
// only rollback a bill write gets.
type Saga struct {
	operation string
	billID    func() int64
	client    *remotedb.Client
	journal   CompensationJournal
	logger    *LoggerService
	steps     []SagaStep
}

// NewSaga prepares a saga. billID reports the bill the saga touches, which
// may only be known after the first step.
func NewSaga(operation string, client *remotedb.Client, journal CompensationJournal, logger *LoggerService, billID func() int64) *Saga {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	if billID == nil {
		billID = func() int64 { return 0 }
	}
	return &Saga{operation: operation, client: client, journal: journal, logger: logger, billID: billID}
}

// Step appends a step
func (s *Saga) Step(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps. The returned error is always the failing step's
// error; compensation problems are logged and journaled, never returned.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			s.logger.LogWarning(fmt.Sprintf("[SAGA] %s: step %q failed, compensating", s.operation, step.Name), err.Error())
			started := s.steps[:i]
			if !step.Atomic {
				started = s.steps[:i+1]
			}
			s.compensate(ctx, started, err)
			return err
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, started []SagaStep, cause error) {
	for i := len(started) - 1; i >= 0; i-- {
		step := started[i]
		if step.Undo == nil {
			continue
		}
		stmts := step.Undo()
		if len(stmts) == 0 {
			continue
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		applied, err := s.client.Batch(cctx, stmts)
		cancel()

		if err == nil {
			s.logger.LogInfo(fmt.Sprintf("[SAGA] %s: undid step %q", s.operation, step.Name),
				fmt.Sprintf("bill %d", s.billID()))
			continue
		}

		remaining := stmts[len(applied):]
		s.logger.LogError(fmt.Sprintf("[SAGA] %s: undo of step %q failed", s.operation, step.Name), err,
			fmt.Sprintf("bill %d", s.billID()), fmt.Sprintf("%d statements outstanding", len(remaining)))

		if s.journal == nil {
			continue
		}
		var guard *remotedb.Statement
		if step.Guard != nil {
			guard = step.Guard()
		}
		if jerr := s.journal.Record(s.operation, step.Name, s.billID(), guard, remaining, cause); jerr != nil {
			s.logger.LogError("[SAGA] could not journal outstanding undo", jerr)
		}
	}
}
