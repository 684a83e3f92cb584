package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"BillingApp/app/remotedb"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MaxCompensationAttempts is how many replays a journal entry gets before it
// is left for manual repair
const MaxCompensationAttempts = 5

// LocalDB is the local SQLite journal of compensating statements that could
// not be applied to the remote database when a bill write was rolled back.
type LocalDB struct {
	db     *gorm.DB
	dbPath string
}

// PendingCompensation is one undo batch still owed to the remote database
type PendingCompensation struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Operation  string     `gorm:"index" json:"operation"` // "create_bill", "update_bill", "delete_bill"
	Step       string     `json:"step"`
	BillID     int64      `gorm:"index" json:"bill_id"`
	Statements string     `json:"statements"` // JSON encoded []remotedb.Statement
	Guard      string     `json:"guard"`      // JSON encoded remotedb.Statement, empty when unguarded
	Cause      string     `json:"cause"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error"`
	Resolved   bool       `gorm:"index" json:"resolved"`
	Superseded bool       `json:"superseded"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CompensationLog keeps the history of replay attempts
type CompensationLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CompensationID uint      `gorm:"index" json:"compensation_id"`
	Status         string    `json:"status"` // "success", "failed", "superseded"
	Error          string    `json:"error"`
	AttemptedAt    time.Time `json:"attempted_at"`
}

// JournalStatus summarizes the journal
type JournalStatus struct {
	Pending    int64 `json:"pending"`
	Exhausted  int64 `json:"exhausted"`
	Resolved   int64 `json:"resolved"`
	Superseded int64 `json:"superseded"`
}

// OpenLocalDB opens the journal at dbPath. An empty path or ":memory:" keeps
// it in memory, which tests use.
func OpenLocalDB(dbPath string) (*LocalDB, error) {
	dsn := "file::memory:"
	if dbPath != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath
	}

	// Open SQLite connection (CGO-free driver)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to local database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access local database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	l := &LocalDB{db: db, dbPath: dbPath}
	if err := l.db.AutoMigrate(&PendingCompensation{}, &CompensationLog{}); err != nil {
		return nil, fmt.Errorf("failed to run local migrations: %w", err)
	}
	return l, nil
}

// Record stores undo statements that failed to apply. guard, when set, is
// the query that must still return a row for the undo to be replayed.
func (l *LocalDB) Record(operation, step string, billID int64, guard *remotedb.Statement, stmts []remotedb.Statement, cause error) error {
	data, err := json.Marshal(stmts)
	if err != nil {
		return fmt.Errorf("failed to encode statements: %w", err)
	}

	entry := PendingCompensation{
		Operation:  operation,
		Step:       step,
		BillID:     billID,
		Statements: string(data),
	}
	if guard != nil {
		g, err := json.Marshal(guard)
		if err != nil {
			return fmt.Errorf("failed to encode guard: %w", err)
		}
		entry.Guard = string(g)
	}
	if cause != nil {
		entry.Cause = cause.Error()
	}
	return l.db.Create(&entry).Error
}

// GetPending returns unresolved entries that still have attempts left, oldest first
func (l *LocalDB) GetPending() ([]PendingCompensation, error) {
	var entries []PendingCompensation
	err := l.db.Where("resolved = ? AND attempts < ?", false, MaxCompensationAttempts).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// DecodeStatements returns the statements of an entry
func (p *PendingCompensation) DecodeStatements() ([]remotedb.Statement, error) {
	var stmts []remotedb.Statement
	dec := json.NewDecoder(bytes.NewReader([]byte(p.Statements)))
	dec.UseNumber()
	if err := dec.Decode(&stmts); err != nil {
		return nil, fmt.Errorf("failed to decode statements of entry %d: %w", p.ID, err)
	}
	return stmts, nil
}

// DecodeGuard returns the guard query of an entry, or nil when it has none
func (p *PendingCompensation) DecodeGuard() (*remotedb.Statement, error) {
	if p.Guard == "" {
		return nil, nil
	}
	var guard remotedb.Statement
	dec := json.NewDecoder(bytes.NewReader([]byte(p.Guard)))
	dec.UseNumber()
	if err := dec.Decode(&guard); err != nil {
		return nil, fmt.Errorf("failed to decode guard of entry %d: %w", p.ID, err)
	}
	return &guard, nil
}

// MarkSuperseded closes an entry whose bill was written again after the
// failed undo; replaying it would overwrite that newer write
func (l *LocalDB) MarkSuperseded(id uint) error {
	now := time.Now().UTC()
	return l.db.Model(&PendingCompensation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved":    true,
		"superseded":  true,
		"resolved_at": now,
	}).Error
}

// MarkResolved marks an entry as applied
func (l *LocalDB) MarkResolved(id uint) error {
	now := time.Now().UTC()
	return l.db.Model(&PendingCompensation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_at": now,
	}).Error
}

// MarkFailed bumps the attempt counter and keeps the last error
func (l *LocalDB) MarkFailed(id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.db.Model(&PendingCompensation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": msg,
	}).Error
}

// UpdateStatements replaces the statements still owed by an entry
func (l *LocalDB) UpdateStatements(id uint, stmts []remotedb.Statement) error {
	data, err := json.Marshal(stmts)
	if err != nil {
		return fmt.Errorf("failed to encode statements: %w", err)
	}
	return l.db.Model(&PendingCompensation{}).Where("id = ?", id).Update("statements", string(data)).Error
}

// LogAttempt records a replay attempt
func (l *LocalDB) LogAttempt(compensationID uint, status string, errMsg string) {
	l.db.Create(&CompensationLog{
		CompensationID: compensationID,
		Status:         status,
		Error:          errMsg,
		AttemptedAt:    time.Now().UTC(),
	})
}

// GetStatus counts entries by state
func (l *LocalDB) GetStatus() (*JournalStatus, error) {
	var status JournalStatus
	if err := l.db.Model(&PendingCompensation{}).
		Where("resolved = ? AND attempts < ?", false, MaxCompensationAttempts).
		Count(&status.Pending).Error; err != nil {
		return nil, err
	}
	if err := l.db.Model(&PendingCompensation{}).
		Where("resolved = ? AND attempts >= ?", false, MaxCompensationAttempts).
		Count(&status.Exhausted).Error; err != nil {
		return nil, err
	}
	if err := l.db.Model(&PendingCompensation{}).
		Where("resolved = ?", true).
		Count(&status.Resolved).Error; err != nil {
		return nil, err
	}
	if err := l.db.Model(&PendingCompensation{}).
		Where("superseded = ?", true).
		Count(&status.Superseded).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

// ClearResolved removes resolved entries and old logs
func (l *LocalDB) ClearResolved(daysOld int) error {
	cutoffDate := time.Now().UTC().AddDate(0, 0, -daysOld)

	if err := l.db.Where("resolved = ? AND resolved_at < ?", true, cutoffDate).Delete(&PendingCompensation{}).Error; err != nil {
		return err
	}
	if err := l.db.Where("attempted_at < ?", cutoffDate).Delete(&CompensationLog{}).Error; err != nil {
		return err
	}
	return nil
}

// GetDB returns the underlying database connection
func (l *LocalDB) GetDB() *gorm.DB {
	return l.db
}

// Close closes the local database connection
func (l *LocalDB) Close() error {
	if l.db != nil {
		sqlDB, err := l.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
