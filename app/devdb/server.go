// Package devdb serves the remote query wire protocol over an embedded SQLite
// database. It backs local mode and the test suites.
package devdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"BillingApp/app/remotedb"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// errorCodeStatement mirrors the code D1 uses for SQL execution failures.
const errorCodeStatement = 7500

const errorCodeAuth = 10000

// Server answers POST /query requests against a local database.
type Server struct {
	db     *gorm.DB
	token  string
	logger remotedb.Logger
	mu     sync.Mutex
}

// Open opens (or creates) the SQLite database at path.
// An empty path or ":memory:" gives a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access local database pool: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// NewServer wraps db. Requests must carry "Bearer <token>". A nil logger
// discards statement failures.
func NewServer(db *gorm.DB, token string, logger remotedb.Logger) *Server {
	if logger == nil {
		logger = remotedb.NopLogger
	}
	return &Server{db: db, token: token, logger: logger}
}

// DB exposes the underlying handle, mainly for tests.
func (s *Server) DB() *gorm.DB {
	return s.db
}

// Handler returns the HTTP handler serving /query.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	return mux
}

// Close closes the database.
func (s *Server) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultMeta struct {
	LastRowID   int64   `json:"last_row_id"`
	Changes     int64   `json:"changes"`
	Duration    float64 `json:"duration"`
	RowsRead    int64   `json:"rows_read"`
	RowsWritten int64   `json:"rows_written"`
	ChangedDB   bool    `json:"changed_db"`
}

type result struct {
	Results []map[string]any `json:"results"`
	Success bool             `json:"success"`
	Meta    resultMeta       `json:"meta"`
}

type queryResponse struct {
	Success  bool       `json:"success"`
	Result   []result   `json:"result"`
	Errors   []apiError `json:"errors"`
	Messages []string   `json:"messages"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, http.StatusMethodNotAllowed, 0, "method not allowed")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		s.fail(w, http.StatusUnauthorized, errorCodeAuth, "Authentication error")
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req queryRequest
	if err := dec.Decode(&req); err != nil || strings.TrimSpace(req.SQL) == "" {
		s.fail(w, http.StatusBadRequest, errorCodeStatement, "invalid query request body")
		return
	}

	res, err := s.run(req.SQL, normalizeParams(req.Params))
	if err != nil {
		s.fail(w, http.StatusBadRequest, errorCodeStatement, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Success:  true,
		Result:   []result{*res},
		Errors:   []apiError{},
		Messages: []string{},
	})
}

func (s *Server) run(query string, params []any) (*result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &result{Results: []map[string]any{}, Success: true}

	err := s.db.Connection(func(conn *gorm.DB) error {
		if returnsRows(query) {
			rows, err := conn.Raw(query, params...).Rows()
			if err != nil {
				return err
			}
			defer rows.Close()
			out, err := scanRows(rows)
			if err != nil {
				return err
			}
			res.Results = out
			res.Meta.RowsRead = int64(len(out))
			if isWrite(query) {
				res.Meta.Changes = int64(len(out))
				res.Meta.RowsWritten = int64(len(out))
				res.Meta.ChangedDB = len(out) > 0
			}
			return nil
		}

		tx := conn.Exec(query, params...)
		if tx.Error != nil {
			return tx.Error
		}
		res.Meta.Changes = tx.RowsAffected
		res.Meta.RowsWritten = tx.RowsAffected
		res.Meta.ChangedDB = tx.RowsAffected > 0
		if strings.HasPrefix(firstKeyword(query), "INSERT") || strings.HasPrefix(firstKeyword(query), "REPLACE") {
			return conn.Raw("SELECT last_insert_rowid()").Scan(&res.Meta.LastRowID).Error
		}
		return nil
	})
	if err != nil {
		s.logger.LogWarning("[DEV DB] statement failed", err.Error(), summarize(query))
		return nil, err
	}

	res.Meta.Duration = float64(time.Since(start).Microseconds()) / 1000
	return res, nil
}

func summarize(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > 120 {
		q = q[:120] + "..."
	}
	return "SQL: " + q
}

func (s *Server) fail(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, queryResponse{
		Success:  false,
		Result:   []result{},
		Errors:   []apiError{{Code: code, Message: message}},
		Messages: []string{},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func firstKeyword(query string) string {
	fields := strings.Fields(strings.TrimLeft(query, "( \t\r\n"))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func returnsRows(query string) bool {
	switch firstKeyword(query) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	}
	return strings.Contains(strings.ToUpper(query), "RETURNING")
}

func isWrite(query string) bool {
	switch firstKeyword(query) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return true
	}
	return false
}

// normalizeParams turns JSON numbers into int64 or float64 so SQLite binds
// them with numeric types.
func normalizeParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				out[i] = n
			} else if f, err := v.Float64(); err == nil {
				out[i] = f
			} else {
				out[i] = v.String()
			}
		case bool:
			if v {
				out[i] = int64(1)
			} else {
				out[i] = int64(0)
			}
		default:
			out[i] = v
		}
	}
	return out
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			case time.Time:
				row[col] = v.UTC().Format("2006-01-02 15:04:05")
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
