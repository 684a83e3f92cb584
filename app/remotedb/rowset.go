package remotedb

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Statement is one parameterized SQL statement.
type Statement struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// NewStatement builds a Statement, normalizing nil params to an empty list.
func NewStatement(sql string, params ...any) Statement {
	if params == nil {
		params = []any{}
	}
	return Statement{SQL: sql, Params: params}
}

// Meta is the execution metadata returned with each result set.
type Meta struct {
	LastRowID   int64   `json:"last_row_id"`
	Changes     int64   `json:"changes"`
	Duration    float64 `json:"duration"`
	RowsRead    int64   `json:"rows_read"`
	RowsWritten int64   `json:"rows_written"`
	ChangedDB   bool    `json:"changed_db"`
}

// Row is a single result row keyed by column name.
// Numeric values are json.Number.
type Row map[string]any

// RowSet is one statement's result.
type RowSet struct {
	Rows []Row `json:"results"`
	Meta Meta  `json:"meta"`
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// First returns the first row, or nil when empty.
func (rs *RowSet) First() Row {
	if rs.Len() == 0 {
		return nil
	}
	return rs.Rows[0]
}

// IsNull reports whether col is absent or NULL.
func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// String returns the column as text. NULL becomes "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an integer. NULL or non-numeric text becomes 0.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Decimal returns the column as a decimal. NULL or unparsable values become zero.
func (r Row) Decimal(col string) decimal.Decimal {
	switch v := r[col].(type) {
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}
