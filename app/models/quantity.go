package models

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/shopspring/decimal"
)

// Hyphens in free text are separators ("Set-2"), so numbers are unsigned
var firstNumber = regexp.MustCompile(`\d+(?:\.\d+)?|\.\d+`)

// Quantity is the free-text quantity of an item, e.g. "12", "2.5 kg" or "10 (boxes)".
// The raw text is stored as-is; Value extracts the first number for arithmetic.
type Quantity string

// Value returns the first number in the text and whether one was found
func (q Quantity) Value() (decimal.Decimal, bool) {
	match := firstNumber.FindString(string(q))
	if match == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// UnmarshalJSON accepts both JSON strings and numbers
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = Quantity(n.String())
	return nil
}
