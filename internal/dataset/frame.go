// Package dataset reads, writes and profiles the tabular snapshots stored
// for each version. CSV is the canonical snapshot encoding; TSV, parquet and
// xlsx are accepted on import.
package dataset

import (
	"fmt"
	"strings"
)

// Value is one cell. Valid is false for nulls, which are written as empty
// cells.
type Value struct {
	V     string
	Valid bool
}

func String(v string) Value {
	return Value{V: v, Valid: true}
}

func Null() Value {
	return Value{}
}

// Equal treats two nulls as equal.
func (v Value) Equal(o Value) bool {
	if !v.Valid || !o.Valid {
		return v.Valid == o.Valid
	}
	return v.V == o.V
}

// Frame is a row-major table with named columns.
type Frame struct {
	Columns []string
	Rows    [][]Value
}

func NewFrame(columns []string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

func (f *Frame) NumRows() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

func (f *Frame) NumColumns() int {
	if f == nil {
		return 0
	}
	return len(f.Columns)
}

// ColumnIndex returns the position of name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the values of the named column.
func (f *Frame) Column(name string) ([]Value, bool) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// AppendRow adds a row of raw strings; empty strings become nulls.
func (f *Frame) AppendRow(cells ...string) error {
	if len(cells) != len(f.Columns) {
		return fmt.Errorf("row has %d cells, want %d", len(cells), len(f.Columns))
	}
	row := make([]Value, len(cells))
	for i, c := range cells {
		row[i] = parseCell(c)
	}
	f.Rows = append(f.Rows, row)
	return nil
}

func (f *Frame) validate() error {
	seen := make(map[string]struct{}, len(f.Columns))
	for _, c := range f.Columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("column name is empty")
		}
		if _, ok := seen[c]; ok {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func parseCell(raw string) Value {
	if raw == "" {
		return Null()
	}
	return String(raw)
}
