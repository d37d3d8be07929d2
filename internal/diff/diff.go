// Package diff compares two dataset snapshots.
package diff

import (
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/datapilot/internal/dataset"
)

// Diff is the structural and cell-level comparison of snapshot A (before)
// against snapshot B (after).
//
// DataChanges counts, per common column, the rows whose values differ at the
// same position. Values are compared by the column type inferred on both
// sides, so "1.50" equals "1.5" in a numeric column; nulls only equal nulls.
// Rows are aligned by position only, so the counts are only
// computed when both snapshots have the same number of rows and are
// misleading when a transformation reorders rows. ColumnsRenamed is never
// populated.
type Diff struct {
	RowsBefore     int            `json:"rows_before"`
	RowsAfter      int            `json:"rows_after"`
	RowsChange     int            `json:"rows_change"`
	ColumnsBefore  int            `json:"columns_before"`
	ColumnsAfter   int            `json:"columns_after"`
	ColumnsChange  int            `json:"columns_change"`
	ColumnsAdded   []string       `json:"columns_added"`
	ColumnsRemoved []string       `json:"columns_removed"`
	ColumnsRenamed []string       `json:"columns_renamed"`
	DataComparable bool           `json:"data_comparable"`
	DataChanges    map[string]int `json:"data_changes,omitempty"`
}

// Compute diffs a against b. Nil frames are treated as empty.
func Compute(a, b *dataset.Frame) Diff {
	d := Diff{
		RowsBefore:     a.NumRows(),
		RowsAfter:      b.NumRows(),
		ColumnsBefore:  a.NumColumns(),
		ColumnsAfter:   b.NumColumns(),
		ColumnsRenamed: []string{},
	}
	d.RowsChange = d.RowsAfter - d.RowsBefore
	d.ColumnsChange = d.ColumnsAfter - d.ColumnsBefore

	colsA := columnSet(a)
	colsB := columnSet(b)
	d.ColumnsAdded = difference(colsB, colsA)
	d.ColumnsRemoved = difference(colsA, colsB)

	if d.RowsBefore != d.RowsAfter {
		return d
	}
	d.DataComparable = true
	d.DataChanges = make(map[string]int)
	for name := range colsA {
		if _, ok := colsB[name]; !ok {
			continue
		}
		d.DataChanges[name] = countChanges(a, b, name)
	}
	return d
}

func countChanges(a, b *dataset.Frame, name string) int {
	valuesA, _ := a.Column(name)
	valuesB, _ := b.Column(name)
	equal := comparatorFor(dataset.InferDType(valuesA), dataset.InferDType(valuesB))
	changes := 0
	for i := range valuesA {
		x, y := valuesA[i], valuesB[i]
		if !x.Valid || !y.Valid {
			if x.Valid != y.Valid {
				changes++
			}
			continue
		}
		if !equal(x.V, y.V) {
			changes++
		}
	}
	return changes
}

type comparator func(x, y string) bool

// comparatorFor picks how two non-null cells of a column are compared. A
// column typed differently on each side falls back to its text.
func comparatorFor(typeA, typeB string) comparator {
	switch {
	case typeA == dataset.DTypeInt64 && typeB == dataset.DTypeInt64:
		return equalInt
	case isNumeric(typeA) && isNumeric(typeB):
		return equalFloat
	case typeA == dataset.DTypeBoolean && typeB == dataset.DTypeBoolean:
		return func(x, y string) bool { return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y)) }
	default:
		return func(x, y string) bool { return x == y }
	}
}

func isNumeric(dtype string) bool {
	return dtype == dataset.DTypeInt64 || dtype == dataset.DTypeFloat64
}

func equalInt(x, y string) bool {
	i, errX := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	j, errY := strconv.ParseInt(strings.TrimSpace(y), 10, 64)
	if errX != nil || errY != nil {
		return x == y
	}
	return i == j
}

func equalFloat(x, y string) bool {
	f, errX := strconv.ParseFloat(strings.TrimSpace(x), 64)
	g, errY := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if errX != nil || errY != nil {
		return x == y
	}
	return f == g
}

func columnSet(f *dataset.Frame) map[string]struct{} {
	out := make(map[string]struct{})
	if f == nil {
		return out
	}
	for _, c := range f.Columns {
		out[c] = struct{}{}
	}
	return out
}

func difference(left, right map[string]struct{}) []string {
	out := make([]string, 0)
	for k := range left {
		if _, ok := right[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
