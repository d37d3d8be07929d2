package dataset

import (
	"strconv"
	"strings"

	"github.com/animus-labs/datapilot/internal/domain"
)

const (
	DTypeInt64   = "Int64"
	DTypeFloat64 = "Float64"
	DTypeBoolean = "Boolean"
	DTypeUtf8    = "Utf8"
	DTypeNull    = "Null"
)

// Profile loads the snapshot at path and summarizes it.
func Profile(path string) (domain.SnapshotMetadata, error) {
	frame, err := Load(path)
	if err != nil {
		return domain.SnapshotMetadata{}, err
	}
	return frame.Profile(), nil
}

// Profile summarizes the frame: shape, inferred column types, null counts and
// an estimate of its in-memory columnar size.
func (f *Frame) Profile() domain.SnapshotMetadata {
	meta := domain.SnapshotMetadata{
		Rows:        f.NumRows(),
		Columns:     f.NumColumns(),
		ColumnNames: append([]string{}, f.Columns...),
		DTypes:      make(map[string]string, len(f.Columns)),
		NullCounts:  make(map[string]int, len(f.Columns)),
	}
	for _, name := range f.Columns {
		values, _ := f.Column(name)
		dtype := InferDType(values)
		nulls := 0
		for _, v := range values {
			if !v.Valid {
				nulls++
			}
		}
		meta.DTypes[name] = dtype
		meta.NullCounts[name] = nulls
		meta.EstimatedSize += estimateColumnSize(dtype, values, nulls)
	}
	return meta
}

// InferDType returns the narrowest type every non-null value parses as.
func InferDType(values []Value) string {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, v := range values {
		if !v.Valid {
			continue
		}
		seen = true
		s := strings.TrimSpace(v.V)
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(s) {
			case "true", "false":
			default:
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return DTypeUtf8
		}
	}
	switch {
	case !seen:
		return DTypeNull
	case isInt:
		return DTypeInt64
	case isFloat:
		return DTypeFloat64
	case isBool:
		return DTypeBoolean
	default:
		return DTypeUtf8
	}
}

func estimateColumnSize(dtype string, values []Value, nulls int) int64 {
	n := int64(len(values))
	var size int64
	switch dtype {
	case DTypeInt64, DTypeFloat64:
		size = 8 * n
	case DTypeBoolean:
		size = (n + 7) / 8
	case DTypeNull:
		return 0
	default:
		size = 4 * (n + 1)
		for _, v := range values {
			size += int64(len(v.V))
		}
	}
	if nulls > 0 {
		size += (n + 7) / 8
	}
	return size
}
