package dataset

import (
	"fmt"
	"strconv"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/animus-labs/datapilot/internal/domain"
)

const parquetReadParallelism = 4

// loadParquet reads a flat parquet file column by column. Nested and
// repeated fields are rejected.
func loadParquet(path string) (frame *Frame, err error) {
	const op = "dataset.parquet"
	// parquet-go panics on some malformed footers and pages.
	defer func() {
		if r := recover(); r != nil {
			frame, err = nil, domain.NewError(domain.KindValidation, op, fmt.Sprintf("malformed parquet file: %v", r))
		}
	}()

	pf, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer func() { _ = pf.Close() }()

	pr, err := reader.NewParquetColumnReader(pf, parquetReadParallelism)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}
	defer pr.ReadStop()

	columns, paths, err := parquetColumns(pr)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}
	frame = NewFrame(columns)
	if err := frame.validate(); err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}

	numRows := pr.GetNumRows()
	cells := make([][]string, numRows)
	for i := range cells {
		cells[i] = make([]string, len(columns))
	}
	for c, path := range paths {
		values, _, _, err := pr.ReadColumnByPath(path, numRows)
		if err != nil {
			return nil, domain.WrapError(domain.KindValidation, op, fmt.Errorf("read column %s: %w", columns[c], err))
		}
		if int64(len(values)) != numRows {
			return nil, domain.NewError(domain.KindValidation, op, fmt.Sprintf("column %s has %d values, want %d", columns[c], len(values), numRows))
		}
		for r, v := range values {
			cells[r][c] = formatParquetValue(v)
		}
	}
	for _, row := range cells {
		if err := frame.AppendRow(row...); err != nil {
			return nil, domain.WrapError(domain.KindValidation, op, err)
		}
	}
	return frame, nil
}

// parquetColumns returns the external names and reader paths of the leaf
// columns, in schema order.
func parquetColumns(pr *reader.ParquetReader) ([]string, []string, error) {
	elements := pr.SchemaHandler.SchemaElements
	var names, paths []string
	for i := 1; i < len(elements) && i < len(pr.SchemaHandler.Infos); i++ {
		el := elements[i]
		name := pr.SchemaHandler.Infos[i].ExName
		if el.GetNumChildren() > 0 {
			return nil, nil, fmt.Errorf("nested column %s is not supported", name)
		}
		if el.GetRepetitionType() == parquet.FieldRepetitionType_REPEATED {
			return nil, nil, fmt.Errorf("repeated column %s is not supported", name)
		}
		names = append(names, name)
		paths = append(paths, pr.SchemaHandler.IndexMap[int32(i)])
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("parquet file has no columns")
	}
	return names, paths, nil
}

// formatParquetValue renders a physical parquet value as a cell. Nulls come
// back as nil and become empty cells.
func formatParquetValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
