package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/animus-labs/datapilot/internal/domain"
)

// loadXLSX reads the first worksheet. The first row is the header; short
// rows are padded with nulls.
func loadXLSX(path string) (*Frame, error) {
	const op = "dataset.xlsx"
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.NewError(domain.KindValidation, op, "workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}
	if len(rows) == 0 {
		return nil, domain.NewError(domain.KindValidation, op, "dataset is empty")
	}

	columns := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		columns[i] = strings.TrimSpace(h)
	}
	frame := NewFrame(columns)
	if err := frame.validate(); err != nil {
		return nil, domain.WrapError(domain.KindValidation, op, err)
	}
	if len(columns) == 0 {
		return nil, domain.NewError(domain.KindValidation, op, "header row is empty")
	}
	for n, row := range rows[1:] {
		if len(row) > len(columns) {
			return nil, domain.NewError(domain.KindValidation, op, fmt.Sprintf("row %d has %d cells, want %d", n+2, len(row), len(columns)))
		}
		cells := make([]string, len(columns))
		copy(cells, row)
		if err := frame.AppendRow(cells...); err != nil {
			return nil, domain.WrapError(domain.KindValidation, op, err)
		}
	}
	return frame, nil
}
