package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/datapilot/internal/domain"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

// ContentType of the canonical snapshot encoding.
const ContentType = "text/csv"

// FormatFromPath picks the codec from the file extension. Parquet and xlsx
// are import-only; legacy .xls workbooks are rejected.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv", "txt":
		return FormatCSV, nil
	case "tsv", "tab":
		return FormatTSV, nil
	case "parquet":
		return FormatParquet, nil
	case "xlsx":
		return FormatXLSX, nil
	case "":
		return "", domain.NewError(domain.KindValidation, "dataset.format", fmt.Sprintf("%s has no file extension", path))
	default:
		return "", domain.NewError(domain.KindValidation, "dataset.format", fmt.Sprintf("unsupported file format %q", ext))
	}
}

func (f Format) delimited() bool {
	return f == FormatCSV || f == FormatTSV
}

func (f Format) delimiter() rune {
	if f == FormatTSV {
		return '\t'
	}
	return ','
}

// Load reads the file at path into a Frame.
func Load(path string) (*Frame, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.KindNotFound, "dataset.load", err)
		}
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	switch format {
	case FormatParquet:
		return loadParquet(path)
	case FormatXLSX:
		return loadXLSX(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = file.Close() }()
	return Read(file, format)
}

// Read decodes a delimited table with a header row.
func Read(r io.Reader, format Format) (*Frame, error) {
	if !format.delimited() {
		return nil, domain.NewError(domain.KindValidation, "dataset.read", fmt.Sprintf("%s is not a delimited format", format))
	}
	reader := csv.NewReader(r)
	reader.Comma = format.delimiter()
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewError(domain.KindValidation, "dataset.read", "dataset is empty")
	}
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, "dataset.read", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	frame := NewFrame(columns)
	if err := frame.validate(); err != nil {
		return nil, domain.WrapError(domain.KindValidation, "dataset.read", err)
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.WrapError(domain.KindValidation, "dataset.read", err)
		}
		if err := frame.AppendRow(record...); err != nil {
			return nil, domain.WrapError(domain.KindValidation, "dataset.read", err)
		}
	}
	return frame, nil
}

// Write encodes frame with a header row. Nulls become empty cells.
func Write(w io.Writer, frame *Frame, format Format) error {
	if !format.delimited() {
		return domain.NewError(domain.KindValidation, "dataset.write", fmt.Sprintf("cannot write %s", format))
	}
	writer := csv.NewWriter(w)
	writer.Comma = format.delimiter()
	if err := writer.Write(frame.Columns); err != nil {
		return err
	}
	record := make([]string, len(frame.Columns))
	for _, row := range frame.Rows {
		for i, v := range row {
			if v.Valid {
				record[i] = v.V
			} else {
				record[i] = ""
			}
		}
		if len(record) == 1 && record[0] == "" {
			// A lone empty field would be written as a blank line, which
			// readers skip.
			writer.Flush()
			if err := writer.Error(); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return err
			}
			continue
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFile writes frame to path in the format implied by its extension.
func WriteFile(path string, frame *Frame) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if !format.delimited() {
		return domain.NewError(domain.KindValidation, "dataset.write", fmt.Sprintf("cannot write %s", format))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(file, frame, format); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
