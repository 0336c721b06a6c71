package recipients

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// utf8BOM is stripped from CSV input written by spreadsheet exporters.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readXLSX reads column A of the first worksheet of an Office Open XML workbook.
// Raw cell values are used so number formats never inject characters.
func readXLSX(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no worksheets", ErrDecode)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", ErrDecode, sheets[0], err)
	}

	column := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		column = append(column, row[0])
	}
	return column, nil
}

// readXLS reads column A of the first worksheet of a legacy BIFF workbook.
func readXLS(data []byte) (column []string, err error) {
	// The BIFF reader panics on some truncated streams.
	defer func() {
		if r := recover(); r != nil {
			column = nil
			err = fmt.Errorf("%w: malformed xls stream: %v", ErrDecode, r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("%w: workbook has no worksheets", ErrDecode)
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: first worksheet is unreadable", ErrDecode)
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		column = append(column, row.Col(0))
	}
	return column, nil
}

// readCSV reads the first field of every record of a comma-separated file.
func readCSV(data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var column []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if len(record) > 0 {
			column = append(column, record[0])
		}
	}
	return column, nil
}
