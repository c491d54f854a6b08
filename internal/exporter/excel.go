package exporter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"wrdspanel/internal/frame"
)

// ExcelMaxRows is the worksheet row limit, header included.
const ExcelMaxRows = 1048576

// Sheet is one worksheet of a workbook.
type Sheet struct {
	Name  string
	Frame *frame.Frame
}

// WriteExcel writes one or more frames to an .xlsx workbook, one sheet each.
// Missing values are left as empty cells.
func WriteExcel(path string, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}
	for _, s := range sheets {
		if s.Frame.Len()+1 > ExcelMaxRows {
			return fmt.Errorf("sheet %q has %d rows, excel allows %d", s.Name, s.Frame.Len(), ExcelMaxRows-1)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	wb := excelize.NewFile()
	defer wb.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := wb.SetSheetName(wb.GetSheetName(0), s.Name); err != nil {
				return err
			}
		} else if _, err := wb.NewSheet(s.Name); err != nil {
			return err
		}
		if err := writeSheet(wb, s); err != nil {
			return fmt.Errorf("sheet %q: %w", s.Name, err)
		}
	}

	return wb.SaveAs(path)
}

func writeSheet(wb *excelize.File, s Sheet) error {
	sw, err := wb.NewStreamWriter(s.Name)
	if err != nil {
		return err
	}

	cols := s.Frame.Columns()
	header := make([]interface{}, len(cols))
	for j, c := range cols {
		header[j] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	row := make([]interface{}, len(cols))
	for i := 0; i < s.Frame.Len(); i++ {
		for j, c := range cols {
			row[j] = excelValue(c, i)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func excelValue(c *frame.Column, i int) interface{} {
	if c.IsMissing(i) {
		return nil
	}
	switch c.Kind {
	case frame.Float:
		v := c.Floats[i]
		if math.IsInf(v, 0) {
			return nil
		}
		return v
	case frame.Time:
		return c.Times[i].Format(frame.DateLayout)
	default:
		return c.Strings[i]
	}
}
