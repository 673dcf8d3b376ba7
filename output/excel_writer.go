package output

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"tracksync/syncer"
)

const hoursColumn = 8

type ExcelWriter struct{}

func (w *ExcelWriter) Write(path string, records []syncer.Record) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	if err := file.SetSheetName(sheet, "Sync"); err != nil {
		return fmt.Errorf("rename excel sheet: %w", err)
	}
	sheet = "Sync"

	for col, header := range recordHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("set excel header %s: %w", cell, err)
		}
	}

	for i, record := range records {
		row := i + 2
		for col, value := range recordRow(record) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			var cellValue any = value
			if col+1 == hoursColumn && value != "" {
				if hours, err := decimal.NewFromString(value); err == nil {
					cellValue = hours.InexactFloat64()
				}
			}
			if err := file.SetCellValue(sheet, cell, cellValue); err != nil {
				return fmt.Errorf("set excel value %s: %w", cell, err)
			}
		}
	}

	if err := file.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze excel header: %w", err)
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save excel output %s: %w", path, err)
	}

	return nil
}
