package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// Statement layout
const (
	sheetName = "Statement"

	cellTitle     = "A1"
	cellReportID  = "B3"
	cellRentalID  = "B4"
	cellStatus    = "B5"
	cellApprover  = "B6"
	cellReference = "E3"
	cellMethod    = "E4"
	cellDueDate   = "E5"
	cellBilling   = "E6"

	headerRow   = 8
	lineRowBase = 9

	colSequence    = "A"
	colItem        = "B"
	colDescription = "C"
	colSeverity    = "D"
	colCategory    = "E"
	colCost        = "F"
)

// StatementExporter renders damage reports as xlsx workbooks
type StatementExporter struct {
	logger *zap.Logger
}

// NewStatementExporter creates a new exporter
func NewStatementExporter(logger *zap.Logger) *StatementExporter {
	return &StatementExporter{logger: logger}
}

// ExportDamageStatement builds the workbook in memory. record may be nil
// for reports that have not been billed yet.
func (e *StatementExporter) ExportDamageStatement(ctx context.Context, report *entity.DamageReport, record *entity.BillingRecord) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := e.fillHeader(file, report, record); err != nil {
		return nil, fmt.Errorf("failed to fill header: %w", err)
	}

	totalRow, err := e.fillLines(file, report.Damages)
	if err != nil {
		return nil, fmt.Errorf("failed to fill lines: %w", err)
	}

	if err := e.fillTotals(file, report, totalRow); err != nil {
		return nil, fmt.Errorf("failed to fill totals: %w", err)
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Damage statement exported",
		zap.Int64("report_id", report.ID),
		zap.Int("line_count", len(report.Damages)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (e *StatementExporter) fillHeader(file *excelize.File, report *entity.DamageReport, record *entity.BillingRecord) error {
	cells := map[string]interface{}{
		cellTitle:    "Damage Statement",
		"A3":         "Report",
		cellReportID: report.ID,
		"A4":         "Rental",
		cellRentalID: report.RentalID,
		"A5":         "Status",
		cellStatus:   string(report.Status),
		"A6":         "Approved by",
		cellApprover: report.ApprovedBy,
	}

	if record != nil {
		cells["D3"] = "Reference"
		cells[cellReference] = record.Reference
		cells["D4"] = "Method"
		cells[cellMethod] = string(record.Method)
		cells["D5"] = "Due date"
		cells[cellDueDate] = record.DueDate.Format(time.DateOnly)
		cells["D6"] = "Billing status"
		cells[cellBilling] = string(record.Status)
	}

	for cell, value := range cells {
		if err := file.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", cell, err)
		}
	}
	return nil
}

// fillLines writes one row per damage line and returns the first free row
func (e *StatementExporter) fillLines(file *excelize.File, lines []entity.DamageLine) (int, error) {
	headers := []interface{}{"#", "Item", "Description", "Severity", "Category", "Repair cost"}
	if err := file.SetSheetRow(sheetName, fmt.Sprintf("%s%d", colSequence, headerRow), &headers); err != nil {
		return 0, fmt.Errorf("failed to set header row: %w", err)
	}

	row := lineRowBase
	for i, line := range lines {
		cost, _ := line.RepairCost.Float64()
		values := map[string]interface{}{
			colSequence:    i + 1,
			colItem:        line.ItemName,
			colDescription: line.Description,
			colSeverity:    string(line.Severity),
			colCategory:    string(line.Category),
			colCost:        cost,
		}
		for col, value := range values {
			cell := fmt.Sprintf("%s%d", col, row)
			if err := file.SetCellValue(sheetName, cell, value); err != nil {
				return 0, fmt.Errorf("failed to set %s: %w", cell, err)
			}
		}
		row++
	}
	return row, nil
}

func (e *StatementExporter) fillTotals(file *excelize.File, report *entity.DamageReport, row int) error {
	type entry struct {
		label string
		value string
	}
	entries := []entry{{"Total repair cost", report.TotalCost.StringFixed(2)}}
	if report.BillingReference != "" {
		entries = append(entries,
			entry{"Discount %", report.BillingDiscountPct.String()},
		)
		for _, fee := range report.BillingFees {
			entries = append(entries, entry{"Fee: " + fee.Name, fee.Amount.StringFixed(2)})
		}
		entries = append(entries, entry{"Amount billed", report.BillingAmount.StringFixed(2)})
	}

	for i, en := range entries {
		r := row + 1 + i
		if err := file.SetCellValue(sheetName, fmt.Sprintf("%s%d", colCategory, r), en.label); err != nil {
			return err
		}
		if err := file.SetCellValue(sheetName, fmt.Sprintf("%s%d", colCost, r), en.value); err != nil {
			return err
		}
	}
	return nil
}

var _ port.StatementExporter = (*StatementExporter)(nil)
