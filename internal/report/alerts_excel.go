package report

import (
	"bytes"
	"fmt"
	"time"

	"herdwatch/internal/models"

	"github.com/xuri/excelize/v2"
)

const alertSheet = "Alerts"

// AlertExportHeader 告警导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Created At (UTC)",
	"Type",
	"Severity",
	"Title",
	"Animal",
	"Animal ID",
	"Message",
	"Read",
	"Resolved",
	"Resolved At (UTC)",
}

var alertColumnWidths = []float64{38, 20, 14, 10, 26, 18, 10, 48, 8, 10, 20}

const timeLayout = "2006-01-02 15:04:05"

// GenerateAlertExport 生成告警导出 Excel 文件；alerts 为空时只有表头
func GenerateAlertExport(alerts []models.AlertView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(alertSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 高级别告警整行标红
	highStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#C00000"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create severity style: %w", err)
	}

	header := make([]any, len(AlertExportHeader))
	for i, h := range AlertExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(alertSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(AlertExportHeader))
	if err != nil {
		return nil, fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(alertSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, width := range alertColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(alertSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, a := range alerts {
		row := i + 2 // 第1行是表头
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		values := alertRow(a)
		if err := f.SetSheetRow(alertSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if a.Severity == models.SeverityHigh {
			end := fmt.Sprintf("%s%d", lastCol, row)
			if err := f.SetCellStyle(alertSheet, cell, end, highStyle); err != nil {
				return nil, fmt.Errorf("failed to set row style: %w", err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(alertSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func alertRow(a models.AlertView) []any {
	return []any{
		a.ID,
		formatTime(&a.CreatedAt),
		string(a.Kind),
		string(a.Severity),
		a.Title,
		a.AnimalName,
		a.AnimalID,
		a.Message,
		yesNo(a.IsRead),
		yesNo(a.IsResolved),
		formatTime(a.ResolvedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
