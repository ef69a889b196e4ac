package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// WriteExcel 写出 Excel 版日报（汇总页 + 座位明细页）
func WriteExcel(report *models.DailyReport, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := "汇总"
	f.SetSheetName("Sheet1", summary)

	summaryRows := [][]interface{}{
		{"日期", report.Date},
		{"总记录数", report.TotalRecords},
		{"总占用时长(秒)", report.TotalOccupiedSeconds},
		{"识别到的人数", report.DistinctPersonCount},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	detail := "座位统计"
	if _, err := f.NewSheet(detail); err != nil {
		return fmt.Errorf("failed to create detail sheet: %w", err)
	}

	header := []interface{}{"座位ID", "座位名称", "使用次数", "占用时长(秒)", "识别人数"}
	if err := f.SetSheetRow(detail, "A1", &header); err != nil {
		return fmt.Errorf("failed to write detail header: %w", err)
	}
	for i, s := range report.SeatStats {
		row := []interface{}{s.SeatID, s.SeatName, s.UseCount, s.TotalSeconds, s.DistinctPersonCount}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetSheetRow(detail, cell, &row); err != nil {
			return fmt.Errorf("failed to write detail row: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save excel report: %w", err)
	}
	return nil
}
