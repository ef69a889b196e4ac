package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
	"github.com/linyi1130/Lcm-monitor251004/internal/recorder"
)

// Generator 每日报告生成器
//
// 报告是当日记录文件的纯归约：同一份记录文件多次生成的报告内容完全一致，
// 任何一天的报告都可以事后用 Generate 重新生成。
type Generator struct {
	dataDir      string
	reportsDir   string
	excelEnabled bool
	logger       *zap.Logger
}

// NewGenerator 创建报告生成器
func NewGenerator(cfg *config.Config, logger *zap.Logger) (*Generator, error) {
	if err := os.MkdirAll(cfg.Data.ReportsDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}
	return &Generator{
		dataDir:      cfg.Data.DataDirectory,
		reportsDir:   cfg.Data.ReportsDirectory,
		excelEnabled: cfg.ReportExcelEnabled,
		logger:       logger,
	}, nil
}

// Aggregate 归约某日记录文件为日报
// 记录文件不存在时返回零值报告（当日无完整占用区间也是合法状态）
func Aggregate(dataDir string, date time.Time) (*models.DailyReport, error) {
	report := &models.DailyReport{
		Date:      date.Format("2006-01-02"),
		SeatStats: []models.SeatDailyStats{},
	}

	f, err := os.Open(recorder.FilePath(dataDir, date))
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err == io.EOF {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record header: %w", err)
	}
	if len(header) != len(recorder.Header) {
		return nil, fmt.Errorf("unexpected record header: %v", header)
	}

	type seatAcc struct {
		stats   models.SeatDailyStats
		persons map[string]bool
	}
	seats := make(map[int]*seatAcc)
	allPersons := make(map[string]bool)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record row: %w", err)
		}

		seatID, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("invalid seat_id %q: %w", row[0], err)
		}
		duration, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration_seconds %q: %w", row[4], err)
		}
		personID := row[5]

		acc, ok := seats[seatID]
		if !ok {
			acc = &seatAcc{
				stats:   models.SeatDailyStats{SeatID: seatID, SeatName: row[1]},
				persons: make(map[string]bool),
			}
			seats[seatID] = acc
		}
		acc.stats.UseCount++
		acc.stats.TotalSeconds += duration
		if personID != "" {
			acc.persons[personID] = true
			allPersons[personID] = true
		}

		report.TotalRecords++
		report.TotalOccupiedSeconds += duration
	}

	report.DistinctPersonCount = len(allPersons)
	for _, acc := range seats {
		acc.stats.DistinctPersonCount = len(acc.persons)
		report.SeatStats = append(report.SeatStats, acc.stats)
	}
	// 稳定排序，保证同一输入的报告字节一致
	sort.Slice(report.SeatStats, func(i, j int) bool {
		return report.SeatStats[i].SeatID < report.SeatStats[j].SeatID
	})

	return report, nil
}

// Generate 生成某日报告并写出产物（文本 + JSON，可选 Excel）
func (g *Generator) Generate(date time.Time) (*models.DailyReport, error) {
	report, err := Aggregate(g.dataDir, date)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily records: %w", err)
	}

	day := date.Format("20060102")

	txtPath := filepath.Join(g.reportsDir, fmt.Sprintf("daily_report_%s.txt", day))
	if err := os.WriteFile(txtPath, []byte(FormatText(report)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write text report: %w", err)
	}

	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	jsonPath := filepath.Join(g.reportsDir, fmt.Sprintf("daily_report_%s.json", day))
	if err := os.WriteFile(jsonPath, append(jsonData, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write json report: %w", err)
	}

	if g.excelEnabled {
		xlsxPath := filepath.Join(g.reportsDir, fmt.Sprintf("daily_report_%s.xlsx", day))
		if err := WriteExcel(report, xlsxPath); err != nil {
			// Excel 是附加产物，失败不影响报告生成
			g.logger.Warn("Failed to write excel report", zap.Error(err))
		}
	}

	g.logger.Info("Daily report generated",
		zap.String("date", report.Date),
		zap.Int("total_records", report.TotalRecords),
		zap.Float64("total_occupied_seconds", report.TotalOccupiedSeconds),
	)
	return report, nil
}

// FormatText 渲染文本版日报
func FormatText(report *models.DailyReport) string {
	var b strings.Builder
	line := strings.Repeat("=", 50)

	b.WriteString(line + "\n")
	b.WriteString(fmt.Sprintf("座位占用日报 - %s\n", report.Date))
	b.WriteString(line + "\n\n")
	b.WriteString(fmt.Sprintf("总记录数: %d\n", report.TotalRecords))
	b.WriteString(fmt.Sprintf("总占用时长: %s\n", formatDuration(report.TotalOccupiedSeconds)))
	b.WriteString(fmt.Sprintf("识别到的人数: %d\n\n", report.DistinctPersonCount))

	if len(report.SeatStats) == 0 {
		b.WriteString("当日无占用记录\n")
		return b.String()
	}

	b.WriteString("各座位统计:\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, s := range report.SeatStats {
		b.WriteString(fmt.Sprintf("%s (ID=%d)\n", s.SeatName, s.SeatID))
		b.WriteString(fmt.Sprintf("  使用次数: %d\n", s.UseCount))
		b.WriteString(fmt.Sprintf("  占用时长: %s\n", formatDuration(s.TotalSeconds)))
		b.WriteString(fmt.Sprintf("  识别人数: %d\n", s.DistinctPersonCount))
	}

	return b.String()
}

// formatDuration 时长展示为 "X小时Y分Z秒"
func formatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d小时%d分%d秒", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%d分%d秒", m, s)
	}
	return fmt.Sprintf("%d秒", s)
}
