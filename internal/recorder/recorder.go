package recorder

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// TimeLayout 记录文件中的时间格式（本地时间，ISO-8601 风格）
const TimeLayout = "2006-01-02T15:04:05"

// Header 记录文件表头
var Header = []string{"seat_id", "seat_name", "entry_time", "exit_time", "duration_seconds", "person_id"}

// Mirror 占用记录镜像接口（可选，如 PostgreSQL 仓库）
// 镜像失败只记日志，不影响记录结果
type Mirror interface {
	InsertRecord(ctx context.Context, record *models.OccupancyRecord) error
}

// Recorder 占用记录器
//
// 持久化保证：
// - 每日一个追加写文件，首条记录时惰性创建，按 exit_time 本地日期分文件
// - 单条记录一次原子追加（整行一次 Write），多座位并发确认出座时串行化写入
// - 返回成功前 fsync，进程崩溃不丢已确认记录
// - 写失败按指数退避重试，重试耗尽记为丢失并继续监控，绝不拖垮整个流水线
type Recorder struct {
	dataDir       string
	minDuration   float64
	retryAttempts int
	retryBackoff  time.Duration
	mirror        Mirror
	logger        *zap.Logger

	mu   sync.Mutex // 串行化追加，保证行不交错
	file *os.File
	day  string // 当前打开文件对应的日期（YYYYMMDD）
}

// New 创建记录器
// mirror 可为 nil（未启用数据库镜像）
func New(cfg *config.Config, mirror Mirror, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Data.DataDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Recorder{
		dataDir:       cfg.Data.DataDirectory,
		minDuration:   cfg.Detection.MinRecordDurationSeconds,
		retryAttempts: cfg.Recorder.RetryAttempts,
		retryBackoff:  time.Duration(cfg.Recorder.RetryBackoffMS) * time.Millisecond,
		mirror:        mirror,
		logger:        logger,
	}, nil
}

// FilePath 某日记录文件路径
func FilePath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, fmt.Sprintf("occupancy_records_%s.csv", date.Format("20060102")))
}

// Record 追加一条占用记录
//
// entry_time > exit_time 的记录直接拒绝；时长低于配置下限的记录丢弃（返回 nil）。
// 状态机是唯一调用方，每次确认出座恰好调用一次，因此不需要去重。
func (r *Recorder) Record(record *models.OccupancyRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.ExitTime.Before(record.EntryTime) {
		return fmt.Errorf("invalid record: entry_time %s after exit_time %s",
			record.EntryTime.Format(TimeLayout), record.ExitTime.Format(TimeLayout))
	}
	if record.DurationSeconds < r.minDuration {
		r.logger.Debug("Record below minimum duration, discarded",
			zap.Int("seat_id", record.SeatID),
			zap.Float64("duration_seconds", record.DurationSeconds),
		)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := encodeRow(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var lastErr error
	backoff := r.retryBackoff
	for attempt := 0; attempt <= r.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if lastErr = r.append(record.ExitTime, row); lastErr == nil {
			break
		}
		r.logger.Warn("Record append failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		// 句柄可能已失效，强制下次重开文件
		r.closeFileLocked()
	}
	if lastErr != nil {
		r.logger.Error("Record lost after retries exhausted",
			zap.Int("seat_id", record.SeatID),
			zap.String("entry_time", record.EntryTime.Format(TimeLayout)),
			zap.String("exit_time", record.ExitTime.Format(TimeLayout)),
			zap.Error(lastErr),
		)
		return fmt.Errorf("failed to append record: %w", lastErr)
	}

	// 数据库镜像（尽力而为）
	if r.mirror != nil {
		if err := r.mirror.InsertRecord(context.Background(), record); err != nil {
			r.logger.Warn("Failed to mirror record to database",
				zap.String("record_id", record.RecordID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// append 向当日文件追加一行（持锁调用）
func (r *Recorder) append(exitTime time.Time, row []byte) error {
	day := exitTime.Format("20060102")
	if r.file == nil || r.day != day {
		if err := r.openLocked(exitTime, day); err != nil {
			return err
		}
	}
	if _, err := r.file.Write(row); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	// 返回成功前落盘
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("fsync failed: %w", err)
	}
	return nil
}

// openLocked 打开（必要时创建）某日记录文件，新文件写入表头
func (r *Recorder) openLocked(exitTime time.Time, day string) error {
	r.closeFileLocked()

	path := FilePath(r.dataDir, exitTime)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}

	if isNew {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode header: %w", err)
		}
		w.Flush()
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return fmt.Errorf("failed to write header: %w", err)
		}
		r.logger.Info("Record file created", zap.String("path", path))
	}

	r.file = f
	r.day = day
	return nil
}

// closeFileLocked 关闭当前文件句柄（持锁调用）
func (r *Recorder) closeFileLocked() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
		r.day = ""
	}
}

// Close 关闭记录器（在途写入已由 Record 串行化，调用时已排空）
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFileLocked()
	return nil
}

// encodeRow 编码一行 CSV（整行一次写入，保证不交错）
func encodeRow(record *models.OccupancyRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	err := w.Write([]string{
		strconv.Itoa(record.SeatID),
		record.SeatName,
		record.EntryTime.Format(TimeLayout),
		record.ExitTime.Format(TimeLayout),
		strconv.FormatFloat(record.DurationSeconds, 'f', -1, 64),
		record.PersonID,
	})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
