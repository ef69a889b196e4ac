package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// Open 建立 PostgreSQL 连接
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OccupancyRepository 占用记录数据库仓库
//
// CSV 日文件是权威存储，数据库只是查询镜像：
// 写入失败不影响记录结果，record_id 唯一约束保证重复插入幂等。
type OccupancyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOccupancyRepository 创建占用记录仓库
func NewOccupancyRepository(db *sql.DB, logger *zap.Logger) *OccupancyRepository {
	return &OccupancyRepository{
		db:     db,
		logger: logger,
	}
}

// InsertRecord 插入一条占用记录（record_id 冲突时跳过，幂等）
func (r *OccupancyRepository) InsertRecord(ctx context.Context, record *models.OccupancyRecord) error {
	query := `
		INSERT INTO occupancy_records (
			record_id, seat_id, seat_name, entry_time, exit_time, duration_seconds, person_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (record_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		record.SeatID,
		record.SeatName,
		record.EntryTime,
		record.ExitTime,
		record.DurationSeconds,
		record.PersonID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert occupancy record: %w", err)
	}

	r.logger.Debug("Occupancy record mirrored",
		zap.String("record_id", record.RecordID),
		zap.Int("seat_id", record.SeatID),
	)
	return nil
}

// GetRecordsByDate 查询某日的占用记录（按 exit_time 升序）
func (r *OccupancyRepository) GetRecordsByDate(ctx context.Context, date time.Time) ([]*models.OccupancyRecord, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT record_id, seat_id, seat_name, entry_time, exit_time, duration_seconds, person_id
		FROM occupancy_records
		WHERE exit_time >= $1 AND exit_time < $2
		ORDER BY exit_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy records: %w", err)
	}
	defer rows.Close()

	var records []*models.OccupancyRecord
	for rows.Next() {
		record := &models.OccupancyRecord{}
		if err := rows.Scan(
			&record.RecordID,
			&record.SeatID,
			&record.SeatName,
			&record.EntryTime,
			&record.ExitTime,
			&record.DurationSeconds,
			&record.PersonID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate occupancy records: %w", err)
	}

	return records, nil
}
