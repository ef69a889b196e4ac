package models

import (
	"image"
	"time"
)

// SeatStatus 座位占用状态
type SeatStatus string

const (
	// StatusEmpty 空闲状态（初始状态）
	StatusEmpty SeatStatus = "EMPTY"
	// StatusOccupied 占用状态
	StatusOccupied SeatStatus = "OCCUPIED"
)

// Point 帧坐标系中的一个点
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SeatConfig 座位配置（只读，启动时加载，运行期间不变）
type SeatConfig struct {
	SeatID   int     `json:"id"`
	SeatName string  `json:"name"`
	Region   []Point `json:"region"` // 帧坐标系中的多边形区域
}

// Frame 带时间戳的摄像头帧
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// AnnotatedFrame 叠加了座位状态标注的帧（JPEG 编码）
// 由 Live View Publisher 的 latest-frame slot 持有，覆盖写入
type AnnotatedFrame struct {
	JPEG      []byte
	Timestamp time.Time
}

// PresenceSample 单帧单座位的存在信号（瞬态数据，不持久化）
type PresenceSample struct {
	SeatID    int
	Timestamp time.Time
	Score     float64 // 存在置信度 [0,1]
	Converged bool    // 背景模型是否已收敛（未收敛的样本不触发状态转换）
	Identity  string  // 身份标识，UNKNOWN 时为空字符串
}

// PendingTransition 待确认的状态转换（防抖窗口内的候选转换）
// 不变式：Status 必须与当前状态不同
type PendingTransition struct {
	Status SeatStatus `json:"status"`
	Since  time.Time  `json:"since"`
}

// SeatState 单个座位的状态（由其状态机独占持有）
type SeatState struct {
	SeatID          int                `json:"seat_id"`
	CurrentStatus   SeatStatus         `json:"current_status"`
	StatusSince     time.Time          `json:"status_since"`
	Pending         *PendingTransition `json:"pending,omitempty"`
	CurrentIdentity string             `json:"current_identity,omitempty"` // 确认占用时设置，转空闲时清除
}

// OccupancyRecord 已完成的占用区间记录（写入后不可变）
type OccupancyRecord struct {
	RecordID        string    `json:"record_id"` // UUID，用于数据库镜像和事件流去重
	SeatID          int       `json:"seat_id"`
	SeatName        string    `json:"seat_name"`
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
	DurationSeconds float64   `json:"duration_seconds"` // 不变式：>= 0
	PersonID        string    `json:"person_id"`        // 身份未知时为空
}

// SeatDailyStats 单个座位的每日统计
type SeatDailyStats struct {
	SeatID              int     `json:"seat_id"`
	SeatName            string  `json:"seat_name"`
	UseCount            int     `json:"use_count"`
	DistinctPersonCount int     `json:"distinct_person_count"`
	TotalSeconds        float64 `json:"total_seconds"`
}

// DailyReport 每日汇总报告（由当日记录纯归约生成，可重复再生）
type DailyReport struct {
	Date                 string           `json:"date"` // YYYY-MM-DD
	TotalRecords         int              `json:"total_records"`
	DistinctPersonCount  int              `json:"distinct_person_count"`
	TotalOccupiedSeconds float64          `json:"total_occupied_seconds"`
	SeatStats            []SeatDailyStats `json:"seat_stats"` // 按 seat_id 升序（保证重建结果字节一致）
}

// SeatRealtimeStatus 座位实时状态（用于 /status 接口和 Redis 缓存）
type SeatRealtimeStatus struct {
	SeatID    int        `json:"seat_id"`
	SeatName  string     `json:"seat_name"`
	Status    SeatStatus `json:"status"`
	Since     time.Time  `json:"since"`
	PersonID  string     `json:"person_id,omitempty"`
	Score     float64    `json:"score"`
	Timestamp int64      `json:"timestamp"`
}

// TransitionEvent 状态转换事件（发布到 Redis Streams / MQTT）
type TransitionEvent struct {
	SeatID    int        `json:"seat_id"`
	SeatName  string     `json:"seat_name"`
	From      SeatStatus `json:"from"`
	To        SeatStatus `json:"to"`
	At        time.Time  `json:"at"`
	PersonID  string     `json:"person_id,omitempty"`
	RecordID  string     `json:"record_id,omitempty"` // 仅 OCCUPIED→EMPTY 转换携带
	Timestamp int64      `json:"timestamp"`
}
