package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// CameraConfig 摄像头配置
type CameraConfig struct {
	Resolution struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resolution"`
	Framerate int `json:"framerate"`
	Rotation  int `json:"rotation"` // 0/90/180/270

	// 帧来源：通过 HTTP 快照接口轮询 IP 摄像头
	SnapshotURL     string `json:"snapshot_url"`
	SnapshotTimeout int    `json:"snapshot_timeout_seconds"` // 单次请求超时（秒）
	MaxFailures     int    `json:"max_failures"`             // 连续失败次数，超过视为永久不可用
}

// DetectionConfig 检测配置
type DetectionConfig struct {
	OccupancyThreshold       float64 `json:"occupancy_threshold"`          // 存在分数阈值 (0,1)
	DebounceWindowSeconds    float64 `json:"debounce_window_seconds"`      // 防抖窗口
	DetectionIntervalSeconds float64 `json:"detection_interval_seconds"`   // 人脸识别节流间隔（每座位）
	MinRecordDurationSeconds float64 `json:"min_record_duration_seconds"`  // 低于此时长的记录丢弃
	PixelDiffThreshold       float64 `json:"pixel_diff_threshold"`         // 像素亮度差判定阈值
	BackgroundAlpha          float64 `json:"background_alpha"`             // 背景模型指数衰减速率（慢）
	WarmupFrames             int     `json:"warmup_frames"`                // 背景模型收敛前的帧数
	FaceRecognitionTolerance float64 `json:"face_recognition_tolerance"`   // 人脸匹配距离容差
	FaceRecognitionEnabled   bool    `json:"face_recognition_enabled"`     // 是否启用人脸识别
}

// DataConfig 数据存储配置
type DataConfig struct {
	DataDirectory       string `json:"data_directory"`
	ReportsDirectory    string `json:"reports_directory"`
	KnownFacesDirectory string `json:"known_faces_directory"`
	SaveInterval        int    `json:"save_interval"` // 状态快照保存间隔（秒）
}

// WebConfig Web 服务配置
type WebConfig struct {
	Port         int    `json:"port"`
	EnableRemote bool   `json:"enable_remote"` // 仅影响绑定地址，不影响核心行为
	AuthRequired bool   `json:"auth_required"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// RedisConfig Redis 配置（实时状态缓存 + 事件流，可选）
type RedisConfig struct {
	Enabled         bool
	Addr            string
	Password        string
	DB              int
	StatusKeyPrefix string // 实时状态缓存键前缀，如 "seat-monitor:seat:"
	StatusSuffix    string // 实时状态缓存键后缀，如 ":realtime"
	StatusTTL       int    // 实时状态 TTL（秒）
	EventStream     string // 占用事件流名称
}

// MQTTConfig MQTT 配置（状态转换事件发布，可选）
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // 发布主题前缀，如 "seat"（主题格式 seat/{seat_id}/event）
	QoS         byte
}

// DatabaseConfig PostgreSQL 配置（占用记录镜像，可选）
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// MatcherConfig 人脸识别服务配置
type MatcherConfig struct {
	ServiceURL string // 人脸编码服务地址
	Timeout    int    // 请求超时（秒）
}

// RecorderConfig 记录器配置
type RecorderConfig struct {
	RetryAttempts  int // 写入失败重试次数
	RetryBackoffMS int // 重试退避基础时长（毫秒，指数递增）
}

// Config 座位监控系统配置
type Config struct {
	Camera    CameraConfig        `json:"camera"`
	Detection DetectionConfig     `json:"detection"`
	Seats     []models.SeatConfig `json:"seats"`
	Data      DataConfig          `json:"data"`
	Web       WebConfig           `json:"web"`

	// 基础设施配置（仅从环境变量加载）
	Redis    RedisConfig    `json:"-"`
	MQTT     MQTTConfig     `json:"-"`
	Database DatabaseConfig `json:"-"`
	Matcher  MatcherConfig  `json:"-"`
	Recorder RecorderConfig `json:"-"`

	Log struct {
		Level  string
		Format string
	} `json:"-"`

	ReportExcelEnabled bool `json:"-"`
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.Camera.Resolution.Width = 1280
	cfg.Camera.Resolution.Height = 720
	cfg.Camera.Framerate = 10
	cfg.Camera.Rotation = 0
	cfg.Camera.SnapshotTimeout = 5
	cfg.Camera.MaxFailures = 30

	cfg.Detection.OccupancyThreshold = 0.5
	cfg.Detection.DebounceWindowSeconds = 3
	cfg.Detection.DetectionIntervalSeconds = 5
	cfg.Detection.MinRecordDurationSeconds = 10
	cfg.Detection.PixelDiffThreshold = 25
	cfg.Detection.BackgroundAlpha = 0.01
	cfg.Detection.WarmupFrames = 30
	cfg.Detection.FaceRecognitionTolerance = 0.6
	cfg.Detection.FaceRecognitionEnabled = false

	cfg.Seats = []models.SeatConfig{
		{SeatID: 1, SeatName: "座位1", Region: []models.Point{{X: 100, Y: 150}, {X: 300, Y: 150}, {X: 300, Y: 350}, {X: 100, Y: 350}}},
		{SeatID: 2, SeatName: "座位2", Region: []models.Point{{X: 350, Y: 150}, {X: 550, Y: 150}, {X: 550, Y: 350}, {X: 350, Y: 350}}},
		{SeatID: 3, SeatName: "座位3", Region: []models.Point{{X: 600, Y: 150}, {X: 800, Y: 150}, {X: 800, Y: 350}, {X: 600, Y: 350}}},
	}

	cfg.Data.DataDirectory = "data"
	cfg.Data.ReportsDirectory = "reports"
	cfg.Data.KnownFacesDirectory = "known_faces"
	cfg.Data.SaveInterval = 60

	cfg.Web.Port = 5000
	cfg.Web.EnableRemote = false
	cfg.Web.AuthRequired = false
	cfg.Web.Username = "admin"
	cfg.Web.Password = "admin"

	return cfg
}

// Load 加载配置：先读取 JSON 配置文件（路径来自 CONFIG_FILE，默认 config.json），
// 文件不存在时使用默认配置；基础设施部分从环境变量加载
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE", "config.json")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// 摄像头快照地址允许环境变量覆盖（部署时常用）
	if url := os.Getenv("CAMERA_SNAPSHOT_URL"); url != "" {
		cfg.Camera.SnapshotURL = url
	}

	// Redis 配置（默认禁用）
	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)
	cfg.Redis.StatusKeyPrefix = getEnv("REDIS_STATUS_PREFIX", "seat-monitor:seat:")
	cfg.Redis.StatusSuffix = ":realtime"
	cfg.Redis.StatusTTL = parseInt(getEnv("REDIS_STATUS_TTL", "30"), 30)
	cfg.Redis.EventStream = getEnv("REDIS_EVENT_STREAM", "seat-monitor:events")

	// MQTT 配置（默认禁用）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "seat-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "seat")
	cfg.MQTT.QoS = 1

	// 数据库配置（记录镜像，默认禁用）
	cfg.Database.Enabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "seatmonitor")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	// 人脸识别服务配置
	cfg.Matcher.ServiceURL = getEnv("FACE_SERVICE_URL", "http://localhost:8500")
	cfg.Matcher.Timeout = parseInt(getEnv("FACE_SERVICE_TIMEOUT", "10"), 10)

	// 记录器重试配置
	cfg.Recorder.RetryAttempts = parseInt(getEnv("RECORDER_RETRY_ATTEMPTS", "3"), 3)
	cfg.Recorder.RetryBackoffMS = parseInt(getEnv("RECORDER_RETRY_BACKOFF_MS", "100"), 100)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.ReportExcelEnabled = getEnv("REPORT_EXCEL_ENABLED", "false") == "true"

	return cfg, nil
}

// Validate 校验配置，非法配置在任何检测开始前拒绝
func (c *Config) Validate() error {
	if c.Camera.Resolution.Width <= 0 || c.Camera.Resolution.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d",
			c.Camera.Resolution.Width, c.Camera.Resolution.Height)
	}
	if c.Camera.Framerate <= 0 {
		return fmt.Errorf("camera framerate must be positive, got %d", c.Camera.Framerate)
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera rotation must be one of 0/90/180/270, got %d", c.Camera.Rotation)
	}

	if c.Detection.OccupancyThreshold <= 0 || c.Detection.OccupancyThreshold >= 1 {
		return fmt.Errorf("occupancy_threshold must be in (0,1), got %f", c.Detection.OccupancyThreshold)
	}
	if c.Detection.DebounceWindowSeconds <= 0 {
		return fmt.Errorf("debounce_window_seconds must be positive, got %f", c.Detection.DebounceWindowSeconds)
	}
	if c.Detection.DetectionIntervalSeconds <= 0 {
		return fmt.Errorf("detection_interval_seconds must be positive, got %f", c.Detection.DetectionIntervalSeconds)
	}
	if c.Detection.MinRecordDurationSeconds < 0 {
		return fmt.Errorf("min_record_duration_seconds must be non-negative, got %f", c.Detection.MinRecordDurationSeconds)
	}
	if c.Detection.PixelDiffThreshold <= 0 {
		return fmt.Errorf("pixel_diff_threshold must be positive, got %f", c.Detection.PixelDiffThreshold)
	}
	if c.Detection.BackgroundAlpha <= 0 || c.Detection.BackgroundAlpha >= 1 {
		return fmt.Errorf("background_alpha must be in (0,1), got %f", c.Detection.BackgroundAlpha)
	}
	if c.Detection.WarmupFrames <= 0 {
		return fmt.Errorf("warmup_frames must be positive, got %d", c.Detection.WarmupFrames)
	}
	if c.Detection.FaceRecognitionTolerance <= 0 {
		return fmt.Errorf("face_recognition_tolerance must be positive, got %f", c.Detection.FaceRecognitionTolerance)
	}

	if len(c.Seats) == 0 {
		return fmt.Errorf("at least one seat must be configured")
	}
	seen := make(map[int]bool)
	for _, seat := range c.Seats {
		if seen[seat.SeatID] {
			return fmt.Errorf("duplicate seat id: %d", seat.SeatID)
		}
		seen[seat.SeatID] = true
		if seat.SeatName == "" {
			return fmt.Errorf("seat %d: name is required", seat.SeatID)
		}
		if len(seat.Region) < 3 {
			return fmt.Errorf("seat %d: region must have at least 3 points", seat.SeatID)
		}
		for _, p := range seat.Region {
			if p.X < 0 || p.Y < 0 || p.X > c.Camera.Resolution.Width || p.Y > c.Camera.Resolution.Height {
				return fmt.Errorf("seat %d: region point (%d,%d) out of frame bounds", seat.SeatID, p.X, p.Y)
			}
		}
	}
	// 区域重叠检查（按外接矩形判定）
	for i := 0; i < len(c.Seats); i++ {
		for j := i + 1; j < len(c.Seats); j++ {
			if boundsOverlap(c.Seats[i].Region, c.Seats[j].Region) {
				return fmt.Errorf("seat regions overlap: seat %d and seat %d",
					c.Seats[i].SeatID, c.Seats[j].SeatID)
			}
		}
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Web.AuthRequired && (c.Web.Username == "" || c.Web.Password == "") {
		return fmt.Errorf("web auth enabled but username/password not set")
	}

	if c.Data.DataDirectory == "" || c.Data.ReportsDirectory == "" {
		return fmt.Errorf("data and reports directories are required")
	}

	return nil
}

// boundsOverlap 判断两个区域的外接矩形是否重叠
func boundsOverlap(a, b []models.Point) bool {
	ax1, ay1, ax2, ay2 := bounds(a)
	bx1, by1, bx2, by2 := bounds(b)
	return ax1 < bx2 && bx1 < ax2 && ay1 < by2 && by1 < ay2
}

func bounds(region []models.Point) (minX, minY, maxX, maxY int) {
	minX, minY = region[0].X, region[0].Y
	maxX, maxY = region[0].X, region[0].Y
	for _, p := range region[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultValue
}
