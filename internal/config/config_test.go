package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1280, cfg.Camera.Resolution.Width)
	assert.Equal(t, 0.5, cfg.Detection.OccupancyThreshold)
	assert.Len(t, cfg.Seats, 3)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"camera": {"framerate": 5, "snapshot_url": "http://cam.local/shot.jpg"},
		"detection": {"occupancy_threshold": 0.6, "debounce_window_seconds": 5},
		"web": {"port": 8080, "enable_remote": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.local:6379")
	t.Setenv("RECORDER_RETRY_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	// 文件覆盖默认值
	assert.Equal(t, 5, cfg.Camera.Framerate)
	assert.Equal(t, "http://cam.local/shot.jpg", cfg.Camera.SnapshotURL)
	assert.Equal(t, 0.6, cfg.Detection.OccupancyThreshold)
	assert.Equal(t, float64(5), cfg.Detection.DebounceWindowSeconds)
	assert.Equal(t, 8080, cfg.Web.Port)
	assert.True(t, cfg.Web.EnableRemote)

	// 环境变量覆盖基础设施配置
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Recorder.RetryAttempts)

	// 文件未覆盖的部分保持默认
	assert.Equal(t, 1280, cfg.Camera.Resolution.Width)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Camera.Framerate)
	assert.False(t, cfg.Redis.Enabled)
}

func TestValidate(t *testing.T) {
	region := func(x int) []models.Point {
		return []models.Point{{X: x, Y: 0}, {X: x + 100, Y: 0}, {X: x + 100, Y: 100}, {X: x, Y: 100}}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "负帧率",
			mutate:  func(cfg *Config) { cfg.Camera.Framerate = 0 },
			wantErr: "framerate",
		},
		{
			name:    "非法旋转角度",
			mutate:  func(cfg *Config) { cfg.Camera.Rotation = 45 },
			wantErr: "rotation",
		},
		{
			name:    "阈值越界",
			mutate:  func(cfg *Config) { cfg.Detection.OccupancyThreshold = 1.5 },
			wantErr: "occupancy_threshold",
		},
		{
			name:    "防抖窗口为零",
			mutate:  func(cfg *Config) { cfg.Detection.DebounceWindowSeconds = 0 },
			wantErr: "debounce_window_seconds",
		},
		{
			name:    "像素差阈值为零",
			mutate:  func(cfg *Config) { cfg.Detection.PixelDiffThreshold = 0 },
			wantErr: "pixel_diff_threshold",
		},
		{
			name:    "预热帧数为负",
			mutate:  func(cfg *Config) { cfg.Detection.WarmupFrames = -1 },
			wantErr: "warmup_frames",
		},
		{
			name:    "无座位",
			mutate:  func(cfg *Config) { cfg.Seats = nil },
			wantErr: "at least one seat",
		},
		{
			name: "座位ID重复",
			mutate: func(cfg *Config) {
				cfg.Seats = []models.SeatConfig{
					{SeatID: 1, SeatName: "A", Region: region(0)},
					{SeatID: 1, SeatName: "B", Region: region(200)},
				}
			},
			wantErr: "duplicate seat id",
		},
		{
			name: "区域少于3个点",
			mutate: func(cfg *Config) {
				cfg.Seats = []models.SeatConfig{
					{SeatID: 1, SeatName: "A", Region: []models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}},
				}
			},
			wantErr: "at least 3 points",
		},
		{
			name: "区域越出画面",
			mutate: func(cfg *Config) {
				cfg.Seats = []models.SeatConfig{
					{SeatID: 1, SeatName: "A", Region: []models.Point{{X: 0, Y: 0}, {X: 2000, Y: 0}, {X: 0, Y: 100}}},
				}
			},
			wantErr: "out of frame bounds",
		},
		{
			name: "区域重叠",
			mutate: func(cfg *Config) {
				cfg.Seats = []models.SeatConfig{
					{SeatID: 1, SeatName: "A", Region: region(0)},
					{SeatID: 2, SeatName: "B", Region: region(50)},
				}
			},
			wantErr: "overlap",
		},
		{
			name: "开启认证但缺少凭据",
			mutate: func(cfg *Config) {
				cfg.Web.AuthRequired = true
				cfg.Web.Username = ""
			},
			wantErr: "username/password",
		},
		{
			name:    "非法端口",
			mutate:  func(cfg *Config) { cfg.Web.Port = 70000 },
			wantErr: "web port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
