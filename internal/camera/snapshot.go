package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // 快照解码
	_ "image/png"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// SnapshotSource 通过 HTTP 快照接口轮询 IP 摄像头的帧源
//
// 故障分级：
// - 单次请求失败 → ErrTemporary（引擎跳过本帧，下个周期重试）
// - 连续失败超过 MaxFailures → ErrPermanent（摄像头断开，停止引擎）
type SnapshotSource struct {
	httpClient  *resty.Client
	url         string
	rotation    int
	maxFailures int
	logger      *zap.Logger

	mu       sync.Mutex
	failures int // 连续失败计数，成功后清零
}

// NewSnapshotSource 创建 HTTP 快照帧源
func NewSnapshotSource(cfg *config.CameraConfig, logger *zap.Logger) (*SnapshotSource, error) {
	if cfg.SnapshotURL == "" {
		return nil, fmt.Errorf("camera snapshot_url is required")
	}

	client := resty.New().
		SetTimeout(time.Duration(cfg.SnapshotTimeout) * time.Second).
		SetHeader("Accept", "image/jpeg")

	return &SnapshotSource{
		httpClient:  client,
		url:         cfg.SnapshotURL,
		rotation:    cfg.Rotation,
		maxFailures: cfg.MaxFailures,
		logger:      logger,
	}, nil
}

// Capture 采集一帧
func (s *SnapshotSource) Capture(ctx context.Context) (*models.Frame, error) {
	resp, err := s.httpClient.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, s.fail(fmt.Errorf("snapshot request failed: %v", err))
	}
	if resp.StatusCode() != 200 {
		return nil, s.fail(fmt.Errorf("snapshot request returned status %d", resp.StatusCode()))
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to decode snapshot: %v", err))
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	return &models.Frame{
		Image:     rotate(img, s.rotation),
		Timestamp: time.Now(),
	}, nil
}

// fail 记录一次失败并分级
func (s *SnapshotSource) fail(cause error) error {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()

	if s.maxFailures > 0 && n >= s.maxFailures {
		s.logger.Error("Camera permanently unavailable",
			zap.Int("consecutive_failures", n),
			zap.Error(cause),
		)
		return fmt.Errorf("%w: %v (after %d consecutive failures)", ErrPermanent, cause, n)
	}

	s.logger.Warn("Camera capture failed",
		zap.Int("consecutive_failures", n),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %v", ErrTemporary, cause)
}

// Close 释放资源
func (s *SnapshotSource) Close() error {
	return nil
}
