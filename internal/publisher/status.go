package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// StatusPublisher 实时状态发布器（Redis）
//
// 座位实时状态写入带 TTL 的键，进程异常退出后状态自动过期；
// 状态转换事件追加到 Stream 供下游消费。
// 发布失败只记日志，绝不影响检测与记录。
type StatusPublisher struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *zap.Logger
}

// NewStatusPublisher 创建实时状态发布器
func NewStatusPublisher(cfg config.RedisConfig, logger *zap.Logger) (*StatusPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &StatusPublisher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// statusKey 座位实时状态键
func (p *StatusPublisher) statusKey(seatID int) string {
	return fmt.Sprintf("%s%d%s", p.cfg.StatusKeyPrefix, seatID, p.cfg.StatusSuffix)
}

// PublishStatus 写入座位实时状态（带 TTL）
func (p *StatusPublisher) PublishStatus(ctx context.Context, status *models.SeatRealtimeStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal seat status: %w", err)
	}

	key := p.statusKey(status.SeatID)
	ttl := time.Duration(p.cfg.StatusTTL) * time.Second
	if err := p.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set seat status: %w", err)
	}
	return nil
}

// PublishEvent 追加状态转换事件到事件流
func (p *StatusPublisher) PublishEvent(ctx context.Context, event *models.TransitionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.EventStream,
		Values: map[string]interface{}{
			"seat_id": event.SeatID,
			"to":      string(event.To),
			"event":   string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append transition event: %w", err)
	}

	p.logger.Debug("Transition event published",
		zap.Int("seat_id", event.SeatID),
		zap.String("to", string(event.To)),
	)
	return nil
}

// Close 关闭 Redis 连接
func (p *StatusPublisher) Close() error {
	return p.client.Close()
}
