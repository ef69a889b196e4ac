package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// ReplaySource 回放帧源：按顺序提供预置的帧序列（用于测试和离线回放）
type ReplaySource struct {
	mu     sync.Mutex
	frames []*models.Frame
	pos    int
	loop   bool
}

// NewReplaySource 创建回放帧源
// loop 为 true 时帧序列循环播放，否则播放完返回 ErrPermanent
func NewReplaySource(frames []*models.Frame, loop bool) *ReplaySource {
	return &ReplaySource{frames: frames, loop: loop}
}

// Capture 返回序列中的下一帧
func (s *ReplaySource) Capture(ctx context.Context) (*models.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return nil, ErrPermanent
	}
	if s.pos >= len(s.frames) {
		if !s.loop {
			return nil, fmt.Errorf("%w: replay exhausted", ErrPermanent)
		}
		s.pos = 0
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// Close 释放资源
func (s *ReplaySource) Close() error {
	return nil
}
