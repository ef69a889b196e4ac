package publisher

import (
	"sync/atomic"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// FrameSlot 最新帧槽位
//
// 单槽覆盖写：处理线程每帧 Store 一次，任意数量的观看端各自 Load。
// 没有队列也就没有背压，慢观看端只会错过中间帧，拿到的永远是最新帧。
type FrameSlot struct {
	latest atomic.Pointer[models.AnnotatedFrame]
}

// NewFrameSlot 创建空槽位
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Publish 覆盖写入最新帧（非阻塞）
func (s *FrameSlot) Publish(frame *models.AnnotatedFrame) {
	s.latest.Store(frame)
}

// Latest 读取最新帧，尚无帧时返回 nil
func (s *FrameSlot) Latest() *models.AnnotatedFrame {
	return s.latest.Load()
}
