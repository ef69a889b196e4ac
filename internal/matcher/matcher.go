package matcher

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
)

// matchJob 一次异步识别任务
type matchJob struct {
	seatID int
	crop   image.Image
	at     time.Time
}

// Result 某座位最近一次识别结果
type Result struct {
	PersonID string // UNKNOWN 为空字符串
	At       time.Time
}

// Matcher 异步节流的身份匹配器
//
// 识别是流水线中最昂贵的操作，必须脱离帧采集路径执行：
// - Request 非阻塞：每座位最多每 detection_interval 提交一次，任务排队满则丢弃
// - 识别在独立 worker goroutine 中执行，结果供下一次状态机评估读取
// - 匹配器不可用（禁用或服务故障）时全部座位降级为 UNKNOWN，检测不受影响
type Matcher struct {
	enabled   bool
	client    *FaceClient
	gallery   *Gallery
	tolerance float64
	interval  time.Duration
	logger    *zap.Logger

	jobs chan matchJob
	wg   sync.WaitGroup

	mu          sync.RWMutex
	results     map[int]Result    // seat_id → 最近识别结果
	lastRequest map[int]time.Time // seat_id → 最近一次提交时间
	inFlight    map[int]bool      // seat_id → 是否有任务在执行
}

// New 创建身份匹配器
// 禁用时返回的实例所有查询均为 UNKNOWN
func New(cfg *config.Config, logger *zap.Logger) (*Matcher, error) {
	m := &Matcher{
		enabled:     cfg.Detection.FaceRecognitionEnabled,
		tolerance:   cfg.Detection.FaceRecognitionTolerance,
		interval:    time.Duration(cfg.Detection.DetectionIntervalSeconds * float64(time.Second)),
		logger:      logger,
		jobs:        make(chan matchJob, 16),
		results:     make(map[int]Result),
		lastRequest: make(map[int]time.Time),
		inFlight:    make(map[int]bool),
	}

	if !m.enabled {
		logger.Info("Identity matching disabled")
		return m, nil
	}

	m.client = NewFaceClient(
		cfg.Matcher.ServiceURL,
		time.Duration(cfg.Matcher.Timeout)*time.Second,
		logger,
	)

	gallery, err := LoadGallery(cfg.Data.KnownFacesDirectory, m.client, logger)
	if err != nil {
		// 库加载失败降级为 UNKNOWN，不阻止监控启动
		logger.Error("Failed to load face gallery, identity matching degraded", zap.Error(err))
		m.enabled = false
		return m, nil
	}
	m.gallery = gallery
	logger.Info("Face gallery loaded", zap.Int("known_faces", gallery.Size()))

	return m, nil
}

// Start 启动识别 worker（单 worker，识别本身串行即可满足节流要求）
func (m *Matcher) Start(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-m.jobs:
				m.process(job)
			}
		}
	}()
}

// Stop 等待 worker 退出（进行中的识别任务允许丢弃，由 ctx 取消驱动）
func (m *Matcher) Stop() {
	m.wg.Wait()
}

// Request 提交一次识别请求（非阻塞，按座位节流）
// crop 延迟求值：只有通过节流的请求才真正裁剪区域，被丢弃的请求不产生像素拷贝
func (m *Matcher) Request(seatID int, crop func() image.Image, at time.Time) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	if m.inFlight[seatID] || at.Sub(m.lastRequest[seatID]) < m.interval {
		m.mu.Unlock()
		return
	}
	m.lastRequest[seatID] = at
	m.inFlight[seatID] = true
	m.mu.Unlock()

	select {
	case m.jobs <- matchJob{seatID: seatID, crop: crop(), at: at}:
	default:
		// 队列满直接丢弃，绝不阻塞采集路径
		m.mu.Lock()
		m.inFlight[seatID] = false
		m.mu.Unlock()
	}
}

// process 执行一次识别
func (m *Matcher) process(job matchJob) {
	defer func() {
		m.mu.Lock()
		m.inFlight[job.seatID] = false
		m.mu.Unlock()
	}()

	encodings, err := m.client.Encode(job.crop)
	if err != nil {
		// 服务故障降级为 UNKNOWN
		m.logger.Warn("Face encode failed, seat degraded to unknown",
			zap.Int("seat_id", job.seatID),
			zap.Error(err),
		)
		return
	}
	if len(encodings) == 0 {
		return
	}

	personID := m.gallery.Match(encodings[0], m.tolerance)

	m.mu.Lock()
	m.results[job.seatID] = Result{PersonID: personID, At: job.at}
	m.mu.Unlock()

	if personID != "" {
		m.logger.Debug("Face matched",
			zap.Int("seat_id", job.seatID),
			zap.String("person_id", personID),
		)
	}
}

// Latest 某座位最近一次识别结果（无结果时 UNKNOWN）
func (m *Matcher) Latest(seatID int) Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results[seatID]
}

// Clear 清除某座位的识别结果（座位转空闲后调用，避免旧身份泄漏到下个区间）
func (m *Matcher) Clear(seatID int) {
	m.mu.Lock()
	delete(m.results, seatID)
	m.mu.Unlock()
}
