package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/camera"
	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/detector"
	"github.com/linyi1130/Lcm-monitor251004/internal/matcher"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
	"github.com/linyi1130/Lcm-monitor251004/internal/overlay"
	"github.com/linyi1130/Lcm-monitor251004/internal/publisher"
)

// Recorder 占用记录落盘接口
type Recorder interface {
	Record(record *models.OccupancyRecord) error
}

// ReportGenerator 日报生成接口
type ReportGenerator interface {
	Generate(date time.Time) (*models.DailyReport, error)
}

// StatusSink 实时状态下游（Redis，可选）
type StatusSink interface {
	PublishStatus(ctx context.Context, status *models.SeatRealtimeStatus) error
	PublishEvent(ctx context.Context, event *models.TransitionEvent) error
}

// EventSink 状态转换事件下游（MQTT，可选）
type EventSink interface {
	PublishEvent(event *models.TransitionEvent) error
}

// Engine 占用监控引擎
//
// 单一 tick 循环驱动整条流水线：
// 采集帧 → 各座位并发检测（同 tick 内汇合）→ 顺序评估状态机 →
// 确认的区间落盘 → 叠加标注发布到帧槽位 → 实时状态/事件下发。
// 状态机评估保持单线程，座位状态无锁。
type Engine struct {
	cfg       *config.Config
	source    camera.Source
	detectors []*detector.RegionDetector
	machines  []*StateMachine
	matcher   *matcher.Matcher
	recorder  Recorder
	reports   ReportGenerator
	frames    *publisher.FrameSlot
	status    StatusSink
	events    EventSink
	logger    *zap.Logger

	mu       sync.RWMutex
	realtime map[int]models.SeatRealtimeStatus

	currentDay        string    // 当前运行日（YYYYMMDD，按帧时间戳的本地日期）
	lastSnapshot      time.Time // 最近一次状态快照时间
	lastStatusPublish time.Time // 最近一次实时状态下发时间
}

// New 创建监控引擎
// status 与 events 允许为 nil（对应下游未启用）
func New(
	cfg *config.Config,
	source camera.Source,
	m *matcher.Matcher,
	rec Recorder,
	reports ReportGenerator,
	frames *publisher.FrameSlot,
	status StatusSink,
	events EventSink,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		source:   source,
		matcher:  m,
		recorder: rec,
		reports:  reports,
		frames:   frames,
		status:   status,
		events:   events,
		logger:   logger,
		realtime: make(map[int]models.SeatRealtimeStatus),
	}

	debounce := time.Duration(cfg.Detection.DebounceWindowSeconds * float64(time.Second))
	for _, seat := range cfg.Seats {
		e.detectors = append(e.detectors, detector.NewRegionDetector(seat, &cfg.Detection, logger))
		e.machines = append(e.machines, NewStateMachine(seat, cfg.Detection.OccupancyThreshold, debounce, logger))
	}
	return e
}

// Run 运行 tick 循环直到 ctx 取消或帧源永久不可用
// 退出前保存状态快照并生成当日报告
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.Camera.Framerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Monitor engine started",
		zap.Int("seats", len(e.cfg.Seats)),
		zap.Int("framerate", e.cfg.Camera.Framerate),
		zap.Float64("occupancy_threshold", e.cfg.Detection.OccupancyThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			e.finalize()
			return nil
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.finalize()
				return err
			}
		}
	}
}

// tick 处理一帧；仅帧源永久不可用时返回错误
func (e *Engine) tick(ctx context.Context) error {
	frame, err := e.source.Capture(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrPermanent) {
			e.logger.Error("Frame source permanently unavailable, stopping", zap.Error(err))
			return fmt.Errorf("frame source failed: %w", err)
		}
		// 暂时不可用：本 tick 跳过，座位保持当前状态
		e.logger.Warn("Frame capture failed, tick skipped", zap.Error(err))
		return nil
	}

	e.rolloverDay(frame.Timestamp)

	// 各座位区域并发检测，本 tick 内汇合
	samples := make([]detector.Sample, len(e.detectors))
	var wg sync.WaitGroup
	for i := range e.detectors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			samples[i] = e.detectors[i].Detect(frame)
		}(i)
	}
	wg.Wait()

	// 状态机顺序评估（单写者）
	states := make(map[int]models.SeatState, len(e.cfg.Seats))
	for i, seat := range e.cfg.Seats {
		states[seat.SeatID] = e.evaluateSeat(ctx, i, seat, samples[i], frame)
	}

	if annotated, err := overlay.Annotate(frame, e.cfg.Seats, states); err != nil {
		e.logger.Warn("Failed to annotate frame", zap.Error(err))
	} else {
		e.frames.Publish(annotated)
	}

	e.publishRealtime(ctx, frame.Timestamp)
	e.maybeSnapshot(frame.Timestamp)
	return nil
}

// evaluateSeat 评估单个座位：识别请求、状态机、落盘、事件下发
func (e *Engine) evaluateSeat(ctx context.Context, idx int, seat models.SeatConfig, s detector.Sample, frame *models.Frame) models.SeatState {
	sm := e.machines[idx]
	prev := sm.State().CurrentStatus

	// 区域有人迹象时提交识别请求（节流与降级由匹配器内部处理，
	// 裁剪延迟到请求真正被接受时才执行）
	if s.Converged && s.Score >= e.cfg.Detection.OccupancyThreshold {
		e.matcher.Request(seat.SeatID, func() image.Image {
			return e.detectors[idx].Crop(frame)
		}, frame.Timestamp)
	}
	latest := e.matcher.Latest(seat.SeatID)

	interval := sm.Apply(models.PresenceSample{
		SeatID:    seat.SeatID,
		Timestamp: frame.Timestamp,
		Score:     s.Score,
		Converged: s.Converged,
		Identity:  latest.PersonID,
	})

	recordID := ""
	if interval != nil {
		record := &models.OccupancyRecord{
			RecordID:        uuid.NewString(),
			SeatID:          interval.SeatID,
			SeatName:        seat.SeatName,
			EntryTime:       interval.Entry,
			ExitTime:        interval.Exit,
			DurationSeconds: interval.Exit.Sub(interval.Entry).Seconds(),
			PersonID:        interval.PersonID,
		}
		// 丢失已在记录器内部详细记日志，监控继续
		if err := e.recorder.Record(record); err == nil {
			recordID = record.RecordID
		}
		e.matcher.Clear(seat.SeatID)
	}

	state := sm.State()
	if state.CurrentStatus == models.StatusOccupied {
		// 占用期间识别结果迟到时补充身份
		sm.UpdateIdentity(latest.PersonID)
		state = sm.State()
	}

	if state.CurrentStatus != prev {
		e.publishTransition(ctx, seat, prev, state, recordID)
	}

	e.mu.Lock()
	e.realtime[seat.SeatID] = models.SeatRealtimeStatus{
		SeatID:    seat.SeatID,
		SeatName:  seat.SeatName,
		Status:    state.CurrentStatus,
		Since:     state.StatusSince,
		PersonID:  state.CurrentIdentity,
		Score:     s.Score,
		Timestamp: frame.Timestamp.Unix(),
	}
	e.mu.Unlock()

	return state
}

// publishTransition 下发状态转换事件（Redis Stream + MQTT，均为尽力而为）
func (e *Engine) publishTransition(ctx context.Context, seat models.SeatConfig, from models.SeatStatus, state models.SeatState, recordID string) {
	event := &models.TransitionEvent{
		SeatID:    seat.SeatID,
		SeatName:  seat.SeatName,
		From:      from,
		To:        state.CurrentStatus,
		At:        state.StatusSince,
		PersonID:  state.CurrentIdentity,
		RecordID:  recordID,
		Timestamp: state.StatusSince.Unix(),
	}

	if e.status != nil {
		if err := e.status.PublishEvent(ctx, event); err != nil {
			e.logger.Warn("Failed to publish event to redis stream", zap.Error(err))
		}
	}
	if e.events != nil {
		if err := e.events.PublishEvent(event); err != nil {
			e.logger.Warn("Failed to publish event to mqtt", zap.Error(err))
		}
	}
}

// publishRealtime 下发全部座位实时状态（每秒一次，不随帧率放大）
func (e *Engine) publishRealtime(ctx context.Context, now time.Time) {
	if e.status == nil || now.Sub(e.lastStatusPublish) < time.Second {
		return
	}
	e.lastStatusPublish = now

	for _, status := range e.RealtimeStatus() {
		s := status
		if err := e.status.PublishStatus(ctx, &s); err != nil {
			// 单个座位下发失败不影响其余座位
			e.logger.Warn("Failed to publish seat status", zap.Int("seat_id", s.SeatID), zap.Error(err))
			continue
		}
	}
}

// RealtimeStatus 全部座位的实时状态（按 seat_id 升序）
func (e *Engine) RealtimeStatus() []models.SeatRealtimeStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.SeatRealtimeStatus, 0, len(e.cfg.Seats))
	for _, seat := range e.cfg.Seats {
		if status, ok := e.realtime[seat.SeatID]; ok {
			out = append(out, status)
		} else {
			out = append(out, models.SeatRealtimeStatus{
				SeatID:   seat.SeatID,
				SeatName: seat.SeatName,
				Status:   models.StatusEmpty,
			})
		}
	}
	return out
}

// rolloverDay 跨日时生成前一日报告
func (e *Engine) rolloverDay(now time.Time) {
	day := now.Format("20060102")
	if e.currentDay == "" {
		e.currentDay = day
		return
	}
	if day == e.currentDay {
		return
	}

	prev, err := time.ParseInLocation("20060102", e.currentDay, now.Location())
	e.currentDay = day
	if err != nil {
		return
	}
	e.logger.Info("Day rollover, generating report", zap.String("date", prev.Format("2006-01-02")))
	if _, err := e.reports.Generate(prev); err != nil {
		e.logger.Error("Failed to generate daily report", zap.Error(err))
	}
}

// stateSnapshot 周期性落盘的运行状态快照（重启后用于运维排查，不用于恢复状态）
type stateSnapshot struct {
	SavedAt time.Time          `json:"saved_at"`
	Seats   []models.SeatState `json:"seats"`
}

// maybeSnapshot 按 save_interval 周期保存状态快照
func (e *Engine) maybeSnapshot(now time.Time) {
	interval := time.Duration(e.cfg.Data.SaveInterval) * time.Second
	if now.Sub(e.lastSnapshot) < interval {
		return
	}
	e.lastSnapshot = now
	e.writeSnapshot(now)
}

// writeSnapshot 写状态快照文件
func (e *Engine) writeSnapshot(now time.Time) {
	snapshot := stateSnapshot{SavedAt: now}
	for _, sm := range e.machines {
		snapshot.Seats = append(snapshot.Seats, sm.State())
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		e.logger.Warn("Failed to marshal state snapshot", zap.Error(err))
		return
	}
	path := filepath.Join(e.cfg.Data.DataDirectory, "state_snapshot.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.logger.Warn("Failed to write state snapshot", zap.Error(err))
	}
}

// finalize 退出前收尾：保存快照、生成当日报告
// 未确认出座的开放区间不落盘（崩溃/停止不伪造 exit_time）
func (e *Engine) finalize() {
	now := time.Now()
	e.writeSnapshot(now)
	if _, err := e.reports.Generate(now); err != nil {
		e.logger.Error("Failed to generate final daily report", zap.Error(err))
	}
	e.logger.Info("Monitor engine stopped")
}
