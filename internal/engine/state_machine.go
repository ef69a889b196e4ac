package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// Interval 一次已确认的完整占用区间（OCCUPIED→EMPTY 确认时产出）
type Interval struct {
	SeatID   int
	Entry    time.Time
	Exit     time.Time
	PersonID string
}

// StateMachine 单个座位的占用状态机
//
// 状态：EMPTY（初始）、OCCUPIED，外加以 Pending 字段表示的候选转换。
// 防抖规则：
// - 分数向当前状态的反方向穿越阈值且无候选时，开启候选转换
// - 候选方向持续满防抖窗口后确认转换
// - 任一反向样本取消候选（视为瞬态噪声）
// 单帧尖峰永远不会改变 CurrentStatus。
//
// 状态由本实例独占持有，仅在主 tick 线程上被驱动（单写者）。
type StateMachine struct {
	seatID    int
	seatName  string
	threshold float64
	debounce  time.Duration
	logger    *zap.Logger

	state      models.SeatState
	lastSample time.Time // 最近一个已处理样本的时间戳
}

// NewStateMachine 创建座位状态机，初始状态 EMPTY
func NewStateMachine(seat models.SeatConfig, threshold float64, debounce time.Duration, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		seatID:    seat.SeatID,
		seatName:  seat.SeatName,
		threshold: threshold,
		debounce:  debounce,
		logger:    logger,
		state: models.SeatState{
			SeatID:        seat.SeatID,
			CurrentStatus: models.StatusEmpty,
		},
	}
}

// State 当前状态快照
func (sm *StateMachine) State() models.SeatState {
	return sm.state
}

// Apply 处理一个存在样本，返回确认的完整占用区间（仅 OCCUPIED→EMPTY 确认时非 nil）
//
// 背景模型未收敛的样本被忽略，永远不触发转换。
func (sm *StateMachine) Apply(sample models.PresenceSample) *Interval {
	if !sample.Converged {
		return nil
	}
	defer func() {
		sm.lastSample = sample.Timestamp
	}()

	opposite := sm.opposite()
	towardsOpposite := sm.crossesTowards(sample.Score, opposite)

	if !towardsOpposite {
		// 样本与当前状态一致：取消候选（瞬态噪声）
		if sm.state.Pending != nil {
			sm.logger.Debug("Pending transition cancelled",
				zap.Int("seat_id", sm.seatID),
				zap.String("pending", string(sm.state.Pending.Status)),
			)
			sm.state.Pending = nil
		}
		return nil
	}

	if sm.state.Pending == nil {
		// 穿越发生在上一帧与本帧之间，取上一帧时间作为候选起点
		since := sm.lastSample
		if since.IsZero() {
			since = sample.Timestamp
		}
		sm.state.Pending = &models.PendingTransition{
			Status: opposite,
			Since:  since,
		}
		return nil
	}

	// 候选方向持续中，检查防抖窗口
	if sample.Timestamp.Sub(sm.state.Pending.Since) < sm.debounce {
		return nil
	}
	return sm.confirm(sample)
}

// confirm 确认候选转换
func (sm *StateMachine) confirm(sample models.PresenceSample) *Interval {
	target := sm.state.Pending.Status
	sm.state.Pending = nil

	if target == models.StatusOccupied {
		sm.state.CurrentStatus = models.StatusOccupied
		sm.state.StatusSince = sample.Timestamp
		// 身份取确认时刻最近的识别结果，未识别则为 UNKNOWN
		sm.state.CurrentIdentity = sample.Identity
		sm.logger.Info("Seat occupied",
			zap.Int("seat_id", sm.seatID),
			zap.String("seat_name", sm.seatName),
			zap.String("person_id", sm.state.CurrentIdentity),
		)
		return nil
	}

	// OCCUPIED→EMPTY：产出完整占用区间
	interval := &Interval{
		SeatID:   sm.seatID,
		Entry:    sm.state.StatusSince,
		Exit:     sample.Timestamp,
		PersonID: sm.state.CurrentIdentity,
	}
	sm.state.CurrentStatus = models.StatusEmpty
	sm.state.StatusSince = sample.Timestamp
	sm.state.CurrentIdentity = ""
	sm.logger.Info("Seat released",
		zap.Int("seat_id", sm.seatID),
		zap.String("seat_name", sm.seatName),
		zap.Float64("duration_seconds", interval.Exit.Sub(interval.Entry).Seconds()),
	)
	return interval
}

// UpdateIdentity 占用期间的身份补充：仅当当前身份仍为 UNKNOWN 时更新，
// 不拆分区间（占用中识别到第二人仅作记录）
func (sm *StateMachine) UpdateIdentity(personID string) {
	if sm.state.CurrentStatus != models.StatusOccupied || personID == "" {
		return
	}
	if sm.state.CurrentIdentity == "" {
		sm.state.CurrentIdentity = personID
		sm.logger.Info("Identity attached to open interval",
			zap.Int("seat_id", sm.seatID),
			zap.String("person_id", personID),
		)
	} else if sm.state.CurrentIdentity != personID {
		sm.logger.Info("Different identity seen during open interval, keeping first",
			zap.Int("seat_id", sm.seatID),
			zap.String("current", sm.state.CurrentIdentity),
			zap.String("seen", personID),
		)
	}
}

// opposite 当前状态的反方向
func (sm *StateMachine) opposite() models.SeatStatus {
	if sm.state.CurrentStatus == models.StatusEmpty {
		return models.StatusOccupied
	}
	return models.StatusEmpty
}

// crossesTowards 分数是否向目标状态方向穿越阈值
func (sm *StateMachine) crossesTowards(score float64, target models.SeatStatus) bool {
	if target == models.StatusOccupied {
		return score >= sm.threshold
	}
	return score < sm.threshold
}
