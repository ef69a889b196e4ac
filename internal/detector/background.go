package detector

// Background 单个区域的背景模型
//
// 基线按慢速指数衰减自适应光照漂移：
//
//	baseline = (1-alpha)*baseline + alpha*luma
//
// alpha 必须远小于帧间信号变化速率，否则持续占用会被"吸收"进背景。
// 收敛前（前 warmupFrames 帧）的输出标记为低置信度，不触发状态转换。
type Background struct {
	baseline     []float64 // 区域掩码内每个像素的基线亮度
	alpha        float64
	warmupFrames int
	frames       int // 已喂入的帧数
}

// NewBackground 创建背景模型
func NewBackground(size int, alpha float64, warmupFrames int) *Background {
	return &Background{
		baseline:     make([]float64, size),
		alpha:        alpha,
		warmupFrames: warmupFrames,
	}
}

// Update 用当前帧的区域亮度更新基线，返回每像素与基线的绝对差
// lumas 的长度必须等于区域掩码大小
func (b *Background) Update(lumas []float64) []float64 {
	diffs := make([]float64, len(lumas))

	if b.frames == 0 {
		// 第一帧直接作为初始基线
		copy(b.baseline, lumas)
		b.frames++
		return diffs
	}

	for i, l := range lumas {
		d := l - b.baseline[i]
		if d < 0 {
			d = -d
		}
		diffs[i] = d
		b.baseline[i] = (1-b.alpha)*b.baseline[i] + b.alpha*l
	}
	b.frames++
	return diffs
}

// Converged 基线是否已收敛
func (b *Background) Converged() bool {
	return b.frames >= b.warmupFrames
}

// Frames 已处理的帧数
func (b *Background) Frames() int {
	return b.frames
}
