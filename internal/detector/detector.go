package detector

import (
	"image"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// Sample 单帧的检测输出
type Sample struct {
	Score     float64 // 存在分数 [0,1]：区域内活动像素占比
	Converged bool    // 背景模型是否已收敛
}

// RegionDetector 单个座位区域的存在检测器
//
// 每帧计算区域内相对背景基线的活动像素占比，得到归一化存在分数。
// 检测器独占持有自己的背景模型，其他组件不依赖其内部状态。
type RegionDetector struct {
	seatID     int
	region     *Region
	background *Background
	pixelDiff  float64 // 像素亮度差判定阈值
	logger     *zap.Logger

	warnedWarmup bool // 收敛提示只在启动期记一次
}

// NewRegionDetector 为一个座位创建检测器
func NewRegionDetector(seat models.SeatConfig, cfg *config.DetectionConfig, logger *zap.Logger) *RegionDetector {
	region := NewRegion(seat.Region)
	return &RegionDetector{
		seatID:     seat.SeatID,
		region:     region,
		background: NewBackground(region.Area(), cfg.BackgroundAlpha, cfg.WarmupFrames),
		pixelDiff:  cfg.PixelDiffThreshold,
		logger:     logger,
	}
}

// Region 座位区域（用于叠加层绘制和人脸裁剪）
func (d *RegionDetector) Region() *Region {
	return d.region
}

// Detect 计算一帧的存在分数并更新背景模型
func (d *RegionDetector) Detect(frame *models.Frame) Sample {
	mask := d.region.Mask()
	lumas := make([]float64, len(mask))
	for i, p := range mask {
		lumas[i] = luma(frame.Image, p.X, p.Y)
	}

	diffs := d.background.Update(lumas)

	active := 0
	for _, diff := range diffs {
		if diff > d.pixelDiff {
			active++
		}
	}

	score := 0.0
	if len(mask) > 0 {
		score = float64(active) / float64(len(mask))
	}

	converged := d.background.Converged()
	if !converged && !d.warnedWarmup {
		d.logger.Info("Region detector warming up, samples suppressed",
			zap.Int("seat_id", d.seatID),
			zap.Int("frames", d.background.Frames()),
		)
		d.warnedWarmup = true
	}

	return Sample{Score: score, Converged: converged}
}

// Crop 提取区域外接矩形的子图（用于人脸识别）
func (d *RegionDetector) Crop(frame *models.Frame) image.Image {
	b := d.region.Bounds
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, frame.Image.At(x, y))
		}
	}
	return dst
}
