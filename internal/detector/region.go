package detector

import (
	"image"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// Region 座位区域的像素级表示
// 预先计算多边形的外接矩形和区域内像素掩码，检测时按掩码遍历
type Region struct {
	Bounds image.Rectangle
	mask   []image.Point // 多边形内的像素坐标（帧坐标系）
}

// NewRegion 从座位配置的多边形构建区域
func NewRegion(polygon []models.Point) *Region {
	minX, minY := polygon[0].X, polygon[0].Y
	maxX, maxY := polygon[0].X, polygon[0].Y
	for _, p := range polygon[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	r := &Region{Bounds: image.Rect(minX, minY, maxX, maxY)}
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if pointInPolygon(x, y, polygon) {
				r.mask = append(r.mask, image.Point{X: x, Y: y})
			}
		}
	}
	return r
}

// Area 区域内像素数（用于分数归一化）
func (r *Region) Area() int {
	return len(r.mask)
}

// Mask 区域内像素坐标
func (r *Region) Mask() []image.Point {
	return r.mask
}

// pointInPolygon 射线法判断点是否在多边形内
func pointInPolygon(x, y int, polygon []models.Point) bool {
	inside := false
	n := len(polygon)
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := float64(polygon[i].X), float64(polygon[i].Y)
		xj, yj := float64(polygon[j].X), float64(polygon[j].Y)
		fx, fy := float64(x), float64(y)
		if (yi > fy) != (yj > fy) &&
			fx < (xj-xi)*(fy-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// luma 像素的灰度亮度 [0,255]
func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	// BT.601 加权，RGBA 返回 16 位值
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
}
