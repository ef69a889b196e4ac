package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

var (
	colorEmpty    = color.RGBA{0, 200, 0, 255}     // 绿：空闲
	colorOccupied = color.RGBA{220, 0, 0, 255}     // 红：占用
	colorPending  = color.RGBA{230, 180, 0, 255}   // 黄：防抖窗口内的候选转换
	colorText     = color.RGBA{255, 255, 255, 255} // 白：文字标注
)

// Annotate 在帧上叠加座位区域轮廓、座位标签和采集时间并编码为 JPEG
// 轮廓颜色反映座位当前状态，标签为 "S{seat_id} {状态} [{身份}]"，供实时画面观看端使用
func Annotate(frame *models.Frame, seats []models.SeatConfig, states map[int]models.SeatState) (*models.AnnotatedFrame, error) {
	b := frame.Image.Bounds()
	canvas := image.NewRGBA(b)
	draw.Draw(canvas, b, frame.Image, b.Min, draw.Src)

	for _, seat := range seats {
		c := colorEmpty
		state, ok := states[seat.SeatID]
		if ok {
			switch {
			case state.Pending != nil:
				c = colorPending
			case state.CurrentStatus == models.StatusOccupied:
				c = colorOccupied
			}
		}
		drawPolygon(canvas, seat.Region, c)
		drawSeatLabel(canvas, seat, state, ok)
	}

	// 采集时间行，画面左上角
	drawText(canvas, b.Min.X+4, b.Min.Y+4, frame.Timestamp.Format("2006-01-02 15:04:05"), colorText)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated frame: %w", err)
	}

	return &models.AnnotatedFrame{
		JPEG:      buf.Bytes(),
		Timestamp: frame.Timestamp,
	}, nil
}

// drawSeatLabel 在区域上方绘制座位标签：编号、状态，占用且已识别时附身份
func drawSeatLabel(canvas *image.RGBA, seat models.SeatConfig, state models.SeatState, known bool) {
	status := models.StatusEmpty
	if known {
		status = state.CurrentStatus
	}
	label := fmt.Sprintf("S%d %s", seat.SeatID, status)
	if status == models.StatusOccupied && state.CurrentIdentity != "" {
		label += " " + state.CurrentIdentity
	}

	minX, minY := seat.Region[0].X, seat.Region[0].Y
	for _, p := range seat.Region[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
	}
	y := minY - textHeight() - 4
	if y < canvas.Bounds().Min.Y {
		// 区域贴近画面顶部时标签画在区域内侧
		y = minY + 4
	}
	drawText(canvas, minX, y, label, colorText)
}

// drawPolygon 描绘闭合多边形轮廓（2 像素线宽）
func drawPolygon(canvas *image.RGBA, region []models.Point, c color.RGBA) {
	n := len(region)
	for i := 0; i < n; i++ {
		p1 := region[i]
		p2 := region[(i+1)%n]
		drawLine(canvas, p1.X, p1.Y, p2.X, p2.Y, c)
	}
}

// drawLine Bresenham 画线，沿途加粗一圈
func drawLine(canvas *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy

	x, y := x1, y1
	for {
		setThick(canvas, x, y, c)
		if x == x2 && y == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// setThick 以 (x,y) 为中心填 2x2 像素
func setThick(canvas *image.RGBA, x, y int, c color.RGBA) {
	b := canvas.Bounds()
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			px, py := x+dx, y+dy
			if px >= b.Min.X && px < b.Max.X && py >= b.Min.Y && py < b.Max.Y {
				canvas.SetRGBA(px, py, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
