package overlay

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

func testFrame(at time.Time) *models.Frame {
	return &models.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 128, 96)),
		Timestamp: at,
	}
}

func testSeat(id, x int) models.SeatConfig {
	return models.SeatConfig{
		SeatID:   id,
		SeatName: "座位1",
		Region:   []models.Point{{X: x, Y: 40}, {X: x + 24, Y: 40}, {X: x + 24, Y: 64}, {X: x, Y: 64}},
	}
}

// countBright 统计矩形内接近白色的像素数（文字标注检测）
func countBright(img image.Image, rect image.Rectangle) int {
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r > 0x9000 && g > 0x9000 && b > 0x9000 {
				n++
			}
		}
	}
	return n
}

func decode(t *testing.T, annotated *models.AnnotatedFrame) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(annotated.JPEG))
	require.NoError(t, err)
	return img
}

func TestAnnotate(t *testing.T) {
	at := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	frame := testFrame(at)
	seats := []models.SeatConfig{testSeat(1, 8), testSeat(2, 64)}
	states := map[int]models.SeatState{
		1: {SeatID: 1, CurrentStatus: models.StatusOccupied},
		2: {SeatID: 2, CurrentStatus: models.StatusEmpty},
	}

	annotated, err := Annotate(frame, seats, states)
	require.NoError(t, err)
	assert.Equal(t, at, annotated.Timestamp)

	// 输出是合法 JPEG，尺寸与原帧一致
	img := decode(t, annotated)
	assert.Equal(t, frame.Image.Bounds().Size(), img.Bounds().Size())

	// 占用座位的轮廓以红色系绘制（JPEG 有损，只验证红色显著高于绿蓝）
	r, g, b, _ := img.At(8, 40).RGBA()
	assert.Greater(t, r, g*2)
	assert.Greater(t, r, b*2)
}

func TestAnnotate_PendingUsesDistinctColor(t *testing.T) {
	frame := testFrame(time.Now())
	seats := []models.SeatConfig{testSeat(1, 8)}
	states := map[int]models.SeatState{
		1: {
			SeatID:        1,
			CurrentStatus: models.StatusEmpty,
			Pending:       &models.PendingTransition{Status: models.StatusOccupied, Since: time.Now()},
		},
	}

	annotated, err := Annotate(frame, seats, states)
	require.NoError(t, err)
	img := decode(t, annotated)

	// 候选转换为黄色系：红绿均显著高于蓝
	r, g, b, _ := img.At(8, 40).RGBA()
	assert.Greater(t, r, b*2)
	assert.Greater(t, g, b*2)
}

func TestAnnotate_DrawsTimestampLine(t *testing.T) {
	at := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	annotated, err := Annotate(testFrame(at), []models.SeatConfig{testSeat(1, 8)}, nil)
	require.NoError(t, err)
	img := decode(t, annotated)

	// 左上角时间行有白色文字像素
	assert.Positive(t, countBright(img, image.Rect(4, 4, 120, 4+textHeight())))
}

func TestAnnotate_DrawsSeatLabel(t *testing.T) {
	frame := testFrame(time.Now())
	seats := []models.SeatConfig{testSeat(1, 8)}
	states := map[int]models.SeatState{
		1: {SeatID: 1, CurrentStatus: models.StatusOccupied},
	}

	annotated, err := Annotate(frame, seats, states)
	require.NoError(t, err)
	img := decode(t, annotated)

	// 区域上方标签带有白色文字像素（"S1 OCCUPIED"）
	labelBand := image.Rect(8, 40-textHeight()-4, 128, 40-2)
	assert.Positive(t, countBright(img, labelBand))
}

func TestAnnotate_IdentityChangesLabel(t *testing.T) {
	frame := testFrame(time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local))
	seats := []models.SeatConfig{testSeat(1, 8)}

	anonymous, err := Annotate(frame, seats, map[int]models.SeatState{
		1: {SeatID: 1, CurrentStatus: models.StatusOccupied},
	})
	require.NoError(t, err)

	identified, err := Annotate(frame, seats, map[int]models.SeatState{
		1: {SeatID: 1, CurrentStatus: models.StatusOccupied, CurrentIdentity: "ZHANG"},
	})
	require.NoError(t, err)

	// 识别出身份后标签内容变化，渲染结果不同
	assert.NotEqual(t, anonymous.JPEG, identified.JPEG)
}
