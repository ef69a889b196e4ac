package camera

import (
	"context"
	"errors"
	"image"

	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

// ErrTemporary 帧源暂时不可用（引擎暂停检测并重试）
var ErrTemporary = errors.New("frame source temporarily unavailable")

// ErrPermanent 帧源永久不可用（引擎停止并上报运维）
var ErrPermanent = errors.New("frame source permanently unavailable")

// Source 帧源接口：按配置的分辨率/帧率提供带时间戳的帧
// 实现可以是实时采集（SnapshotSource），也可以是回放源（ReplaySource，用于测试）
type Source interface {
	// Capture 采集一帧；失败时返回 ErrTemporary 或 ErrPermanent 包装错误
	Capture(ctx context.Context) (*models.Frame, error)
	// Close 释放帧源资源
	Close() error
}

// rotate 按旋转角度生成新图像（0/90/180/270，顺时针）
func rotate(img image.Image, rotation int) image.Image {
	if rotation == 0 {
		return img
	}
	b := img.Bounds()
	var dst *image.RGBA
	switch rotation {
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.Y-1-y, x-b.Min.X, img.At(x, y))
			}
		}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.X-1-x, b.Max.Y-1-y, img.At(x, y))
			}
		}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(y-b.Min.Y, b.Max.X-1-x, img.At(x, y))
			}
		}
	default:
		return img
	}
	return dst
}
