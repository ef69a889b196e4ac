package matcher

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // 参照图解码
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// GalleryEntry 一个已知身份的参照编码
type GalleryEntry struct {
	PersonID string
	Encoding []float64
}

// Gallery 已知身份库：每个身份一张参照图，文件名（去扩展名）即身份标签
type Gallery struct {
	entries []GalleryEntry
}

// LoadGallery 启动时加载已知身份库
// 单张图片编码失败只记日志跳过；目录不存在返回空库（全部匹配为 UNKNOWN）
func LoadGallery(dir string, client *FaceClient, logger *zap.Logger) (*Gallery, error) {
	g := &Gallery{}

	files, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Known faces directory unavailable, identity matching degraded",
			zap.String("dir", dir),
			zap.Error(err),
		)
		return g, nil
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			logger.Warn("Failed to read gallery image", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			logger.Warn("Failed to decode gallery image", zap.String("file", f.Name()), zap.Error(err))
			continue
		}

		encodings, err := client.Encode(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode gallery image %s: %w", f.Name(), err)
		}
		if len(encodings) == 0 {
			logger.Warn("No face found in gallery image", zap.String("file", f.Name()))
			continue
		}

		personID := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
		g.entries = append(g.entries, GalleryEntry{
			PersonID: personID,
			Encoding: encodings[0],
		})
		logger.Info("Loaded known face", zap.String("person_id", personID))
	}

	return g, nil
}

// Size 库中的身份数
func (g *Gallery) Size() int {
	return len(g.entries)
}

// tieMargin 最优与次优距离差低于该值视为平局，返回 UNKNOWN（宁可漏认不可错认）
const tieMargin = 0.05

// Match 在库中查找最接近的身份
// 最优距离超出容差、或与次优构成平局时返回空字符串（UNKNOWN）
func (g *Gallery) Match(encoding []float64, tolerance float64) string {
	best, second := math.Inf(1), math.Inf(1)
	bestID := ""

	for _, e := range g.entries {
		d := euclidean(e.Encoding, encoding)
		if d < best {
			second = best
			best = d
			bestID = e.PersonID
		} else if d < second {
			second = d
		}
	}

	if bestID == "" || best > tolerance {
		return ""
	}
	if second-best < tieMargin {
		return ""
	}
	return bestID
}

// euclidean 欧氏距离（维度不一致视为无穷远）
func euclidean(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
