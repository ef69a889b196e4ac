package matcher

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FaceEncodeRequest 人脸编码服务请求
type FaceEncodeRequest struct {
	Image string `json:"image"` // JPEG，base64 编码
}

// FaceEncodeResponse 人脸编码服务响应
type FaceEncodeResponse struct {
	Status    int         `json:"status"`
	Msg       string      `json:"msg"`
	Encodings [][]float64 `json:"encodings"` // 检测到的每张人脸一个编码向量
}

// FaceClient 人脸编码服务客户端
//
// 人脸检测/编码由独立服务承担（模型加载重，不适合放进采集进程）。
// 服务不可用时调用方降级为 UNKNOWN，监控不中断。
type FaceClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewFaceClient 创建人脸编码服务客户端
func NewFaceClient(baseURL string, timeout time.Duration, logger *zap.Logger) *FaceClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &FaceClient{
		httpClient: client,
		logger:     logger,
	}
}

// Encode 提取图像中所有人脸的编码向量
func (c *FaceClient) Encode(img image.Image) ([][]float64, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode crop as jpeg: %w", err)
	}

	request := FaceEncodeRequest{
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	var response FaceEncodeResponse
	resp, err := c.httpClient.R().
		SetBody(request).
		SetResult(&response).
		Post("/face/encode")

	if err != nil {
		return nil, fmt.Errorf("failed to call face service: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("face service returned status %d", resp.StatusCode())
	}
	if response.Status != 0 {
		return nil, fmt.Errorf("face service error: %s (status: %d)", response.Msg, response.Status)
	}

	return response.Encodings, nil
}
