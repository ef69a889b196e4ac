package webserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
	"github.com/linyi1130/Lcm-monitor251004/internal/publisher"
)

// StatusProvider 座位实时状态来源
type StatusProvider interface {
	RealtimeStatus() []models.SeatRealtimeStatus
}

// Server 监控 Web 服务
//
// 路由（标准库 ServeMux，无需第三方路由框架）：
// - GET /           监控页面
// - GET /video_feed MJPEG 实时画面（multipart/x-mixed-replace）
// - GET /status     座位实时状态 JSON
//
// 视频流从帧槽位拉取最新帧，按配置帧率下发；慢客户端只会错过中间帧，
// 永远不会阻塞检测流水线。
type Server struct {
	cfg    *config.WebConfig
	frames *publisher.FrameSlot
	status StatusProvider
	pace   time.Duration
	logger *zap.Logger

	httpServer *http.Server
}

// New 创建 Web 服务
func New(cfg *config.Config, frames *publisher.FrameSlot, status StatusProvider, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    &cfg.Web,
		frames: frames,
		status: status,
		pace:   time.Second / time.Duration(cfg.Camera.Framerate),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.auth(s.handleIndex))
	mux.HandleFunc("/video_feed", s.auth(s.handleVideoFeed))
	mux.HandleFunc("/status", s.auth(s.handleStatus))

	// enable_remote 仅决定绑定地址，不改变任何核心行为
	host := "127.0.0.1"
	if cfg.Web.EnableRemote {
		host = "0.0.0.0"
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, cfg.Web.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start 启动 HTTP 服务（阻塞直到服务关闭）
func (s *Server) Start() error {
	s.logger.Info("Web server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler 返回路由处理器（测试用）
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// auth Basic Auth 中间件（auth_required 关闭时直通）
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.AuthRequired {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="seat-monitor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleIndex 监控页面
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleStatus 座位实时状态
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"seats":     s.status.RealtimeStatus(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("Failed to write status response", zap.Error(err))
	}
}

// handleVideoFeed MJPEG 视频流
// 每个客户端独立按帧率从槽位取帧，同一帧不重复下发
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(s.pace)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := s.frames.Latest()
			if frame == nil || !frame.Timestamp.After(lastSent) {
				continue
			}
			lastSent = frame.Timestamp

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame.JPEG)); err != nil {
				return
			}
			if _, err := w.Write(frame.JPEG); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>座位监控</title>
<style>
body { font-family: sans-serif; margin: 20px; background: #1e1e1e; color: #ddd; }
h1 { font-size: 20px; }
#video { max-width: 100%; border: 1px solid #444; }
#seats { margin-top: 12px; }
.seat { display: inline-block; margin-right: 16px; padding: 6px 12px; border-radius: 4px; }
.EMPTY { background: #14501f; }
.OCCUPIED { background: #6b1414; }
</style>
</head>
<body>
<h1>座位占用监控</h1>
<img id="video" src="/video_feed" alt="live view">
<div id="seats"></div>
<script>
async function refresh() {
  try {
    const resp = await fetch('/status');
    const data = await resp.json();
    const box = document.getElementById('seats');
    box.innerHTML = '';
    for (const seat of data.seats) {
      const div = document.createElement('div');
      div.className = 'seat ' + seat.status;
      let text = seat.seat_name + ': ' + seat.status;
      if (seat.person_id) { text += ' (' + seat.person_id + ')'; }
      div.textContent = text;
      box.appendChild(div);
    }
  } catch (e) { /* 下一轮重试 */ }
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`
