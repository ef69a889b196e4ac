package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
	"github.com/linyi1130/Lcm-monitor251004/internal/publisher"
)

type stubStatus struct {
	seats []models.SeatRealtimeStatus
}

func (s *stubStatus) RealtimeStatus() []models.SeatRealtimeStatus {
	return s.seats
}

func testServer(t *testing.T, mutate func(cfg *config.Config)) (*Server, *publisher.FrameSlot) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	frames := publisher.NewFrameSlot()
	status := &stubStatus{seats: []models.SeatRealtimeStatus{
		{SeatID: 1, SeatName: "座位1", Status: models.StatusOccupied, PersonID: "张三", Score: 0.8},
		{SeatID: 2, SeatName: "座位2", Status: models.StatusEmpty},
	}}
	return New(cfg, frames, status, zap.NewNop()), frames
}

func TestHandleIndex(t *testing.T) {
	s, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/video_feed")
}

func TestHandleStatus(t *testing.T) {
	s, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Timestamp int64                       `json:"timestamp"`
		Seats     []models.SeatRealtimeStatus `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Seats, 2)
	assert.Equal(t, models.StatusOccupied, body.Seats[0].Status)
	assert.Equal(t, "张三", body.Seats[0].PersonID)
	assert.NotZero(t, body.Timestamp)
}

func TestBasicAuth(t *testing.T) {
	s, _ := testServer(t, func(cfg *config.Config) {
		cfg.Web.AuthRequired = true
		cfg.Web.Username = "admin"
		cfg.Web.Password = "secret"
	})

	// 无凭据 → 401
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	// 错误凭据 → 401
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正确凭据 → 200
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVideoFeed_StreamsLatestFrame(t *testing.T) {
	s, frames := testServer(t, nil)
	frames.Publish(&models.AnnotatedFrame{JPEG: []byte("fake-jpeg-bytes"), Timestamp: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/video_feed", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Content-Type"), "multipart/x-mixed-replace")
	body := w.Body.String()
	assert.Contains(t, body, "--frame")
	assert.Contains(t, body, "Content-Type: image/jpeg")
	assert.Contains(t, body, "fake-jpeg-bytes")
}

func TestRemoteBinding(t *testing.T) {
	local, _ := testServer(t, nil)
	assert.Equal(t, "127.0.0.1:5000", local.httpServer.Addr)

	remote, _ := testServer(t, func(cfg *config.Config) {
		cfg.Web.EnableRemote = true
	})
	assert.Equal(t, "0.0.0.0:5000", remote.httpServer.Addr)
}
