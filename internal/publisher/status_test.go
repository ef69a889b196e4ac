package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

func testPublisher(t *testing.T) (*StatusPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Enabled:         true,
		Addr:            mr.Addr(),
		StatusKeyPrefix: "seat-monitor:seat:",
		StatusSuffix:    ":realtime",
		StatusTTL:       30,
		EventStream:     "seat-monitor:events",
	}
	p, err := NewStatusPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func TestStatusPublisher_PublishStatus(t *testing.T) {
	p, mr := testPublisher(t)

	status := &models.SeatRealtimeStatus{
		SeatID:    1,
		SeatName:  "座位1",
		Status:    models.StatusOccupied,
		Since:     time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local),
		PersonID:  "张三",
		Score:     0.8,
		Timestamp: 1787000000,
	}
	require.NoError(t, p.PublishStatus(context.Background(), status))

	raw, err := mr.Get("seat-monitor:seat:1:realtime")
	require.NoError(t, err)

	var got models.SeatRealtimeStatus
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, models.StatusOccupied, got.Status)
	assert.Equal(t, "张三", got.PersonID)

	// 进程退出后状态靠 TTL 过期
	ttl := mr.TTL("seat-monitor:seat:1:realtime")
	assert.Equal(t, 30*time.Second, ttl)
}

func TestStatusPublisher_PublishEvent(t *testing.T) {
	p, mr := testPublisher(t)

	event := &models.TransitionEvent{
		SeatID:    2,
		SeatName:  "座位2",
		From:      models.StatusOccupied,
		To:        models.StatusEmpty,
		At:        time.Date(2026, 8, 29, 10, 0, 0, 0, time.Local),
		PersonID:  "李四",
		RecordID:  "rec-1",
		Timestamp: 1787003600,
	}
	require.NoError(t, p.PublishEvent(context.Background(), event))
	require.NoError(t, p.PublishEvent(context.Background(), event))

	entries, err := mr.Stream("seat-monitor:events")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 条目值为 field/value 对平铺
	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "2", values["seat_id"])
	assert.Equal(t, "EMPTY", values["to"])

	var got models.TransitionEvent
	require.NoError(t, json.Unmarshal([]byte(values["event"]), &got))
	assert.Equal(t, "rec-1", got.RecordID)
}

func TestFrameSlot(t *testing.T) {
	slot := NewFrameSlot()
	assert.Nil(t, slot.Latest())

	f1 := &models.AnnotatedFrame{JPEG: []byte("frame-1"), Timestamp: time.Now()}
	slot.Publish(f1)
	assert.Equal(t, f1, slot.Latest())

	// 覆盖写：慢观看端只会拿到最新帧
	f2 := &models.AnnotatedFrame{JPEG: []byte("frame-2"), Timestamp: time.Now()}
	slot.Publish(f2)
	assert.Equal(t, f2, slot.Latest())
}
