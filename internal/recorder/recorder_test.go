package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.DataDirectory = t.TempDir()
	cfg.Detection.MinRecordDurationSeconds = 10
	cfg.Recorder.RetryAttempts = 1
	cfg.Recorder.RetryBackoffMS = 1
	return cfg
}

func testRecord(entry time.Time, durationSeconds float64) *models.OccupancyRecord {
	exit := entry.Add(time.Duration(durationSeconds * float64(time.Second)))
	return &models.OccupancyRecord{
		RecordID:        uuid.NewString(),
		SeatID:          1,
		SeatName:        "座位1",
		EntryTime:       entry,
		ExitTime:        exit,
		DurationSeconds: durationSeconds,
		PersonID:        "张三",
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecorder_AppendsWithHeader(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	require.NoError(t, r.Record(testRecord(entry, 120)))
	require.NoError(t, r.Record(testRecord(entry.Add(time.Hour), 55.5)))

	rows := readRows(t, FilePath(cfg.Data.DataDirectory, entry))
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"1", "座位1", "2026-08-29T09:00:00", "2026-08-29T09:02:00", "120", "张三"}, rows[1])
	assert.Equal(t, "55.5", rows[2][4])
}

func TestRecorder_DiscardsShortRecords(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	require.NoError(t, r.Record(testRecord(entry, 5)))

	// 低于下限的记录被丢弃，文件根本不会创建
	_, statErr := os.Stat(FilePath(cfg.Data.DataDirectory, entry))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecorder_RejectsInvalidInterval(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	record := testRecord(time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local), 60)
	record.ExitTime = record.EntryTime.Add(-time.Second)
	assert.Error(t, r.Record(record))
}

func TestRecorder_PartitionsByExitDate(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	// 跨午夜的区间归入 exit_time 所在日
	entry := time.Date(2026, 8, 29, 23, 50, 0, 0, time.Local)
	require.NoError(t, r.Record(testRecord(entry, 1200)))

	day2 := time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local)
	rows := readRows(t, FilePath(cfg.Data.DataDirectory, day2))
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-08-29T23:50:00", rows[1][2])

	_, statErr := os.Stat(FilePath(cfg.Data.DataDirectory, entry))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecorder_RestartAppendsToExistingFile(t *testing.T) {
	cfg := testConfig(t)
	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)

	r1, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r1.Record(testRecord(entry, 120)))
	require.NoError(t, r1.Close())

	// 进程重启后继续追加同一日文件，不重写表头
	r2, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r2.Record(testRecord(entry.Add(time.Hour), 60)))
	require.NoError(t, r2.Close())

	rows := readRows(t, FilePath(cfg.Data.DataDirectory, entry))
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
}

func TestRecorder_ConcurrentRecordsEachAppearOnce(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := testRecord(entry.Add(time.Duration(i)*time.Minute), 60)
			record.SeatID = i + 1
			record.SeatName = fmt.Sprintf("座位%d", i+1)
			assert.NoError(t, r.Record(record))
		}(i)
	}
	wg.Wait()

	rows := readRows(t, FilePath(cfg.Data.DataDirectory, entry))
	require.Len(t, rows, n+1)
	seen := make(map[string]bool)
	for _, row := range rows[1:] {
		require.Len(t, row, len(Header))
		assert.False(t, seen[row[0]], "seat %s recorded twice", row[0])
		seen[row[0]] = true
	}
}

type stubMirror struct {
	mu      sync.Mutex
	records []*models.OccupancyRecord
	err     error
}

func (m *stubMirror) InsertRecord(_ context.Context, record *models.OccupancyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func TestRecorder_MirrorFailureDoesNotFailRecord(t *testing.T) {
	cfg := testConfig(t)
	mirror := &stubMirror{err: fmt.Errorf("db down")}
	r, err := New(cfg, mirror, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	require.NoError(t, r.Record(testRecord(entry, 120)))

	// CSV 是权威存储，镜像失败不影响结果
	rows := readRows(t, FilePath(cfg.Data.DataDirectory, entry))
	assert.Len(t, rows, 2)
}

func TestRecorder_MirrorReceivesRecord(t *testing.T) {
	cfg := testConfig(t)
	mirror := &stubMirror{}
	r, err := New(cfg, mirror, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entry := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)
	record := testRecord(entry, 120)
	require.NoError(t, r.Record(record))

	require.Len(t, mirror.records, 1)
	assert.Equal(t, record.RecordID, mirror.records[0].RecordID)
}
