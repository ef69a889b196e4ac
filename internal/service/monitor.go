package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/camera"
	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/engine"
	"github.com/linyi1130/Lcm-monitor251004/internal/matcher"
	"github.com/linyi1130/Lcm-monitor251004/internal/publisher"
	"github.com/linyi1130/Lcm-monitor251004/internal/recorder"
	"github.com/linyi1130/Lcm-monitor251004/internal/report"
	"github.com/linyi1130/Lcm-monitor251004/internal/repository"
	"github.com/linyi1130/Lcm-monitor251004/internal/webserver"
)

// MonitorService 座位监控服务：组装流水线各组件并管理生命周期
type MonitorService struct {
	cfg    *config.Config
	logger *zap.Logger

	source   camera.Source
	matcher  *matcher.Matcher
	recorder *recorder.Recorder
	engine   *engine.Engine
	web      *webserver.Server

	db      *sql.DB
	redis   *publisher.StatusPublisher
	mqttPub *publisher.MQTTPublisher
}

// NewMonitorService 按配置组装监控服务
// Redis/MQTT/数据库均为可选下游，未启用时对应组件为 nil
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{cfg: cfg, logger: logger}

	source, err := camera.NewSnapshotSource(&cfg.Camera, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame source: %w", err)
	}
	s.source = source

	m, err := matcher.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}
	s.matcher = m

	var mirror recorder.Mirror
	if cfg.Database.Enabled {
		db, err := repository.Open(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		mirror = repository.NewOccupancyRepository(db, logger)
		logger.Info("Database record mirror enabled", zap.String("host", cfg.Database.Host))
	}

	rec, err := recorder.New(cfg, mirror, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	s.recorder = rec

	reports, err := report.NewGenerator(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create report generator: %w", err)
	}

	var status engine.StatusSink
	if cfg.Redis.Enabled {
		rp, err := publisher.NewStatusPublisher(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		s.redis = rp
		status = rp
		logger.Info("Redis status publishing enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var events engine.EventSink
	if cfg.MQTT.Enabled {
		mp, err := publisher.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt publisher: %w", err)
		}
		s.mqttPub = mp
		events = mp
	}

	frames := publisher.NewFrameSlot()
	s.engine = engine.New(cfg, s.source, s.matcher, s.recorder, reports, frames, status, events, logger)
	s.web = webserver.New(cfg, frames, s.engine, logger)

	return s, nil
}

// Run 运行服务直到 ctx 取消或引擎失败，退出前优雅关闭全部组件
func (s *MonitorService) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.matcher.Start(runCtx)

	engineErr := make(chan error, 1)
	go func() { engineErr <- s.engine.Run(runCtx) }()

	webErr := make(chan error, 1)
	go func() { webErr <- s.web.Start() }()

	var runErr error
	engineDone, webDone := false, false
	select {
	case <-runCtx.Done():
	case runErr = <-engineErr:
		engineDone = true
		if runErr != nil {
			s.logger.Error("Monitor engine failed", zap.Error(runErr))
		}
	case runErr = <-webErr:
		webDone = true
		if runErr != nil {
			s.logger.Error("Web server failed", zap.Error(runErr))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.web.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Web server shutdown failed", zap.Error(err))
	}

	// 引擎退出前会保存快照并生成当日报告，等它收尾
	if !engineDone {
		<-engineErr
	}
	if !webDone {
		<-webErr
	}
	s.matcher.Stop()

	s.close()
	s.logger.Info("Monitor service stopped")
	return runErr
}

// close 释放全部外部资源
func (s *MonitorService) close() {
	if err := s.recorder.Close(); err != nil {
		s.logger.Warn("Failed to close recorder", zap.Error(err))
	}
	if err := s.source.Close(); err != nil {
		s.logger.Warn("Failed to close frame source", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if s.mqttPub != nil {
		s.mqttPub.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
