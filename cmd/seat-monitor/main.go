package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/linyi1130/Lcm-monitor251004/internal/config"
	"github.com/linyi1130/Lcm-monitor251004/internal/logger"
	"github.com/linyi1130/Lcm-monitor251004/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting seat monitor",
		zap.Int("seats", len(cfg.Seats)),
		zap.Int("web_port", cfg.Web.Port),
		zap.Bool("face_recognition", cfg.Detection.FaceRecognitionEnabled),
	)

	svc, err := service.NewMonitorService(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize monitor service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Error("Monitor service exited with error", zap.Error(err))
		os.Exit(1)
	}
}
