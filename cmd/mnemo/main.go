package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/api"
	"github.com/nidhogg/mnemo/internal/config"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/sim"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting mnemo...")
	if err != nil {
		logger.Warn("config not loaded, using defaults", zap.String("path", cfgPath), zap.Error(err))
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	// Initialize the durable archive
	var archive memory.Archive
	switch cfg.Memory.ArchiveBackend {
	case "sqlite":
		sq, sqErr := memory.NewSQLiteArchive(memory.ArchiveConfig{Path: cfg.Memory.ArchivePath}, logger)
		if sqErr != nil {
			logger.Fatal("failed to open sqlite archive", zap.String("path", cfg.Memory.ArchivePath), zap.Error(sqErr))
		}
		defer sq.Close()
		archive = sq
	case "file":
		archive = memory.NewFileArchive(memory.ArchiveConfig{Path: cfg.Memory.ArchivePath}, logger)
	default:
		logger.Fatal("unknown archive backend", zap.String("backend", cfg.Memory.ArchiveBackend))
	}
	if err := archive.Load(); err != nil {
		logger.Warn("archive load failed, starting empty", zap.Error(err))
	}
	logger.Info("Archive ready",
		zap.String("backend", cfg.Memory.ArchiveBackend),
		zap.Int("entries", archive.Len()))

	// Initialize the memory tiers
	active := memory.NewActiveStore(memory.ActiveConfig{
		MaxSize:   cfg.Memory.ActiveMaxSize,
		MinWeight: cfg.Memory.MinWeightThreshold,
	}, archive, logger)
	sensory := memory.NewSensoryBuffer(cfg.Memory.SensoryCapacity, logger)
	semantic := memory.NewSemanticStore(logger)
	patterns := memory.NewPatternStore(logger)

	hierarchy := memory.NewHierarchy(sensory, active, semantic, patterns, memory.Thresholds{
		SensoryToEpisodic:     cfg.Memory.SensoryToEpisodic,
		EpisodicToSemantic:    cfg.Memory.EpisodicToSemantic,
		SemanticToProcedural:  cfg.Memory.SemanticToProcedural,
		ConsolidationInterval: cfg.Memory.ConsolidationInterval,
	}, logger)

	// Initialize the subjective clock and the maintenance scheduler
	tickInterval := time.Duration(cfg.Clock.TickInterval * float64(time.Second))
	clock := sim.NewClock(tickInterval, cfg.Clock.Speed, logger)
	scheduler := sim.NewScheduler(hierarchy, active, patterns, clock, sim.SchedulerConfig{
		DecayFactor:      cfg.Memory.DecayFactor,
		DecayMinWeight:   cfg.Memory.DecayMinWeight,
		ArchiveMaxAge:    cfg.Memory.ArchiveMaxAge,
		MaintenanceEvery: cfg.Memory.MaintenanceEvery,
	}, logger)
	clock.AddListener(scheduler)
	clock.Start()
	logger.Info("Memory engine started")

	// Build HTTP handler
	handler := api.NewHandler(hierarchy, active, semantic, clock, scheduler, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("mnemo listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mnemo...")
	clock.Stop()
	srv.Shutdown(context.Background())
	if err := archive.Save(); err != nil {
		logger.Error("final archive save failed", zap.Error(err))
	} else {
		logger.Info("Archive saved", zap.Int("entries", archive.Len()))
	}
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	switch level {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
