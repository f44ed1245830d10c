package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/api"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/cache"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/database"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/store"
	syncpkg "github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting ward sync agent", zap.String("ward", cfg.Ward.ID))

	// Durable storage for the offline queue
	var kv store.KV
	if cfg.Queue.StoragePath != "" {
		kv, err = store.NewSQLiteKV(cfg.Queue.StoragePath)
		if err != nil {
			logger.Log.Fatal("Failed to open queue storage", zap.Error(err))
		}
	} else {
		logger.Log.Warn("No queue storage path configured, offline queue will not survive restarts")
		kv = store.NewMemoryKV()
	}
	defer kv.Close()

	mutationQueue := queue.New(kv, cfg.Queue.GetStorageKey(), cfg.Queue.GetMaxSize(), cfg.Queue.GetMaxRetries())

	// Remote backend
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to connect to backend", zap.Error(err))
	}
	defer db.Close()

	// Connectivity
	monitor := connectivity.NewMonitor(cfg.Connectivity.GetIndicatorDelay())
	defer monitor.Close()

	if cfg.Connectivity.ProbeEnabled {
		prober := connectivity.NewProber(monitor, db,
			cfg.Connectivity.GetProbeInterval(), cfg.Connectivity.GetProbeTimeout())
		if err := prober.Start(); err != nil {
			logger.Log.Fatal("Failed to start connectivity prober", zap.Error(err))
		}
		defer prober.Stop()
	}

	// Cache invalidation
	invMap := cache.NewInvalidationMap(cfg.Sync.Tables)
	invalidator := cache.LoggingInvalidator{}

	// Change feed sync
	feed := syncpkg.NewBinlogFeed(cfg.Database, cfg.Sync)
	feedSync := syncpkg.NewFeedSync(feed, invMap, invalidator, monitor, cfg.Sync.GetPollInterval())
	feedSync.Start()
	feedSync.SetWard(cfg.Ward.ID)
	defer feedSync.Stop()

	// Offline queue drain
	drainer := syncpkg.NewDrainer(mutationQueue, db, invMap, invalidator, monitor, cfg.Sync.Tables)
	drainer.Start()
	defer drainer.Stop()

	// Write path
	writer := syncpkg.NewWriter(db, mutationQueue, monitor, invMap, invalidator, cfg.Sync.Tables)

	// HTTP API
	handler := api.NewHandler(feedSync, drainer, writer, mutationQueue, monitor, cfg.Server.AuthToken)
	router := handler.Routes()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	server.Close()
}
