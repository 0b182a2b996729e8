package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/api"
	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/data"
	"fleetsync/internal/logger"
	"fleetsync/internal/store"
	syncpkg "fleetsync/internal/sync"
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

	logger.Log.Info("Starting fleetsync agent")

	// Init Durable Store
	st, err := store.NewStore(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer st.Close()

	// Backend client
	be := backend.NewClient(cfg.Backend)

	// Sync Coordinator
	coord := syncpkg.NewCoordinator(st, be, cfg.Sync)
	if err := coord.Init(context.Background()); err != nil {
		logger.Log.Fatal("Failed to init sync coordinator", zap.Error(err))
	}
	coord.Subscribe(func(e syncpkg.Event) {
		switch e.Type {
		case syncpkg.EventSynced:
			logger.Log.Info("Sync complete", zap.Int("synced", e.Count))
		case syncpkg.EventSyncFailed:
			logger.Log.Error("Sync pass failed", zap.Error(e.Err))
		case syncpkg.EventQueued:
			logger.Log.Info("Mutation queued", zap.Int("pending", e.Count))
		}
	})

	// Connectivity Monitor
	probeURL := cfg.Connectivity.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Backend.BaseURL + "/health"
	}
	prober := syncpkg.NewHTTPProber(probeURL, cfg.Backend.GetTimeout())
	monitor := syncpkg.NewMonitor(coord, prober, cfg.Connectivity.GetInterval())
	monitor.Start()
	defer monitor.Stop()

	if cfg.Sync.DrainOnStart && coord.IsOnline() {
		go func() {
			if err := coord.Drain(context.Background()); err != nil {
				logger.Log.Error("Startup drain failed", zap.Error(err))
			}
		}()
	}

	// Data-Access Facade
	facade := data.NewFacade(st, be, coord, cfg.Sync)

	// Scheduler
	scheduler := syncpkg.NewScheduler(cfg.Scheduler, coord, facade.WarmCache)
	scheduler.Start()
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(cfg.Server, coord, facade, st)
	router := handler.Routes()

	// Start Server
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
