package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/loan-service/internal/app"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/handler"
	"github.com/Dan9191/loan-service/internal/repository"
)

func main() {
	// Initialize logger
	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := app.OpenDB(cfg)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer db.Close()
	if err := repository.Migrate(context.Background(), db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize layers
	engine, err := app.New(cfg, repository.NewRepository(db), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize engine: %v", err)
	}
	h := handler.NewHandler(engine.Service, db, logger)

	// Start scheduler
	engine.Scheduler.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(cfg, engine.Metrics.Handler()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual sweeps answer synchronously
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := engine.Scheduler.Stop(ctx); err != nil {
		logger.Errorf("Scheduler shutdown failed: %v", err)
	}
}
