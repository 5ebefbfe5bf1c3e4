// Package app assembles the engine from configuration so the API server and
// the operator CLI run the same components.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/Dan9191/loan-service/internal/autopay"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/integrations/authnet"
	"github.com/Dan9191/loan-service/internal/integrations/commerce"
	"github.com/Dan9191/loan-service/internal/metrics"
	"github.com/Dan9191/loan-service/internal/rails"
	"github.com/Dan9191/loan-service/internal/reminder"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/Dan9191/loan-service/internal/scheduler"
	"github.com/Dan9191/loan-service/internal/service"
	"github.com/Dan9191/loan-service/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type App struct {
	Store        repository.Store
	Metrics      *metrics.Collector
	Dispatcher   *rails.Dispatcher
	Orchestrator *autopay.Orchestrator
	Reminders    *reminder.Engine
	Scheduler    *scheduler.Scheduler
	Service      *service.Service
}

// NewLogger returns a JSON logrus logger at the given level, defaulting to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// OpenDB opens and pings Postgres.
func OpenDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// New wires every component on top of store. Rails without credentials are
// left unconfigured and fail their charges with a reason.
func New(cfg *config.Config, store repository.Store, logger *logrus.Logger) (*App, error) {
	collector := metrics.NewCollector()
	sender := email.NewSender(cfg, logger)

	var card rails.CardRail
	if cfg.AuthNetLoginID != "" {
		card = authnet.NewClient(cfg, logger)
	} else {
		logger.Warn("Card rail credentials missing, card charges will fail")
	}
	var crypto rails.CryptoRail
	if cfg.CryptoAPIKey != "" {
		crypto = commerce.NewClient(cfg, logger)
	} else {
		logger.Warn("Crypto rail credentials missing, crypto charges will fail")
	}
	dispatcher := rails.NewDispatcher(card, crypto, cfg.EncryptionKey, cfg.RailTimeout, collector, logger)

	orchestrator := autopay.NewOrchestrator(store, dispatcher, sender, cfg.Timezone, logger,
		autopay.WithWorkers(cfg.AutoPayWorkers),
		autopay.WithNotifyTimeout(cfg.NotifyTimeout),
		autopay.WithObserver(collector),
	)
	reminders := reminder.NewEngine(store, sender, cfg.Timezone, logger,
		reminder.WithWorkers(cfg.AutoPayWorkers),
		reminder.WithNotifyTimeout(cfg.NotifyTimeout),
		reminder.WithObserver(collector),
	)

	sched, err := scheduler.New(cfg, reminders, orchestrator, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Store:        store,
		Metrics:      collector,
		Dispatcher:   dispatcher,
		Orchestrator: orchestrator,
		Reminders:    reminders,
		Scheduler:    sched,
		Service:      service.NewService(store, sched, orchestrator, reminders, logger, cfg),
	}, nil
}
