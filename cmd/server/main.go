package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/adapter/handler"
	"github.com/nmoreno/biblioteca/internal/adapter/notify"
	"github.com/nmoreno/biblioteca/internal/adapter/storage"
	"github.com/nmoreno/biblioteca/internal/config"
	"github.com/nmoreno/biblioteca/internal/core/service"
	"github.com/nmoreno/biblioteca/internal/port"
	"github.com/nmoreno/biblioteca/internal/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.InitSchema(ctx, db); err != nil {
		logger.Fatalf("failed to init schema: %v", err)
	}
	logger.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to connect redis: %v", err)
	}
	logger.Info("connected to redis")

	// Adapters
	loanRepo := storage.NewMySQLAdapter(db)
	directory := storage.NewMySQLDirectory(db)
	guard := storage.NewRedisGuard(rdb)

	// Core
	loans := service.NewLoanService(loanRepo, directory, directory, guard, port.SystemClock(), service.Limits{
		FinePerDay:       cfg.FinePerDay,
		MaxOpenLoans:     cfg.MaxActiveLoans,
		MaxRenewals:      cfg.MaxRenewals,
		MaxLoanDays:      cfg.MaxLoanDays,
		RenewDefaultDays: cfg.RenewDefaultDays,
	}, logger)

	// Overdue sweep
	var mailer worker.Mailer
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SenderEmail,
		}, logger)
	}
	sweeper := worker.NewOverdueSweeper(loans, directory, mailer, logger)
	if cfg.SweepSchedule != "" {
		if err := sweeper.Start(cfg.SweepSchedule); err != nil {
			logger.Fatalf("failed to start overdue sweep: %v", err)
		}
		logger.Infof("overdue sweep scheduled: %s", cfg.SweepSchedule)
	}

	// HTTP
	loanHandler := handler.NewLoanHandler(loans, logger)
	auth := handler.NewAuthenticator(directory, cfg.JWTSecret, 24*time.Hour, logger)
	router := handler.NewRouter(loanHandler, auth, cfg.JWTSecret)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	if cfg.SweepSchedule != "" {
		sweeper.Stop()
		logger.Info("overdue sweep stopped")
	}

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
