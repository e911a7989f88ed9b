// Package main запускает HTTP-сервер сервиса пожертвований.
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
	"golang.org/x/sync/errgroup"

	"github.com/sahayata/donation-system/internal/config"
	"github.com/sahayata/donation-system/internal/handler"
	"github.com/sahayata/donation-system/internal/middleware"
	"github.com/sahayata/donation-system/internal/repository"
	"github.com/sahayata/donation-system/internal/service"
	"github.com/sahayata/donation-system/internal/upi"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Infow("no database URI provided, using in-memory store")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	var links *upi.LinkBuilder
	if cfg.UPIPayeeAddress != "" {
		links, err = upi.NewLinkBuilder(cfg.UPIPayeeAddress, cfg.UPIPayeeName)
		if err != nil {
			sugar.Fatalw("payment link configuration error", "error", err.Error())
		}
	}

	svc := service.NewService(repo, links, logger)
	defer svc.Close()

	secret := cfg.AuthSecret
	if secret == "" {
		secret = "donation-system-secret"
	}
	authMiddleware := middleware.NewAuthMiddleware(secret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой сверки итогов реестра
	g.Go(func() error {
		svc.StartLedgerAudit(ctx, time.Minute)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting donation server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
