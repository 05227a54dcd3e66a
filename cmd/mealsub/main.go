// Package main запускает HTTP-сервер сервиса подписок на питание.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/mealsub-system/internal/catalog"
	"github.com/mmeshcher/mealsub-system/internal/config"
	"github.com/mmeshcher/mealsub-system/internal/handler"
	"github.com/mmeshcher/mealsub-system/internal/middleware"
	"github.com/mmeshcher/mealsub-system/internal/repository"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

// store — хранилище, которое одновременно служит каталогом меню.
type store interface {
	service.Repository
	service.Catalog
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var menu service.Catalog = repo
	if cfg.MenuCatalogAddress != "" {
		menu = catalog.NewClient(cfg.MenuCatalogAddress)
	} else if cfg.DatabaseURI == "" {
		sugar.Warn("no database and no menu catalog configured, catalog is empty")
	}

	loc, _ := cfg.Location()
	renewal, _ := cfg.RenewalDay()

	svc := service.NewService(repo, menu, logger, service.Options{
		Location:         loc,
		RenewalWeekday:   renewal,
		DeliveryHour:     cfg.DeliveryHour,
		LoyaltyMilestone: cfg.LoyaltyMilestone,
		LoyaltyReward:    cfg.LoyaltyReward,
		ReferralReward:   cfg.ReferralReward,
	})
	defer svc.Close()

	if cfg.AdminLogin != "" {
		if err := svc.EnsureAdmin(context.Background(), cfg.AdminLogin, cfg.AdminPassword); err != nil {
			sugar.Fatalw("admin bootstrap error", "error", err.Error())
		}
		sugar.Infow("admin account ready", "login", cfg.AdminLogin)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Ежедневный биллинг внутри процесса, если задан интервал
	g.Go(func() error {
		svc.StartDailyBilling(ctx, cfg.DailyBillingInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting mealsub server",
			"addr", cfg.RunAddress,
			"renewal_weekday", string(renewal),
			"timezone", loc.String(),
		)
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

func openStore(cfg *config.Config) (store, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}
