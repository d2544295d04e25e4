package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"allowance/internal/auth"
	"allowance/internal/cache"
	"allowance/internal/cli"
	"allowance/internal/config"
	apphttp "allowance/internal/http"
	applog "allowance/internal/log"
	"allowance/internal/services"
)

const viewCacheSize = 256

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)

	// A nil *amqp.Client must not become a non-nil interface.
	var publisher services.Publisher
	if res.Publisher != nil {
		publisher = res.Publisher
	} else {
		logger.Info("AMQP disabled - ledger events will be picked up by the worker's pending pass")
	}

	views := services.NewViewService(res.Store, viewCacheSize, cfg.ViewCacheTTL, logger)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(views.Cache())
	cacheManager.StartCleanup(cfg.ViewCacheTTL)

	srv := apphttp.NewServer(cfg.Addr(), apphttp.Deps{
		Store:      res.Store,
		Auth:       auth.NewService(res.Store, cfg.SessionTTL, logger),
		Ledger:     services.NewLedgerService(res.Store, publisher, views, logger),
		Households: services.NewHouseholdService(res.Store, logger),
		Views:      views,
		Logger:     logger,
		BaseURL:    cfg.BaseURL,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting allowance server", "addr", cfg.Addr(), "backend", cfg.DataBackend, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", applog.FieldError, err, "addr", cfg.Addr())
			exitCode = 1
		}
	}

	cli.Shutdown(logger, 30*time.Second, func(ctx context.Context) error {
		err := srv.Shutdown(ctx)
		cacheManager.Stop()
		return errors.Join(err, res.Cleanup())
	})
	os.Exit(exitCode)
}
