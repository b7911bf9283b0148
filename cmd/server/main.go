package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"whisp.share/config"
	"whisp.share/internal/api"
	"whisp.share/internal/blob"
	"whisp.share/internal/lifecycle"
	"whisp.share/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	st := initStore(cfg, logger)
	defer st.Close()

	blobs, err := blob.New(blob.Options{
		Dir:             cfg.Storage.Dir,
		MaxPayloadSize:  cfg.Storage.MaxPayloadSize,
		RequireVolatile: cfg.Storage.RequireVolatile,
	})
	if err != nil {
		logger.Fatal("blob storage error", zap.Error(err))
	}

	manager := lifecycle.NewManager(lifecycle.Config{
		MinTTL:         cfg.Secrets.MinTTL,
		MaxTTL:         cfg.Secrets.MaxTTL,
		MaxPayloadSize: cfg.Storage.MaxPayloadSize,
		OrphanGrace:    cfg.Sweeper.OrphanGrace,
	}, st, blobs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := lifecycle.NewSweeper(manager, cfg.Sweeper.Interval, logger)
	go sweeper.Run(ctx)

	router := api.SetupRouter(manager, cfg, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("store", cfg.Store.Type),
		zap.String("storage_dir", cfg.Storage.Dir),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initStore(cfg *config.Config, logger *zap.Logger) store.Store {
	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		return st
	default:
		return store.NewMemoryStore()
	}
}
