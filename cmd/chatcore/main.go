package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/driftpro/chatcore/api"
	"github.com/driftpro/chatcore/api/validator"
	"github.com/driftpro/chatcore/chat"
	"github.com/driftpro/chatcore/config"
	"github.com/driftpro/chatcore/mailer"
	"github.com/driftpro/chatcore/memstore"
	"github.com/driftpro/chatcore/metrics"
	"github.com/driftpro/chatcore/postgres"
	"github.com/driftpro/chatcore/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err.Error())
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.App.LogLevel),
	})).With("service", cfg.App.Name)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service failed", "error", err.Error())
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rec := metrics.New()
	opts := chat.Options{
		Logger:        logger,
		Metrics:       rec,
		FanoutWorkers: cfg.Fanout.Workers,
		EmailTimeout:  cfg.Fanout.EmailTimeout,
		PresenceTTL:   cfg.Redis.PresenceTTL,
	}
	if cfg.Fanout.EmailRate > 0 {
		opts.EmailLimiter = rate.NewLimiter(rate.Limit(cfg.Fanout.EmailRate), max(cfg.Fanout.EmailBurst, 1))
	}

	var store chat.Store
	switch cfg.App.Store {
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Connected to PostgreSQL")
		store, opts.Directory = pg, pg
	default:
		logger.Warn("Using the in-memory store; data is lost on restart")
		store, opts.Directory = memstore.New(), memstore.NewDirectory(nil)
	}

	var stream chat.Subscriber
	if cfg.Redis.Addr != "" {
		rds, err := redis.Connect(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			return err
		}
		defer rds.Close()
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		opts.Publisher, opts.Presence, stream = rds, rds, rds
	} else {
		broker := memstore.NewBroker()
		opts.Publisher, opts.Presence, stream = broker, memstore.NewPresence(), broker
	}

	if cfg.NATS.URL != "" {
		m, err := mailer.Connect(mailer.Config{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return err
		}
		defer m.Close()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
		opts.Email = m
	} else {
		logger.Warn("NATS is not configured; email notifications are skipped")
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: &api.API{
			Logger:  logger,
			Core:    chat.New(store, opts),
			Stream:  stream,
			Metrics: rec.Handler(),
			Val:     validator.New(),
		},
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Service stopped")
	return nil
}
