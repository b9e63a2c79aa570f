package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/config"
	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/httpapi"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/mcp"
	"github.com/dshills/audira-commerce/internal/notify"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const readHeaderTimeout = 5 * time.Second

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Audira Commerce\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Log to stderr (stdout carries the MCP protocol in mcp mode)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any(logkey.Error, err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("audira commerce starting",
		slog.String("version", version),
		slog.String("mode", string(cfg.Mode)),
		slog.String("build_mode", storage.BuildMode),
		slog.String("driver", storage.DriverName))

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	gw, err := gateway.New(gateway.Config{Provider: cfg.Gateway, StripeKey: cfg.StripeKey})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	logger.Info("payment gateway ready", slog.String(logkey.Gateway, gw.Name()))

	orderSvc := orders.NewService(store, notifier, logger)
	paymentSvc := payments.NewService(store, orderSvc, gw, notifier, logger)
	coordinator, err := checkout.NewCoordinator(orderSvc, paymentSvc, logger, cfg.IdempotencySize)
	if err != nil {
		return err
	}

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case config.ModeMCP:
		server, err := mcp.NewServer(mcp.Config{
			Storage:     store,
			Orders:      orderSvc,
			Payments:    paymentSvc,
			Coordinator: coordinator,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		logger.Info("MCP server ready, listening on stdio")
		if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	default:
		api := httpapi.NewServer(httpapi.Config{
			Orders:        orderSvc,
			Payments:      paymentSvc,
			Coordinator:   coordinator,
			WebhookSecret: cfg.WebhookSecret,
			Logger:        logger,
		})
		return serveHTTP(ctx, cfg, api.Routes(), logger)
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		errChan <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newNotifier always logs events and also produces them to Kafka when brokers are configured
func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	logNotifier := notify.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) == 0 {
		return logNotifier, func() {}, nil
	}

	kafka, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize notifications: %w", err)
	}
	logger.Info("publishing lifecycle events to kafka",
		slog.String("topic", cfg.KafkaTopic),
		slog.Int("brokers", len(cfg.KafkaBrokers)))

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := kafka.Close(ctx); err != nil {
			logger.Warn("kafka flush incomplete", slog.Any(logkey.Error, err))
		}
	}
	return notify.Multi{logNotifier, kafka}, closeFn, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
