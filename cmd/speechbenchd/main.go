package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/metriclabs/speechbench/internal/bus"
	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/engine"
	"github.com/metriclabs/speechbench/internal/natsserver"
	"github.com/metriclabs/speechbench/internal/recognition"
	"github.com/metriclabs/speechbench/internal/runtime"
	"github.com/metriclabs/speechbench/internal/store"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "speechbench.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		bootstrap.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Telemetry.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		busClient *bus.Client
		publisher recognition.Publisher
	)
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(ctx, cfg.Bus, logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer busClient.Close()
		publisher = bus.NewEventPublisher(busClient)
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry, err := engine.Build(cfg.Engines, logger)
	if err != nil {
		return fmt.Errorf("build engine registry: %w", err)
	}
	logger.Info("engines loaded", slog.Any("names", registry.Names()))

	orch := recognition.New(st, registry, publisher, logger)

	if busClient != nil {
		dispatcher, err := bus.StartDispatcher(ctx, busClient, orch, logger)
		if err != nil {
			return fmt.Errorf("start dispatcher: %w", err)
		}
		defer dispatcher.Close()
	}

	rt := runtime.New(cfg, logger)
	if busClient != nil {
		rt.AddReadyCheck(busClient.Healthy)
	}
	return rt.Start(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
