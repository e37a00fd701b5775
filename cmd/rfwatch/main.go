package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rfwatch/internal/alerts"
	"rfwatch/internal/api"
	"rfwatch/internal/config"
	"rfwatch/internal/engine"
	"rfwatch/internal/ingest"
	"rfwatch/internal/logging"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
	"rfwatch/internal/notify"
	"rfwatch/internal/storage"
	"rfwatch/internal/supervisor"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "rfwatch.yaml", "Path to configuration file (YAML or JSON)")
	reloadEvery := flag.Duration("reload-interval", 3*time.Second, "How often to check the config file for changes")
	flag.Parse()

	if err := run(*configPath, *reloadEvery); err != nil {
		fmt.Fprintln(os.Stderr, "rfwatch:", err)
		os.Exit(1)
	}
}

func run(configPath string, reloadEvery time.Duration) error {
	manager, err := loadManager(configPath)
	if err != nil {
		return err
	}
	cfg := manager.Get()
	logger, level := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting rfwatch", "version", version, "config", manager.Path())

	eng := engine.NewEngine(cfg, logger,
		alerts.NewStore(cfg.Alerts.StoreLimit),
		alerts.NewTimeline(cfg.Alerts.TimelineLimit),
		metrics.NewStore(cfg.Metrics.StoreLimit))

	inputs := make(chan model.Input, cfg.Ingest.ChannelBuffer)
	tree := supervisor.NewTree(logger, cfg.Supervisor)

	tree.AddCore(supervisor.NewEngineService(eng, inputs))
	tree.AddCore(supervisor.NewHousekeepingService(eng, func() time.Duration {
		return manager.Get().Detection.HousekeepingInterval
	}))
	if manager.Path() != "" {
		tree.AddCore(supervisor.NewConfigWatchService(manager, reloadEvery, func(next *config.Config) {
			level.Set(logging.ParseLevel(next.LogLevel))
			eng.UpdateConfig(next)
		}, logger))
	}

	if cfg.Ingest.REST.Enabled {
		tree.AddIngest(ingest.NewRESTSource(manager, inputs, logger))
	}
	if cfg.Ingest.TCPStream.Enabled {
		tree.AddIngest(ingest.NewTCPStreamSource(manager, inputs, logger))
	}
	if cfg.Ingest.FileTail.Enabled {
		tree.AddIngest(ingest.NewFileTailSource(manager, inputs, logger))
	}
	if cfg.Ingest.Kafka.Enabled {
		tree.AddIngest(ingest.NewKafkaSource(manager, inputs, logger))
	}

	var records api.RecordReader
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		records = store
		tree.AddOutput(storage.NewRecorder(store, eng, cfg.Storage.StatusInterval, logger))
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	if cfg.MQTT.Enabled {
		publisher, err := notify.NewPublisher(cfg.MQTT, eng, logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		tree.AddOutput(publisher)
		logger.Info("mqtt enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	}

	if cfg.API.Enabled {
		tree.AddOutput(api.NewServer(manager, eng, records, logger, version))
	} else {
		logger.Info("api disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor tree error", "err", err)
	}
	eng.Stop()

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logger.Warn("service failed to stop", "service", svc.Name)
	}
	logger.Info("rfwatch stopped")
	return nil
}

// loadManager falls back to built-in defaults when no config file exists.
func loadManager(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	manager, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return manager, nil
}
