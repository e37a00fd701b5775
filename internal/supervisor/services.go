package supervisor

import (
	"context"
	"log/slog"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

// InputLoop is the engine's queue consumer.
type InputLoop interface {
	Run(ctx context.Context, in <-chan model.Input) error
}

type Housekeeper interface {
	RunHousekeeping(ctx context.Context, interval time.Duration) error
}

type EngineService struct {
	engine InputLoop
	in     <-chan model.Input
}

func NewEngineService(engine InputLoop, in <-chan model.Input) *EngineService {
	return &EngineService{engine: engine, in: in}
}

func (s *EngineService) Serve(ctx context.Context) error { return s.engine.Run(ctx, s.in) }

func (s *EngineService) String() string { return "engine" }

type HousekeepingService struct {
	engine   Housekeeper
	interval func() time.Duration
}

// NewHousekeepingService reads the interval on every (re)start so a config
// reload takes effect after the next restart of the loop.
func NewHousekeepingService(engine Housekeeper, interval func() time.Duration) *HousekeepingService {
	return &HousekeepingService{engine: engine, interval: interval}
}

func (s *HousekeepingService) Serve(ctx context.Context) error {
	return s.engine.RunHousekeeping(ctx, s.interval())
}

func (s *HousekeepingService) String() string { return "housekeeping" }

// ConfigWatchService polls the config file and hands every successful reload
// to onReload.
type ConfigWatchService struct {
	manager  *config.Manager
	interval time.Duration
	onReload func(*config.Config)
	logger   *slog.Logger
}

func NewConfigWatchService(manager *config.Manager, interval time.Duration, onReload func(*config.Config), logger *slog.Logger) *ConfigWatchService {
	return &ConfigWatchService{manager: manager, interval: interval, onReload: onReload, logger: logger}
}

func (s *ConfigWatchService) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	s.manager.Watch(s.interval, func(cfg *config.Config) {
		if s.logger != nil {
			s.logger.Info("config reloaded", "path", s.manager.Path())
		}
		if s.onReload != nil {
			s.onReload(cfg)
		}
	}, func(err error) {
		if s.logger != nil {
			s.logger.Error("config reload failed", "err", err)
		}
	}, stop)
	return ctx.Err()
}

func (s *ConfigWatchService) String() string { return "config-watch" }
