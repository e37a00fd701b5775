// Package supervisor runs the ingest sources, the engine loops and the
// output services under a suture tree, so a failing source or sink is
// restarted with backoff without taking the engine down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"rfwatch/internal/config"
)

// Tree layers:
//   - ingest: REST, TCP stream, file tail and Kafka producers
//   - core: engine input loop, housekeeping, config watcher
//   - output: API, storage recorder, MQTT publisher
type Tree struct {
	root   *suture.Supervisor
	ingest *suture.Supervisor
	core   *suture.Supervisor
	output *suture.Supervisor
	logger *slog.Logger
}

func NewTree(logger *slog.Logger, cfg config.SupervisorConfig) *Tree {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay <= 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	rootSpec := suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logger}).MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("rfwatch", rootSpec)
	ingest := suture.New("ingest-layer", childSpec)
	core := suture.New("core-layer", childSpec)
	output := suture.New("output-layer", childSpec)
	root.Add(core)
	root.Add(ingest)
	root.Add(output)

	return &Tree{root: root, ingest: ingest, core: core, output: output, logger: logger}
}

func (t *Tree) AddIngest(svc suture.Service) suture.ServiceToken { return t.ingest.Add(svc) }

func (t *Tree) AddCore(svc suture.Service) suture.ServiceToken { return t.core.Add(svc) }

func (t *Tree) AddOutput(svc suture.Service) suture.ServiceToken { return t.output.Add(svc) }

// Serve blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
