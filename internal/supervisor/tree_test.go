package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

type flakyService struct {
	starts  atomic.Int32
	running chan struct{}
}

func (s *flakyService) Serve(ctx context.Context) error {
	if s.starts.Add(1) == 1 {
		return errors.New("first start fails")
	}
	close(s.running)
	<-ctx.Done()
	return ctx.Err()
}

func (s *flakyService) String() string { return "flaky" }

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(nil, config.SupervisorConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &flakyService{running: make(chan struct{})}
	tree.AddIngest(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-svc.running:
	case <-time.After(2 * time.Second):
		t.Fatalf("service was not restarted, starts=%d", svc.starts.Load())
	}
	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("tree did not stop")
	}
	if svc.starts.Load() != 2 {
		t.Fatalf("expected two starts, got %d", svc.starts.Load())
	}
}

type fakeLoop struct {
	got chan model.Input
}

func (f *fakeLoop) Run(ctx context.Context, in <-chan model.Input) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-in:
			f.got <- msg
		}
	}
}

func TestEngineServiceConsumesInput(t *testing.T) {
	in := make(chan model.Input, 1)
	loop := &fakeLoop{got: make(chan model.Input, 1)}
	svc := NewEngineService(loop, in)
	if svc.String() != "engine" {
		t.Fatalf("unexpected name %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	in <- model.Input{Kind: model.InputLocation}
	select {
	case msg := <-loop.got:
		if msg.Kind != model.InputLocation {
			t.Fatalf("unexpected input %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("input not consumed")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigWatchServiceStops(t *testing.T) {
	svc := NewConfigWatchService(config.NewStaticManager(nil), 10*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("config watcher did not stop")
	}
}
