package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

const restSource = "rest"

// RESTSource accepts POSTed scan, location and link messages.
type RESTSource struct {
	cfg    *config.Manager
	out    chan<- model.Input
	logger *slog.Logger
}

func NewRESTSource(cfg *config.Manager, out chan<- model.Input, logger *slog.Logger) *RESTSource {
	return &RESTSource{cfg: cfg, out: out, logger: logger}
}

func (s *RESTSource) String() string { return "rest-ingest" }

func (s *RESTSource) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Serve listens until ctx is done.
func (s *RESTSource) Serve(ctx context.Context) error {
	addr := s.cfg.Get().Ingest.REST.Addr
	if s.logger != nil {
		s.logger.Info("rest ingest enabled", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("rest ingest server error", "err", err)
			}
			return err
		}
		return nil
	}
}

func (s *RESTSource) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := Dispatch(r.Context(), restSource, body, s.cfg.Get(), s.out, s.logger)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}
	status := http.StatusAccepted
	switch {
	case res.Accepted == 0 && res.Dropped > 0:
		status = http.StatusServiceUnavailable
	case res.Accepted == 0 && res.Invalid > 0:
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
