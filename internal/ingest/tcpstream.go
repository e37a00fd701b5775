package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

const tcpSource = "tcp_stream"

// TCPStreamSource reads newline-delimited JSON messages from TCP clients.
type TCPStreamSource struct {
	cfg    *config.Manager
	out    chan<- model.Input
	logger *slog.Logger
}

func NewTCPStreamSource(cfg *config.Manager, out chan<- model.Input, logger *slog.Logger) *TCPStreamSource {
	return &TCPStreamSource{cfg: cfg, out: out, logger: logger}
}

func (s *TCPStreamSource) String() string { return "tcp-stream-ingest" }

func (s *TCPStreamSource) Serve(ctx context.Context) error {
	addr := s.cfg.Get().Ingest.TCPStream.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp stream listen %s: %w", addr, err)
	}
	if s.logger != nil {
		s.logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	return s.serveListener(ctx, ln)
}

func (s *TCPStreamSource) serveListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			if s.logger != nil {
				s.logger.Warn("tcp stream accept error", "err", err)
			}
			if !BackoffSleep(ctx, 0) {
				return ctx.Err()
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *TCPStreamSource) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		_, _ = Dispatch(ctx, tcpSource, line, s.cfg.Get(), s.out, s.logger)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && s.logger != nil {
		s.logger.Warn("tcp stream scanner error", "err", err)
	}
}
