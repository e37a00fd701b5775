package ingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

const fileSource = "file_tail"

// FileTailSource follows JSON-lines capture files, replaying recorded scans
// or tracking a file another process appends to.
type FileTailSource struct {
	cfg    *config.Manager
	out    chan<- model.Input
	logger *slog.Logger
}

func NewFileTailSource(cfg *config.Manager, out chan<- model.Input, logger *slog.Logger) *FileTailSource {
	return &FileTailSource{cfg: cfg, out: out, logger: logger}
}

func (s *FileTailSource) String() string { return "file-tail-ingest" }

func (s *FileTailSource) Serve(ctx context.Context) error {
	current := s.cfg.Get().Ingest.FileTail
	var wg sync.WaitGroup
	for _, path := range current.Files {
		if s.logger != nil {
			s.logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			s.tailFile(ctx, path, current.StartAtEnd)
		}(path)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *FileTailSource) tailFile(ctx context.Context, path string, startAtEnd bool) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					// keep an unterminated tail for the next read
					partial = append(partial, chunk...)
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						// truncated or rotated
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if s.logger != nil {
					s.logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := append(partial, chunk...)
			partial = nil
			offset += int64(len(line))
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			_, _ = Dispatch(ctx, fileSource, line, s.cfg.Get(), s.out, s.logger)
		}
	}
}
