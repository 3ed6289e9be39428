package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "rafflebot/pkg/logx"
)

// fileStore appends one human readable line per result.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, r Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := strings.ReplaceAll(r.Line(), "\n", " ")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("result log closed")
	}
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		return err
	}
	s.log.Debug("result appended", logx.String("line", line))
	return nil
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]Result, 0, n)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

func parseLine(line string) (Result, bool) {
	i := strings.LastIndex(line, " winner is ")
	if i < 0 {
		return Result{}, false
	}
	r := Result{Prize: line[:i], Winner: line[i+len(" winner is "):], Outcome: OutcomeClaimed}
	if r.Winner == NoEntries {
		r.Outcome = OutcomeNoEntries
	}
	return r, true
}
