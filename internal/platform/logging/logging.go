package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"

	"attacher/internal/platform/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger. Without a log file every entry is dropped,
// keeping the attach helper silent towards its caller.
func New(name string, cfg config.Config) (hclog.Logger, io.Closer, error) {
	if cfg.LogFile == "" || cfg.LogLevel == "off" {
		return hclog.NewNullLogger(), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: f,
	})
	return logger, f, nil
}
