package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	controllerrpc "attacher/internal/modules/attach/adapter/out/rpc"
)

// server is a reference controller. It attaches to any live local process
// and accepts every agent that exists on disk without loading it.
type server struct {
	logger hclog.Logger

	mu       sync.Mutex
	sessions map[string]int
}

func (s *server) GetMetadata(_ context.Context, _ *controllerrpc.Empty) (*controllerrpc.Metadata, error) {
	return &controllerrpc.Metadata{
		Name:         "reference",
		Version:      "1.0.0",
		Capabilities: []string{"attach", "load_managed", "load_native"},
	}, nil
}

func (s *server) Attach(_ context.Context, in *controllerrpc.AttachRequest) (*controllerrpc.AttachResponse, error) {
	pid, err := strconv.Atoi(in.ProcessID)
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("invalid process id %q", in.ProcessID)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)

	s.mu.Lock()
	s.sessions[id] = pid
	s.mu.Unlock()
	s.logger.Info("attached", "pid", pid, "session", id)
	return &controllerrpc.AttachResponse{SessionID: id}, nil
}

func (s *server) Load(_ context.Context, in *controllerrpc.LoadRequest) (*controllerrpc.Empty, error) {
	pid, ok := s.session(in.SessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", in.SessionID)
	}
	if _, err := os.Stat(in.Path); err != nil {
		return nil, fmt.Errorf("agent %s: %w", in.Path, err)
	}
	s.logger.Info("agent accepted", "pid", pid, "path", in.Path, "native", in.Native, "has_argument", in.HasArgument)
	return &controllerrpc.Empty{}, nil
}

func (s *server) Detach(_ context.Context, in *controllerrpc.DetachRequest) (*controllerrpc.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[in.SessionID]; !ok {
		return nil, fmt.Errorf("unknown session %s", in.SessionID)
	}
	delete(s.sessions, in.SessionID)
	s.logger.Info("detached", "session", in.SessionID)
	return &controllerrpc.Empty{}, nil
}

func (s *server) session(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid, ok := s.sessions[id]
	return pid, ok
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Level:      hclog.Info,
		Output:     os.Stderr,
		JSONFormat: true,
	})
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: controllerrpc.HandshakeConfig,
		Plugins:         controllerrpc.PluginMap(&server{logger: logger, sessions: map[string]int{}}),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
