package out

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	controllerrpc "attacher/internal/modules/attach/adapter/out/rpc"
	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultCallTimeout  = 5 * time.Second
)

// GRPCHost launches controller plugins through go-plugin.
type GRPCHost struct {
	logger       hclog.Logger
	startTimeout time.Duration
}

func NewGRPCHost(logger hclog.Logger) *GRPCHost {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &GRPCHost{logger: logger.Named("plugin"), startTimeout: defaultStartTimeout}
}

var _ attachout.Host = (*GRPCHost)(nil)

func (h *GRPCHost) CheckLifecycle(ctx context.Context, manifest domain.Manifest) error {
	_, err := h.GetMetadata(ctx, manifest)
	return err
}

func (h *GRPCHost) GetMetadata(ctx context.Context, manifest domain.Manifest) (domain.Metadata, error) {
	client, closeFn, err := h.connect(manifest)
	if err != nil {
		return domain.Metadata{}, err
	}
	defer closeFn()

	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	return fetchMetadata(callCtx, client)
}

// Open starts the plugin and keeps it running until the returned controller
// is closed. The plugin must report the attach capability.
func (h *GRPCHost) Open(ctx context.Context, manifest domain.Manifest) (attachout.Controller, error) {
	client, closeFn, err := h.connect(manifest)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	meta, err := fetchMetadata(callCtx, client)
	if err != nil {
		closeFn()
		return nil, err
	}
	reported := domain.Manifest{Capabilities: meta.Capabilities}
	if !reported.HasCapability(domain.CapabilityAttach) {
		closeFn()
		return nil, fmt.Errorf("%w: %s reports no %s", domain.ErrCapabilityMissing, manifest.Name, domain.CapabilityAttach)
	}
	return &PluginController{manifest: manifest, client: client, closeFn: closeFn}, nil
}

func (h *GRPCHost) connect(manifest domain.Manifest) (controllerrpc.ControllerClient, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  controllerrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          controllerrpc.PluginMap(nil),
		Cmd:              exec.Command(manifest.Binary),
		Managed:          true,
		StartTimeout:     h.startTimeout,
		Logger:           h.logger.Named(manifest.Name),
	})
	closeFn := func() { client.Kill() }

	rpcClient, err := client.Client()
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("start controller plugin: %w", err)
	}
	raw, err := rpcClient.Dispense(controllerrpc.PluginMapKey)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("dispense controller plugin: %w", err)
	}
	typed, ok := raw.(controllerrpc.ControllerClient)
	if !ok {
		closeFn()
		return nil, nil, fmt.Errorf("controller rpc client type mismatch: %T", raw)
	}
	return typed, closeFn, nil
}

func fetchMetadata(ctx context.Context, client controllerrpc.ControllerClient) (domain.Metadata, error) {
	meta, err := client.GetMetadata(ctx)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("get metadata: %w", err)
	}
	capabilities := make([]domain.Capability, 0, len(meta.Capabilities))
	for _, capability := range meta.Capabilities {
		capabilities = append(capabilities, domain.Capability(capability))
	}
	return domain.Metadata{Name: meta.Name, Version: meta.Version, Capabilities: capabilities}, nil
}

func callContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// PluginController drives a running controller plugin. Attach, load and
// detach calls carry no deadline of their own.
type PluginController struct {
	manifest  domain.Manifest
	client    controllerrpc.ControllerClient
	closeFn   func()
	closeOnce sync.Once
}

func (c *PluginController) Attach(ctx context.Context, processID string) (attachout.Session, error) {
	resp, err := c.client.Attach(ctx, &controllerrpc.AttachRequest{ProcessID: processID})
	if err != nil {
		return nil, fmt.Errorf("plugin %s attach: %w", c.manifest.Name, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("plugin %s returned an empty session id", c.manifest.Name)
	}
	return &pluginSession{controller: c, sessionID: resp.SessionID}, nil
}

func (c *PluginController) Close() error {
	c.closeOnce.Do(c.closeFn)
	return nil
}

type pluginSession struct {
	controller *PluginController
	sessionID  string
	detached   bool
}

func (s *pluginSession) LoadManaged(ctx context.Context, path string, argument *string) error {
	return s.load(ctx, domain.LoadManaged, path, argument)
}

func (s *pluginSession) LoadNative(ctx context.Context, path string, argument *string) error {
	return s.load(ctx, domain.LoadNative, path, argument)
}

func (s *pluginSession) load(ctx context.Context, mode domain.LoadMode, path string, argument *string) error {
	if s.detached {
		return domain.ErrSessionDetached
	}
	manifest := s.controller.manifest
	if capability := domain.CapabilityFor(mode); !manifest.HasCapability(capability) {
		return fmt.Errorf("%w: %s", domain.ErrCapabilityMissing, capability)
	}
	req := &controllerrpc.LoadRequest{
		SessionID: s.sessionID,
		Path:      path,
		Native:    mode == domain.LoadNative,
	}
	if argument != nil {
		req.Argument = *argument
		req.HasArgument = true
	}
	if err := s.controller.client.Load(ctx, req); err != nil {
		return fmt.Errorf("plugin %s load: %w", manifest.Name, err)
	}
	return nil
}

func (s *pluginSession) Detach(ctx context.Context) error {
	if s.detached {
		return domain.ErrSessionDetached
	}
	s.detached = true
	if err := s.controller.client.Detach(ctx, &controllerrpc.DetachRequest{SessionID: s.sessionID}); err != nil {
		return fmt.Errorf("plugin %s detach: %w", s.controller.manifest.Name, err)
	}
	return nil
}
