package out

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
)

const (
	hotSpotProtocolVersion = "1"
	hotSpotMaxArgs         = 3
	hotSpotMaxArgLength    = 1024
	hotSpotReturnCode      = "return code: "
	hotSpotInstrumentLib   = "instrument"

	defaultAttachTimeout = 10 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
)

type HotSpotConfig struct {
	// AttachTimeout bounds the wait for the target to open its attach listener.
	AttachTimeout time.Duration
	PollInterval  time.Duration
	// TmpDir overrides the directories searched for the attach socket.
	TmpDir string
}

// HotSpotController speaks the HotSpot dynamic attach protocol over the
// target's Unix domain socket.
type HotSpotController struct {
	cfg    HotSpotConfig
	logger hclog.Logger
}

func NewHotSpotController(cfg HotSpotConfig, logger hclog.Logger) *HotSpotController {
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = defaultAttachTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HotSpotController{cfg: cfg, logger: logger.Named("hotspot")}
}

// HotSpotFactory adapts NewHotSpotController to the registry.
func HotSpotFactory(cfg HotSpotConfig, logger hclog.Logger) attachout.Factory {
	return func(context.Context) (attachout.Controller, error) {
		return NewHotSpotController(cfg, logger), nil
	}
}

func (c *HotSpotController) Attach(ctx context.Context, processID string) (attachout.Session, error) {
	pid, err := strconv.Atoi(processID)
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidProcessID, processID)
	}
	socketPath, err := c.discover(ctx, pid)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("attach listener found", "pid", pid, "socket", socketPath)
	return &hotSpotSession{socketPath: socketPath, logger: c.logger}, nil
}

func (c *HotSpotController) Close() error {
	return nil
}

// hotSpotSession holds no connection; every command opens its own socket
// connection as the target closes it after replying.
type hotSpotSession struct {
	socketPath string
	logger     hclog.Logger
	detached   bool
}

func (s *hotSpotSession) LoadManaged(ctx context.Context, path string, argument *string) error {
	if path == "" {
		return fmt.Errorf("agent path is required")
	}
	options := path
	if argument != nil {
		options += "=" + *argument
	}
	return s.load(ctx, hotSpotInstrumentLib, false, options)
}

func (s *hotSpotSession) LoadNative(ctx context.Context, path string, argument *string) error {
	if path == "" {
		return fmt.Errorf("agent path is required")
	}
	options := ""
	if argument != nil {
		options = *argument
	}
	return s.load(ctx, path, true, options)
}

func (s *hotSpotSession) Detach(context.Context) error {
	if s.detached {
		return domain.ErrSessionDetached
	}
	s.detached = true
	return nil
}

func (s *hotSpotSession) load(ctx context.Context, library string, absolute bool, options string) error {
	if s.detached {
		return domain.ErrSessionDetached
	}
	reply, err := s.execute(ctx, "load", library, strconv.FormatBool(absolute), options)
	if err != nil {
		return err
	}
	return parseLoadReply(reply)
}

func (s *hotSpotSession) execute(ctx context.Context, command string, args ...string) ([]byte, error) {
	request, err := encodeHotSpotRequest(command, args...)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect attach listener: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("write %s request: %w", command, err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", command, err)
	}
	s.logger.Trace("attach command", "command", command, "reply_bytes", len(reply))
	return reply, nil
}

// encodeHotSpotRequest frames a command as the protocol version, the command
// and exactly three arguments, each terminated by a NUL byte.
func encodeHotSpotRequest(command string, args ...string) ([]byte, error) {
	if len(args) > hotSpotMaxArgs {
		return nil, fmt.Errorf("attach command %s takes at most %d arguments, got %d", command, hotSpotMaxArgs, len(args))
	}
	var buf bytes.Buffer
	buf.WriteString(hotSpotProtocolVersion)
	buf.WriteByte(0)
	buf.WriteString(command)
	buf.WriteByte(0)
	for i := 0; i < hotSpotMaxArgs; i++ {
		arg := ""
		if i < len(args) {
			arg = args[i]
		}
		if len(arg) > hotSpotMaxArgLength {
			return nil, fmt.Errorf("attach argument %d exceeds %d bytes", i, hotSpotMaxArgLength)
		}
		if strings.IndexByte(arg, 0) >= 0 {
			return nil, fmt.Errorf("attach argument %d contains a NUL byte", i)
		}
		buf.WriteString(arg)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

var errEmptyReply = errors.New("target did not respond")

// parseLoadReply reads the completion status line and then the agent's
// return code, which older targets send bare and newer ones prefix.
func parseLoadReply(reply []byte) error {
	text := string(reply)
	if strings.TrimSpace(text) == "" {
		return errEmptyReply
	}
	statusLine, rest, _ := strings.Cut(text, "\n")
	status, err := strconv.Atoi(strings.TrimSpace(statusLine))
	if err != nil {
		return fmt.Errorf("malformed attach reply %q", statusLine)
	}
	rest = strings.TrimSpace(rest)
	if status != 0 {
		if rest == "" {
			return fmt.Errorf("target rejected load with status %d", status)
		}
		return fmt.Errorf("target rejected load with status %d: %s", status, rest)
	}
	if rest == "" {
		return nil
	}
	first, _, _ := strings.Cut(rest, "\n")
	code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(first, hotSpotReturnCode)))
	if err != nil {
		return fmt.Errorf("target reported: %s", rest)
	}
	if code != 0 {
		return fmt.Errorf("%w: return code %d", domain.ErrAgentInit, code)
	}
	return nil
}
